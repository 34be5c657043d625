package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "List recently published articles",
	Args:  cobra.NoArgs,
	RunE:  runFeed,
}

var readCmd = &cobra.Command{
	Use:   "read <cid>",
	Short: "Print a published article",
	Args:  cobra.ExactArgs(1),
	RunE:  runRead,
}

var attestCmd = &cobra.Command{
	Use:   "attest",
	Short: "Show the server's execution environment attestation",
	Args:  cobra.NoArgs,
	RunE:  runAttest,
}

func runFeed(cmd *cobra.Command, _ []string) error {
	articles, err := newAPI().Feed(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(articles) == 0 {
		fmt.Fprintln(out, "No articles published yet.")
		return nil
	}
	for _, a := range articles {
		fmt.Fprintf(out, "%s  %3d%%  %s\n", a.CID, a.ConfidenceScore, a.Title)
		if a.Subtitle != "" {
			fmt.Fprintf(out, "    %s\n", a.Subtitle)
		}
	}
	return nil
}

func runRead(cmd *cobra.Command, args []string) error {
	resp, err := newAPI().Article(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	v := resp.Article
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "# %s\n", v.Title)
	if v.Subtitle != "" {
		fmt.Fprintf(out, "%s\n", v.Subtitle)
	}
	fmt.Fprintf(out, "\nConfidence: %d%%  %s\n", v.Confidence, v.ConfidenceReason)
	fmt.Fprintf(out, "Source: %s (%s)\n", v.SourceCredential, v.VerificationMethod)
	fmt.Fprintf(out, "Proof hash: %s\n", v.ProofHash)
	if len(v.Tags) > 0 {
		fmt.Fprintf(out, "Tags: %s\n", strings.Join(v.Tags, ", "))
	}
	fmt.Fprintf(out, "\n%s\n", v.Body)
	if resp.GatewayURL != "" {
		fmt.Fprintf(out, "\nRaw document: %s\n", resp.GatewayURL)
	}
	return nil
}

func runAttest(cmd *cobra.Command, _ []string) error {
	report, err := newAPI().Attestation(cmd.Context())
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
