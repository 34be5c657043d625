package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"sovereign-journalist/internal/apperr"
	"sovereign-journalist/internal/client"
)

var proofsFile string

var interviewCmd = &cobra.Command{
	Use:   "interview",
	Short: "Verify a proof bundle and give an interview",
	Long: `Verifies the proofs in --proofs, then reads your answers from stdin.

Commands inside the interview:
  /draft    generate (or regenerate) the article from the transcript
  /publish  publish the current draft and erase the session
  /quit     abandon the interview and erase the session`,
	Args: cobra.NoArgs,
	RunE: runInterview,
}

func init() {
	interviewCmd.Flags().StringVar(&proofsFile, "proofs", "", "JSON file with the proof bundle")
	_ = interviewCmd.MarkFlagRequired("proofs")
}

// readProofs accepts either a bare proof array or an object with a proofs
// field.
func readProofs(path string) (json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var wrapped struct {
			Proofs json.RawMessage `json:"proofs"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		return wrapped.Proofs, nil
	}
	return data, nil
}

func runInterview(cmd *cobra.Command, _ []string) error {
	proofs, err := readProofs(proofsFile)
	if err != nil {
		return err
	}
	return interviewLoop(cmd.Context(), newAPI(), proofs, cmd.InOrStdin(), cmd.OutOrStdout(), sleepFor)
}

func interviewLoop(ctx context.Context, backend client.Backend, proofs json.RawMessage, in io.Reader, out io.Writer, sleep func(context.Context, time.Duration) error) error {
	m := client.NewMachine(backend,
		client.WithCountdown(func(remaining time.Duration) {
			fmt.Fprintf(out, "rate limited, retrying in %ds\n", int(remaining.Seconds()))
		}),
		client.WithSleep(sleep),
	)
	defer m.Abandon()

	if err := m.StartVerification(); err != nil {
		return err
	}
	if err := m.SubmitProofs(ctx, proofs); err != nil {
		return fmt.Errorf("verification failed: %w", err)
	}
	cred, _ := m.Credential()
	fmt.Fprintf(out, "Verified via %s. Answer the journalist's questions; /draft when done.\n", cred.Provider)

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64<<10), 1<<20)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if m.State() == client.StateError {
			_ = m.Retry()
		}

		var err error
		switch line {
		case "/quit":
			fmt.Fprintln(out, "Session erased.")
			return nil
		case "/draft":
			err = printDraft(ctx, m, out)
		case "/publish":
			var cid string
			cid, err = m.Publish(ctx)
			if err == nil {
				fmt.Fprintf(out, "Published: %s\nSession erased.\n", cid)
				return nil
			}
		default:
			_, err = m.Ask(ctx, line, func(delta string) { fmt.Fprint(out, delta) })
			fmt.Fprintln(out)
		}

		if err == nil {
			continue
		}
		if errors.Is(err, apperr.ErrUnauthorized) {
			return fmt.Errorf("session expired or invalid, verify again: %w", err)
		}
		fmt.Fprintf(out, "error: %v\n", err)
	}
}

func printDraft(ctx context.Context, m *client.Machine, out io.Writer) error {
	doc, err := m.Generate(ctx)
	if err != nil {
		return err
	}
	a := doc.Article
	fmt.Fprintf(out, "\n# %s\n%s\n\n%s\n\n", a.Title, a.Subtitle, a.Body)
	if a.Confidence != nil {
		fmt.Fprintf(out, "Confidence: %d%%  %s\n", *a.Confidence, a.ConfidenceReason)
	}
	fmt.Fprintln(out, "/publish to publish, /draft to regenerate, or keep answering.")
	return nil
}

func sleepFor(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
