package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"sovereign-journalist/internal/client"
)

var serverURL string

var rootCmd = &cobra.Command{
	Use:   "sjctl",
	Short: "Talk to a Sovereign Journalist server",
	Long: `sjctl drives the source flow from a terminal: verify a proof bundle,
hold an interview, review the draft and publish it. Session material stays in
memory and is erased when the article is published or the program exits.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("SJ_SERVER", "http://localhost:3000"), "server base URL")
	rootCmd.AddCommand(interviewCmd, feedCmd, readCmd, attestCmd)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newAPI() *client.API {
	return client.NewAPI(serverURL, &http.Client{Timeout: 3 * time.Minute})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
