package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	apiURL  string
	apiKey  string
	rawJSON bool
	api     *client
)

var rootCmd = &cobra.Command{
	Use:   "healthwatch",
	Short: "Query and control a healthwatch daemon",
	Long: `healthwatch talks to the daemon's HTTP API.

Read commands need a public or admin key, control commands an admin key.
Set them with --key or API_KEY.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		api = newClient(apiURL, apiKey)
	},
	SilenceUsage: true,
}

func init() {
	defaultURL := os.Getenv("API_BASE")
	if defaultURL == "" {
		defaultURL = "http://localhost:8080"
	}
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", defaultURL, "healthwatch API URL")
	rootCmd.PersistentFlags().StringVar(&apiKey, "key", os.Getenv("API_KEY"), "API key")
	rootCmd.PersistentFlags().BoolVar(&rawJSON, "json", false, "print raw JSON")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "✖", err)
		os.Exit(1)
	}
}
