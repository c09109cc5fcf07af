package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/vpnfleet/vpnfleet/internal/fleetctl/client"
)

var apiURL string

var rootCmd = &cobra.Command{
	Use:   "fleetctl",
	Short: "Manage the VPN server fleet",
	Long: `fleetctl talks to a running fleetd instance to provision and tear
down ephemeral WireGuard servers and manage their peers.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	defaultURL := os.Getenv("VPNFLEET_API_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8080"
	}
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", defaultURL, "fleetd API base URL")
}

func apiClient() *client.Client {
	return client.New(apiURL)
}
