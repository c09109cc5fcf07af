package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var peerOutputFile string

var peerCmd = &cobra.Command{
	Use:   "peer",
	Short: "Manage peers on a server",
}

var peerAddCmd = &cobra.Command{
	Use:   "add <server-id> <name>",
	Short: "Add a peer and print its WireGuard client config",
	Long: `Add a named peer to an active server. The printed config embeds the
peer's private key; it is generated once and not stored server-side.

Examples:
  fleetctl peer add 4f7c alice
  fleetctl peer add 4f7c alice -o alice.conf`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := apiClient().AddPeer(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}

		fmt.Fprintf(os.Stderr, "Peer %s added with address %s\n",
			resp.Peer.Name, resp.Peer.AssignedAddress)

		if peerOutputFile != "" {
			if err := os.WriteFile(peerOutputFile, []byte(resp.ClientConfig), 0600); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
			fmt.Fprintf(os.Stderr, "Client config written to %s\n", peerOutputFile)
			return nil
		}

		fmt.Print(resp.ClientConfig)
		return nil
	},
}

var peerListCmd = &cobra.Command{
	Use:   "list <server-id>",
	Short: "List the peers on a server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := apiClient().ListPeers(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tADDRESS\tPUBLIC KEY\tCREATED")
		for _, p := range list.Peers {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				p.Name, p.AssignedAddress, p.PublicKey, p.CreatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

var peerConfigCmd = &cobra.Command{
	Use:   "config <server-id> <name>",
	Short: "Print the client config of an existing peer",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := apiClient().GetPeerConfig(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Print(config)
		return nil
	},
}

var peerRemoveCmd = &cobra.Command{
	Use:   "remove <server-id> <name>",
	Short: "Revoke a peer",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient().RemovePeer(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("Peer %s removed from server %s\n", args[1], args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(peerCmd)
	peerCmd.AddCommand(peerAddCmd, peerListCmd, peerConfigCmd, peerRemoveCmd)

	peerAddCmd.Flags().StringVarP(&peerOutputFile, "output", "o", "", "write the client config to a file instead of stdout")
}
