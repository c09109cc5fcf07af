package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vpnfleet/vpnfleet/pkg/api"
)

var (
	createProvider string
	createRegion   string
	createPlan     string
	createWait     bool
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Manage fleet servers",
}

var serverCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Provision a new VPN server",
	Long: `Request a new VPN server. Provisioning runs in the background;
with --wait the command polls until the server is active or failed.

Examples:
  fleetctl server create --provider hetzner --region fsn1 --plan cx22
  fleetctl server create --provider vultr --region ewr --plan vc2-1c-1gb --wait`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		srv, err := apiClient().CreateServer(ctx, api.CreateServerRequest{
			Provider: createProvider,
			Region:   createRegion,
			Plan:     createPlan,
		})
		if err != nil {
			return err
		}

		fmt.Printf("Server %s requested (%s/%s, plan %s)\n", srv.ID, srv.Provider, srv.Region, srv.Plan)

		if !createWait {
			fmt.Printf("Check progress with: fleetctl server status %s\n", srv.ID)
			return nil
		}
		return waitForActive(ctx, srv.ID)
	},
}

var serverListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all servers in the fleet",
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := apiClient().ListServers(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tPROVIDER\tREGION\tSTATUS\tPUBLIC IP\tCREATED")
		for _, srv := range list.Servers {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				srv.ID, srv.Provider, srv.Region, srv.Status,
				orDash(srv.PublicIP), srv.CreatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

var serverStatusCmd = &cobra.Command{
	Use:   "status <server-id>",
	Short: "Show one server's status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		srv, err := apiClient().GetServer(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printServer(srv)
		return nil
	},
}

var serverDestroyCmd = &cobra.Command{
	Use:   "destroy <server-id>",
	Short: "Tear down a server and its instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient().DestroyServer(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Server %s destroyed\n", args[0])
		return nil
	},
}

var serverRetryCmd = &cobra.Command{
	Use:   "retry <server-id>",
	Short: "Re-run the pipeline for a failed server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		srv, err := apiClient().RetryServer(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printServer(srv)
		return nil
	},
}

func waitForActive(ctx context.Context, id string) error {
	fmt.Print("Waiting for server to become active")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
		}

		srv, err := apiClient().GetServer(ctx, id)
		if err != nil {
			return err
		}
		switch srv.Status {
		case "active":
			fmt.Println()
			printServer(srv)
			return nil
		case "error":
			fmt.Println()
			return fmt.Errorf("provisioning failed: %s", srv.ErrorCause)
		default:
			fmt.Print(".")
		}
	}
}

func printServer(srv *api.ServerInfo) {
	fmt.Printf("ID:          %s\n", srv.ID)
	fmt.Printf("Provider:    %s\n", srv.Provider)
	fmt.Printf("Region:      %s\n", srv.Region)
	fmt.Printf("Plan:        %s\n", srv.Plan)
	fmt.Printf("Status:      %s\n", srv.Status)
	fmt.Printf("Public IP:   %s\n", orDash(srv.PublicIP))
	fmt.Printf("Listen port: %d\n", srv.ListenPort)
	fmt.Printf("Subnet:      %s\n", srv.SubnetCIDR)
	if srv.ErrorCause != "" {
		fmt.Printf("Error:       %s\n", srv.ErrorCause)
	}
	if srv.LastActivityAt != nil {
		fmt.Printf("Last activity: %s\n", srv.LastActivityAt.Format(time.RFC3339))
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.AddCommand(serverCreateCmd, serverListCmd, serverStatusCmd, serverDestroyCmd, serverRetryCmd)

	serverCreateCmd.Flags().StringVar(&createProvider, "provider", "", "cloud provider (hetzner, vultr, linode)")
	serverCreateCmd.Flags().StringVar(&createRegion, "region", "", "provider region")
	serverCreateCmd.Flags().StringVar(&createPlan, "plan", "", "instance plan or type")
	serverCreateCmd.Flags().BoolVar(&createWait, "wait", false, "poll until the server is active")
	_ = serverCreateCmd.MarkFlagRequired("provider")
	_ = serverCreateCmd.MarkFlagRequired("region")
	_ = serverCreateCmd.MarkFlagRequired("plan")
}
