package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

type nodeRecordBody struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	NodeType     string   `json:"node_type"`
	OwnerID      string   `json:"owner_id"`
	Status       string   `json:"status"`
	Capabilities []string `json:"capabilities"`
}

type nodesListResponse struct {
	Nodes []nodeRecordBody `json:"nodes"`
}

type pairResponseBody struct {
	Token string `json:"token"`
}

// buildNodeCmd creates the "node" command group, a thin client over the
// gateway's /v1/nodes admin surface.
func buildNodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "node",
		Short: "Manage paired nodes on a running gateway",
	}
	cmd.PersistentFlags().String("addr", "http://127.0.0.1:8080", "Gateway base URL")
	cmd.PersistentFlags().String("admin-token", "", "Admin bearer token (default $SA_ADMIN_TOKEN)")

	cmd.AddCommand(buildNodeListCmd())
	cmd.AddCommand(buildNodePairCmd())
	cmd.AddCommand(buildNodeRevokeCmd())
	return cmd
}

func adminClientFor(cmd *cobra.Command) (*apiClient, error) {
	addr, err := cmd.Flags().GetString("addr")
	if err != nil {
		return nil, err
	}
	token, err := cmd.Flags().GetString("admin-token")
	if err != nil {
		return nil, err
	}
	if token == "" {
		token = resolveAdminToken()
	}
	return newAPIClient(addr, token), nil
}

func resolveAdminToken() string {
	return os.Getenv("SA_ADMIN_TOKEN")
}

func buildNodeListCmd() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List paired nodes",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := adminClientFor(cmd)
			if err != nil {
				return err
			}
			path := "/v1/nodes"
			if owner != "" {
				path += "?owner_id=" + owner
			}
			var resp nodesListResponse
			if err := client.get(cmd.Context(), path, &resp); err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tTYPE\tSTATUS\tCAPABILITIES")
			for _, n := range resp.Nodes {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", n.ID, n.Name, n.NodeType, n.Status, strings.Join(n.Capabilities, ","))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Filter by owner id")
	return cmd
}

func buildNodePairCmd() *cobra.Command {
	var (
		nodeID       string
		capabilities []string
	)
	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Issue a pairing token for a new node",
		RunE: func(cmd *cobra.Command, args []string) error {
			if nodeID == "" {
				return fmt.Errorf("--id is required")
			}
			client, err := adminClientFor(cmd)
			if err != nil {
				return err
			}
			var resp pairResponseBody
			req := map[string]any{"node_id": nodeID, "capabilities": capabilities}
			if err := client.post(cmd.Context(), "/v1/nodes/pair", req, &resp); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Token)
			return nil
		},
	}
	cmd.Flags().StringVar(&nodeID, "id", "", "Node id to pair")
	cmd.Flags().StringSliceVar(&capabilities, "capability", nil, "Capability prefix to grant (repeatable)")
	return cmd
}

func buildNodeRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke [id]",
		Short: "Revoke a paired node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := adminClientFor(cmd)
			if err != nil {
				return err
			}
			var resp map[string]string
			if err := client.delete(cmd.Context(), "/v1/nodes/"+args[0], &resp); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp["status"])
			return nil
		},
	}
	return cmd
}
