package client

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"
)

// NewCacheCommand returns `cache` with the purge subcommand.
func NewCacheCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{Use: "cache", Short: "Manage the offline read cache"}
	cmd.AddCommand(newCachePurgeCommand(baseURL))
	return cmd
}

func newCachePurgeCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Drop one tenant's cached read responses",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, _ := cmd.Flags().GetString("tenant")
			if tenantID == "" {
				return fmt.Errorf("--tenant is required")
			}
			var resp struct {
				Purged int `json:"purged"`
			}
			q := url.Values{"tenant": {tenantID}}
			if _, err := call(cmd.Context(), baseURL, http.MethodDelete, "/cache?"+q.Encode(), nil, &resp, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d cached responses for %s\n", resp.Purged, tenantID)
			return nil
		},
	}
	cmd.Flags().String("tenant", "", "Tenant id")
	return cmd
}
