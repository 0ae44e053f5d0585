package client

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"text/tabwriter"
	"time"

	"github.com/rzbill/tether/internal/queue"
	"github.com/rzbill/tether/internal/relay"
	"github.com/spf13/cobra"
)

// NewQueueCommand returns `queue` with list, sync and drop subcommands.
func NewQueueCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{Use: "queue", Short: "Inspect and drive the offline write queue"}
	cmd.AddCommand(newQueueListCommand(baseURL), newQueueSyncCommand(baseURL), newQueueDropCommand(baseURL))
	return cmd
}

func newQueueListCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tenants with a backlog, or one tenant's pending writes",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, _ := cmd.Flags().GetString("tenant")
			limit, _ := cmd.Flags().GetInt("limit")
			asJSON, _ := cmd.Flags().GetBool("json")
			out := cmd.OutOrStdout()

			if tenantID == "" {
				var resp struct {
					Tenants []struct {
						Tenant  string `json:"tenant"`
						Pending int    `json:"pending"`
					} `json:"tenants"`
				}
				if _, err := call(cmd.Context(), baseURL, http.MethodGet, "/queue", nil, &resp, nil); err != nil {
					return err
				}
				if asJSON {
					return printJSON(out, resp)
				}
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "TENANT\tPENDING")
				for _, t := range resp.Tenants {
					fmt.Fprintf(tw, "%s\t%d\n", t.Tenant, t.Pending)
				}
				return tw.Flush()
			}

			q := url.Values{"tenant": {tenantID}}
			if limit > 0 {
				q.Set("limit", fmt.Sprint(limit))
			}
			var resp struct {
				Tenant  string                `json:"tenant"`
				Total   int                   `json:"total"`
				Pending []queue.QueuedRequest `json:"pending"`
			}
			if _, err := call(cmd.Context(), baseURL, http.MethodGet, "/queue?"+q.Encode(), nil, &resp, nil); err != nil {
				return err
			}
			if asJSON {
				rows := make([]map[string]any, 0, len(resp.Pending))
				for _, r := range resp.Pending {
					rows = append(rows, map[string]any{
						"id": r.ID, "method": r.Method, "endpoint": r.Endpoint,
						"timestamp": r.Timestamp, "payload": decodedPayload(r.Payload),
					})
				}
				return printJSON(out, map[string]any{"tenant": resp.Tenant, "total": resp.Total, "pending": rows})
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tMETHOD\tENDPOINT\tQUEUED AT")
			for _, r := range resp.Pending {
				at := time.UnixMilli(r.Timestamp).UTC().Format(time.RFC3339)
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.Method, r.Endpoint, at)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if resp.Total > len(resp.Pending) {
				fmt.Fprintf(out, "... %d more\n", resp.Total-len(resp.Pending))
			}
			return nil
		},
	}
	cmd.Flags().String("tenant", "", "Tenant id (omit to list every tenant with a backlog)")
	cmd.Flags().Int("limit", 0, "Show at most this many records")
	cmd.Flags().Bool("json", false, "Print JSON")
	return cmd
}

func newQueueSyncCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Replay one tenant's queue now",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, _ := cmd.Flags().GetString("tenant")
			if tenantID == "" {
				return fmt.Errorf("--tenant is required")
			}
			// a stopped pass answers 502 with {"result":...,"error":...}
			stopped := func(code int) bool { return code == http.StatusBadGateway }
			var raw json.RawMessage
			code, err := call(cmd.Context(), baseURL, http.MethodPost, "/sync", map[string]string{"tenant": tenantID}, &raw, stopped)
			if err != nil {
				return err
			}
			var res relay.Result
			var partial struct {
				Result relay.Result `json:"result"`
				Error  string       `json:"error"`
			}
			if code == http.StatusBadGateway {
				if err := json.Unmarshal(raw, &partial); err != nil {
					return err
				}
				res = partial.Result
			} else if err := json.Unmarshal(raw, &res); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "tenant=%s replayed=%d remaining=%d drained=%t\n", res.TenantID, res.Replayed, res.Remaining, res.Drained)
			if !res.Drained {
				return fmt.Errorf("replay stopped at %s: %s", res.FailedID, partial.Error)
			}
			return nil
		},
	}
	cmd.Flags().String("tenant", "", "Tenant id")
	return cmd
}

func newQueueDropCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drop",
		Short: "Discard one queued write without replaying it",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _ := cmd.Flags().GetString("id")
			if id == "" {
				return fmt.Errorf("--id is required")
			}
			if _, err := call(cmd.Context(), baseURL, http.MethodDelete, "/queue/"+url.PathEscape(id), nil, nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "dropped %s\n", id)
			return nil
		},
	}
	cmd.Flags().String("id", "", "Record id")
	return cmd
}
