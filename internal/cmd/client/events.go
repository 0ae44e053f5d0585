package client

import (
	"bufio"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
)

// NewEventsCommand returns `events`, which tails sync-complete events over SSE.
func NewEventsCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Tail sync-complete events",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, _ := cmd.Flags().GetString("tenant")
			limit, _ := cmd.Flags().GetInt("limit")
			target := strings.TrimRight(baseURL(), "/") + adminPath + "/events"
			if tenantID != "" {
				target += "?" + url.Values{"tenant": {tenantID}}.Encode()
			}
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, target, nil)
			if err != nil {
				return err
			}
			req.Header.Set("Accept", "text/event-stream")
			// no client timeout: the stream is long-lived
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return &apiError{Status: resp.StatusCode, Body: resp.Status}
			}
			sc := bufio.NewScanner(resp.Body)
			seen := 0
			for sc.Scan() {
				line := sc.Text()
				data, ok := strings.CutPrefix(line, "data: ")
				if !ok {
					continue
				}
				fmt.Fprintln(cmd.OutOrStdout(), data)
				seen++
				if limit > 0 && seen >= limit {
					return nil
				}
			}
			if cmd.Context().Err() != nil {
				return nil
			}
			return sc.Err()
		},
	}
	cmd.Flags().String("tenant", "", "Only show events for this tenant")
	cmd.Flags().Int("limit", 0, "Exit after this many events")
	return cmd
}
