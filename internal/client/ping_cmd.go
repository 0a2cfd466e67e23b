package client

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(pingCmd)
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the relay is reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		healthURL, err := HealthURL(cfg.ServerURL)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Pinging %s...\n", healthURL)
		start := time.Now()
		client := &http.Client{Timeout: 5 * time.Second}
		resp, err := client.Get(healthURL)
		if err != nil {
			return fmt.Errorf("failed to ping relay: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("relay returned status: %s", resp.Status)
		}
		fmt.Fprintf(out, "Pong! Relay is reachable (Latency: %v)\n", time.Since(start))
		return nil
	},
}

// HealthURL maps the relay websocket URL to its liveness probe.
func HealthURL(wsURL string) (string, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported server URL scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/ws") + "/"
	u.RawQuery = ""
	return u.String(), nil
}
