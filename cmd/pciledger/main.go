// Command pciledger is the pciledger CLI: offline PCI computation and a
// client for the pciledgerd REST API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/pciledger/internal/version"
)

const defaultServer = "http://localhost:9090"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// options are the persistent flags shared by the client commands.
type options struct {
	server  string
	token   string
	account string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "pciledger",
		Short:         "PCI cost estimation ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.server, "server", envOr("PCILEDGER_SERVER", defaultServer), "pciledgerd URL")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("PCILEDGER_TOKEN"), "JWT auth token (or $PCILEDGER_TOKEN)")
	root.PersistentFlags().StringVar(&opts.account, "account", "", "settings account id")

	root.AddCommand(
		newVersionCmd(),
		newComputeCmd(),
		newLoginCmd(opts),
		newStatusCmd(opts),
		newTasksCmd(opts),
		newKPIsCmd(opts),
		newTrendsCmd(opts),
		newExportCmd(opts),
	)
	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pciledger %s (commit %s, built %s)\n",
				version.Version, version.Commit, version.BuildDate)
		},
	}
}

// Client holds HTTP client state for CLI commands.
type Client struct {
	BaseURL    string
	Token      string
	Account    string
	HTTPClient *http.Client
}

func (o *options) client() *Client {
	return &Client{
		BaseURL:    strings.TrimRight(o.server, "/"),
		Token:      o.token,
		Account:    o.account,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// send performs a request and returns the response when the status is
// below 400. The caller closes the body.
func (c *Client) send(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		rd = strings.NewReader(string(b))
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	if c.Account != "" {
		req.Header.Set("X-Account-ID", c.Account)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close() //nolint:errcheck
		var e struct {
			Error string `json:"error"`
		}
		b, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(b, &e) == nil && e.Error != "" {
			return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, e.Error)
		}
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return resp, nil
}

// call performs a JSON request and decodes the response into v (may be nil).
func (c *Client) call(ctx context.Context, method, path string, body, v any) error {
	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck
	if v == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show server status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var result map[string]string
			if err := opts.client().call(cmd.Context(), http.MethodGet, "/api/status", nil, &result); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "status:  %s\n", result["status"])
			fmt.Fprintf(out, "version: %s\n", result["version"])
			fmt.Fprintf(out, "uptime:  %s\n", result["uptime"])
			return nil
		},
	}
}

func newLoginCmd(opts *options) *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Obtain an API token",
		Long: `Log in with the admin credentials and print a token.

Export it for later commands:
  export PCILEDGER_TOKEN=$(pciledger login -u admin -p secret)`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if password == "" {
				password = os.Getenv("PCILEDGER_PASSWORD")
			}
			var resp struct {
				Token string `json:"token"`
			}
			req := map[string]string{"username": username, "password": password}
			if err := opts.client().call(cmd.Context(), http.MethodPost, "/api/auth/login", req, &resp); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Token)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "admin", "admin username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "admin password (or $PCILEDGER_PASSWORD)")
	return cmd
}
