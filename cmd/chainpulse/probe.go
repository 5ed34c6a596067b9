package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/chainpulse/chainpulse/internal/config"
)

var (
	probeTimeout time.Duration
	probeFormat  string
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Probe configured upstream targets once and report status",
	Long: `Probe every health target and service primary from the config file,
reporting reachability and latency. Useful before deploys and when
diagnosing dashboard outages.

Example usage:
  chainpulse probe                 # table output
  chainpulse probe --format=json   # JSON output
  chainpulse probe --timeout=10s   # slower upstreams`,
	RunE: runProbe,
}

func init() {
	probeCmd.Flags().DurationVar(&probeTimeout, "timeout", 5*time.Second, "per-target probe timeout")
	probeCmd.Flags().StringVar(&probeFormat, "format", "table", "output format (table|json)")
}

type probeResult struct {
	Name      string `json:"name"`
	URL       string `json:"url"`
	Reachable bool   `json:"reachable"`
	Status    int    `json:"status,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

func runProbe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	type target struct{ name, url string }
	var targets []target
	for _, t := range cfg.Health.Targets {
		targets = append(targets, target{t.Name, t.URL})
	}
	for name, svc := range cfg.Services {
		targets = append(targets, target{name + "/primary", svc.Primary})
	}

	client := &http.Client{Timeout: probeTimeout}
	results := make([]probeResult, 0, len(targets))
	for _, t := range targets {
		results = append(results, probeOne(cmd.Context(), client, t.name, t.url))
	}

	if probeFormat == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TARGET\tSTATUS\tLATENCY\tERROR")
	for _, r := range results {
		status := "DOWN"
		if r.Reachable {
			status = fmt.Sprintf("UP (%d)", r.Status)
		}
		fmt.Fprintf(w, "%s\t%s\t%dms\t%s\n", r.Name, status, r.LatencyMS, r.Error)
	}
	return w.Flush()
}

func probeOne(ctx context.Context, client *http.Client, name, url string) probeResult {
	result := probeResult{Name: name, URL: url}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	start := time.Now()
	resp, err := client.Do(req)
	result.LatencyMS = time.Since(start).Milliseconds()
	if err != nil {
		result.Error = err.Error()
		return result
	}
	defer resp.Body.Close()

	result.Status = resp.StatusCode
	result.Reachable = resp.StatusCode < 500
	return result
}
