package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kasdex/kasdex/internal/cli"
	"github.com/kasdex/kasdex/internal/config"
)

var healthcheckCmd = &cobra.Command{
	Use:   "healthcheck",
	Short: "Probe a running instance's /health endpoint and exit non-zero if degraded",
	RunE:  runHealthcheck,
}

func init() {
	healthcheckCmd.Flags().Duration("timeout", 5*time.Second, "request timeout")
	rootCmd.AddCommand(healthcheckCmd)
}

type healthResponse struct {
	Status string `json:"status"`
	Block  string `json:"block_pipeline"`
	VCP    string `json:"virtual_chain_processor"`
}

func runHealthcheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	timeout, _ := cmd.Flags().GetDuration("timeout")
	client := &http.Client{Timeout: timeout}

	addr := cfg.HTTPListen
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	resp, err := client.Get("http://" + addr + "/health")
	if err != nil {
		return fmt.Errorf("unreachable: %w", err)
	}
	defer resp.Body.Close()

	var body healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode /health response: %w", err)
	}

	status := body.Status
	if status != "ok" {
		status = cli.Fail(status)
	}
	fmt.Printf("status=%s block_pipeline=%s virtual_chain_processor=%s\n", status, body.Block, body.VCP)

	if body.Status != "ok" {
		return fmt.Errorf("instance reports status %q", body.Status)
	}
	return nil
}
