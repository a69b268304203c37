package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/artpar/geoproxy/config"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration before deployment",
	Long: `Validate the geoproxy configuration file.

Checks:
  - JSON syntax and required fields
  - TLS material is configured when useHTTPS is set
  - Each rule's upstream is reachable (optional)

Examples:
  geoproxy validate
  geoproxy validate --check-upstream
  geoproxy validate --config /etc/geoproxy/config.json`,
	RunE: runValidate,
}

var validateCheckUpstream bool

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateCheckUpstream, "check-upstream", false, "HEAD each rule's upstream URL to check it is reachable")
}

func runValidate(cmd *cobra.Command, args []string) error {
	fmt.Printf("Validating %s...\n\n", cfgFile)

	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		fmt.Printf("  %s Config file exists\n", crossMark)
		return fmt.Errorf("config file not found: %s", cfgFile)
	}
	fmt.Printf("  %s Config file exists\n", checkMark)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Printf("  %s Config syntax valid\n", crossMark)
		return fmt.Errorf("config error: %w", err)
	}
	fmt.Printf("  %s Config syntax valid\n", checkMark)

	fmt.Printf("  %s Port: %d\n", checkMark, cfg.Port)
	fmt.Printf("  %s useHTTPS: %v\n", checkMark, cfg.UseHTTPS)
	fmt.Printf("  %s mustMatch: %v\n", checkMark, cfg.MustMatch)
	fmt.Printf("  %s matchAllReferrer: %v\n", checkMark, cfg.MatchAllReferrer)
	fmt.Printf("  %s allowedReferrers: %d configured\n", checkMark, len(cfg.AllowedReferrers))
	fmt.Printf("  %s serverUrls: %d rule(s)\n", checkMark, len(cfg.ServerUrls))
	fmt.Printf("  %s pingPath: %s\n", checkMark, cfg.PingPath)
	fmt.Printf("  %s statusPath: %s\n", checkMark, cfg.StatusPath)

	if cfg.UseHTTPS {
		if cfg.HTTPSPfxFile != "" {
			fmt.Printf("  %s TLS material: pfx (%s)\n", checkMark, cfg.HTTPSPfxFile)
		} else {
			fmt.Printf("  %s TLS material: keypair (%s, %s)\n", checkMark, cfg.HTTPSCertificateFile, cfg.HTTPSKeyFile)
		}
	}

	if validateCheckUpstream {
		for i, s := range cfg.ServerUrls {
			if err := checkUpstreamReachable(s.URL); err != nil {
				fmt.Printf("  %s serverUrls[%d] reachable: %s\n", crossMark, i, s.URL)
				fmt.Printf("      Error: %v\n", err)
			} else {
				fmt.Printf("  %s serverUrls[%d] reachable: %s\n", checkMark, i, s.URL)
			}
		}
	}

	fmt.Println()
	fmt.Println("Configuration is valid.")
	return nil
}

func checkUpstreamReachable(url string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

const (
	checkMark = "\033[32m✓\033[0m"
	crossMark = "\033[31m✗\033[0m"
)
