package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "geoproxy",
	Short: "Reverse proxy that injects ArcGIS-style credentials in front of geospatial services",
	Long: `geoproxy is a reverse proxy for geospatial web services.

It matches incoming requests against a configured rule table, validates
the caller's referrer, rate-limits per referrer and rule, acquires and
caches an upstream credential, and streams the upstream response back
to the client.

Quick start:
  geoproxy serve     # Start the proxy server
  geoproxy validate  # Validate configuration`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "geoproxy.json", "config file path")
}
