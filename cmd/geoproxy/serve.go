package main

import (
	"fmt"
	"os"

	"github.com/artpar/geoproxy/bootstrap"
	"github.com/spf13/cobra"
)

var hotReload bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the proxy server",
	Long: `Start the geoproxy server.

The server will:
  - Load configuration from geoproxy.json (or --config)
  - Compile the rule table and referrer allow-list
  - Listen for requests and dispatch them to upstream
  - Apply referrer validation, rate limiting, and credential injection

Examples:
  geoproxy serve
  geoproxy serve --config /etc/geoproxy/config.json
  geoproxy serve --hot-reload=false`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&hotReload, "hot-reload", true, "reload the rule table when the config file changes or on SIGHUP")
}

func runServe(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		fmt.Printf("config file not found: %s\n", cfgFile)
		fmt.Println("Specify a config file with --config, or create one at that path.")
		return nil
	}

	app, err := bootstrap.NewWithConfig(bootstrap.Config{
		ConfigPath: cfgFile,
		HotReload:  hotReload,
	})
	if err != nil {
		return fmt.Errorf("error initializing: %w", err)
	}

	return app.Run()
}
