// Copyright (c) 2026 dotandev
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"fmt"

	"github.com/dotandev/tailrec/internal/daemon"
	"github.com/dotandev/tailrec/internal/driver"
	"github.com/spf13/cobra"
)

var (
	daemonHost      string
	daemonPort      string
	daemonAuthToken string
	daemonNoLedger  bool
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start JSON-RPC server for build tool integration",
	Long: `Start a JSON-RPC 2.0 server that exposes the optimizer to build tools.

Endpoints (POST /rpc):
  - Optimizer.OptimizeClass: rewrite one base64 encoded class file
  - Optimizer.OptimizeDir: rewrite class files under server-side paths
    (only served when an auth token is set)

GET /health reports liveness. The server binds 127.0.0.1 unless --host
or the daemon.host config key names another interface.

Example:
  tailrec daemon --port 8080
  tailrec daemon --host 0.0.0.0 --port 8080 --auth-token secret123`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		host := appConfig.Daemon.Host
		if cmd.Flags().Changed("host") {
			host = daemonHost
		}
		port := appConfig.Daemon.Port
		if cmd.Flags().Changed("port") {
			port = daemonPort
		}
		token := appConfig.Daemon.AuthToken
		if cmd.Flags().Changed("auth-token") {
			token = daemonAuthToken
		}

		store, closeStore, err := openLedger(appConfig.Ledger && !daemonNoLedger, appConfig.LedgerPath)
		if err != nil {
			return err
		}
		defer closeStore()

		opts := driver.OptionsFromConfig(appConfig)
		opts.Ledger = store
		server := daemon.NewServer(daemon.Config{
			Host:      host,
			Port:      port,
			AuthToken: token,
			Version:   Version,
			Options:   opts,
		})

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Starting tailrec daemon on %s\n", server.Addr(port))
		if token != "" {
			fmt.Fprintln(out, "Authentication: enabled")
		} else {
			fmt.Fprintln(out, "Authentication: disabled, OptimizeDir is not served")
		}

		// Start server; the root command cancels the context on SIGINT.
		return server.Start(cmd.Context(), port)
	},
}

func init() {
	daemonCmd.Flags().StringVar(&daemonHost, "host", daemon.DefaultHost, "Interface to bind")
	daemonCmd.Flags().StringVarP(&daemonPort, "port", "p", "8080", "Port to listen on")
	daemonCmd.Flags().StringVar(&daemonAuthToken, "auth-token", "", "Authentication token for API access")
	daemonCmd.Flags().BoolVar(&daemonNoLedger, "no-ledger", false, "Neither consult nor update the run ledger")

	rootCmd.AddCommand(daemonCmd)
}
