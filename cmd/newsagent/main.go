// Command newsagent runs the three long-running processes the job
// orchestration substrate is built from: the job API, the discovery
// scheduler, and a pipeline worker. Grounded on the teacher's
// cmd/webstalk/main.go cobra root with one subcommand per mode of
// operation, adapted from a single-shot crawl/search CLI to three daemons
// sharing one config loader and one graceful-shutdown path.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "newsagent",
		Short: "NewsAgent — asynchronous news enrichment job orchestrator",
		Long: `NewsAgent ingests article URLs discovered from configured listing pages,
runs each one through a fetch/summarize/validate/categorize/SEO pipeline,
and delivers the result to a downstream webhook.

Run as three independent processes against the same Redis and MongoDB:

  newsagent api        synchronous job submission/status/queue-ops HTTP surface
  newsagent scheduler  periodic listing-page discovery loop
  newsagent worker      pipeline executor draining the work queue`,
	}

	rootCmd.AddCommand(apiCmd())
	rootCmd.AddCommand(schedulerCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(version)
		},
	}
}

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"
