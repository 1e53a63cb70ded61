package main

import (
	"context"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"jobvisor/internal/app"
	logx "jobvisor/pkg/logx"
)

const (
	envConfig     = "JOBVISOR_CONFIG"
	defaultConfig = "./jobvisor.json"
)

var (
	cfgPath  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "jobvisor",
	Short: "Local task scheduler and process supervisor",
	Long: `jobvisor runs scripts and ETL jobs on weekday-filtered schedules,
records their outcome and notifies on failure.

Examples:
  jobvisor serve                 # run the scheduler daemon
  jobvisor list                  # show tasks and their next fire
  jobvisor run Backup            # run a task now and stream its output
  jobvisor simulate Backup       # exercise the failure notification path
  jobvisor history Backup        # show recorded executions`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		_ = godotenv.Load()
		if !cmd.Flags().Changed("config") {
			if v := strings.TrimSpace(os.Getenv(envConfig)); v != "" {
				cfgPath = v
			}
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", defaultConfig, "config file (JSON, YAML or TOML); $"+envConfig+" when unset")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "console log level for one-shot commands")

	rootCmd.AddCommand(serveCmd, runCmd, simulateCmd, listCmd, historyCmd, validateCmd)
}

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

// openApp builds the app for one-shot commands, logging to the console only.
func openApp() (*app.App, error) {
	return app.New(cfgPath, app.WithLogger(logx.NewConsole(logLevel)))
}

func main() {
	err := rootCmd.ExecuteContext(context.Background())
	if err == nil {
		return
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.msg != "" {
			pterm.Error.Println(ee.msg)
		}
		os.Exit(ee.code)
	}
	pterm.Error.Println(err)
	os.Exit(1)
}
