package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"jobvisor/internal/app"
)

var stopTimeout time.Duration

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler daemon until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := app.New(cfgPath)
		if err != nil {
			return err
		}

		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigs)

		if err := a.Start(cmd.Context()); err != nil {
			_ = a.Close()
			return err
		}

		var reason app.StopReason
		select {
		case s := <-sigs:
			reason = app.StopSIGINT
			if s == syscall.SIGTERM {
				reason = app.StopSIGTERM
			}
		case <-a.Done():
			reason = app.StopFatalError
		}

		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if err := a.Stop(ctx, reason); err != nil {
			return err
		}
		if reason == app.StopFatalError {
			return a.Err()
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().DurationVar(&stopTimeout, "stop-timeout", 10*time.Second, "upper bound for graceful shutdown")
}
