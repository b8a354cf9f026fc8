package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openkcm/common-sdk/pkg/utils"
	"github.com/spf13/cobra"
	slogctx "github.com/veqryn/slog-context"

	"github.com/keyward/keyward/cmd/apiserver"
	"github.com/keyward/keyward/cmd/taskscheduler"
	"github.com/keyward/keyward/cmd/taskworker"
)

var (
	// BuildInfo will be set by the build system
	BuildInfo = "{}"

	isVersionCmd            bool
	gracefulShutdownSec     int64
	gracefulShutdownMessage string
)

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keyward",
		Short: "Keyward - Encryption as a Service",
		Long:  `Keyward is a multi-tenant encryption service: envelope encryption, hashing, entropy and managed key rotation behind a simple HTTP API.`,
	}

	cmd.PersistentFlags().Int64Var(&gracefulShutdownSec, "graceful-shutdown", 1, "graceful shutdown seconds")
	cmd.PersistentFlags().StringVar(&gracefulShutdownMessage, "graceful-shutdown-message", "Graceful shutdown in %d seconds",
		"graceful shutdown message")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "version",
			Short: "Keyward Version",
			RunE: func(cmd *cobra.Command, args []string) error {
				isVersionCmd = true

				value, err := utils.ExtractFromComplexValue(BuildInfo)
				if err != nil {
					return err
				}

				fmt.Println(value)

				return nil
			},
		},
		apiserver.Cmd(BuildInfo),
		taskworker.Cmd(BuildInfo),
		taskscheduler.Cmd(BuildInfo),
	)

	return cmd
}

func main() {
	ctx, cancelOnSignal := signal.NotifyContext(
		context.Background(),
		os.Interrupt, syscall.SIGTERM,
	)
	defer cancelOnSignal()

	err := rootCmd().ExecuteContext(ctx)
	if err != nil {
		slogctx.Error(ctx, "Failed to start the application", "error", err)
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// graceful shutdown so running goroutines may finish
	if !isVersionCmd {
		_, _ = fmt.Fprintf(os.Stderr, gracefulShutdownMessage+"\n", gracefulShutdownSec)
		time.Sleep(time.Duration(gracefulShutdownSec) * time.Second)
	}
}
