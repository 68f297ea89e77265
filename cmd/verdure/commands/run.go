package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyguts/verdure/internal/assistant"
	"github.com/rustyguts/verdure/internal/orchestrator"
)

const shutdownTimeout = 10 * time.Second

var (
	runVerbose    bool
	runServerAddr string
	runAutoStart  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the assistant",
	Long: `Start the assistant: connect to the configured server, arm the
keyword spotter (or go straight to Listening in AlwaysOn mode), and run
until interrupted.

Examples:
  verdure run
  verdure run --server localhost:8443 --verbose
  verdure run --autostart=false   # wait for a future StartVoiceChat trigger`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger(runVerbose)
		if err != nil {
			return err
		}
		defer logger.Sync()

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if runServerAddr != "" {
			cfg.ServerAddr = runServerAddr
		}

		orch := orchestrator.New(logger)
		orch.SetEvents(orchestrator.Events{
			OnDeviceStateChanged: func(from, to, trigger string) {
				logger.Infow("state changed", "from", from, "to", to, "trigger", trigger)
			},
			OnErrorOccurred: func(err *assistant.AssistantError) {
				logger.Warnw("assistant error", "kind", err.Kind, "err", err.Err)
			},
			OnLlmMessageReceived: func(text string) {
				fmt.Printf("assistant: %s\n", text)
			},
		})

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := orch.Initialize(ctx, cfg); err != nil {
			return fmt.Errorf("initialize: %w", err)
		}

		if runAutoStart {
			if err := orch.StartVoiceChat(ctx); err != nil {
				return fmt.Errorf("start voice chat: %w", err)
			}
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		logger.Infow("shutting down")

		shCtx, shCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shCancel()
		return orch.Shutdown(shCtx)
	},
}

func init() {
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "enable development-mode (human-readable) logging")
	runCmd.Flags().StringVarP(&runServerAddr, "server", "s", "", "server address, overrides the config file")
	runCmd.Flags().BoolVar(&runAutoStart, "autostart", true, "start the voice session immediately instead of waiting for a trigger")
}
