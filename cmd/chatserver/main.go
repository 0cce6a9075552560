package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cowtalk/internal/config"
	"cowtalk/internal/logging"
	"cowtalk/internal/server"
)

var (
	configFile string
	useUI      bool
)

var rootCmd = &cobra.Command{
	Use:   "chatserver [port]",
	Short: "Relay encrypted cowtalk messages between clients",
	Long: `chatserver accepts cowtalk clients over TCP and relays their encrypted
messages and typing notifications to everyone else in the room.

With --ui it opens an operator console listing connected users and recent
activity; lines typed there are announced to every client.`,
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	RunE:         runServer,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().StringVar(&configFile, "config", "", "Configuration file (TOML)")
	rootCmd.Flags().BoolVar(&useUI, "ui", false, "Run the operator console")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	port := strconv.Itoa(cfg.Server.Port)
	if len(args) == 1 {
		port = args[0]
	}

	// The console owns the terminal in UI mode.
	var console io.Writer = os.Stderr
	if useUI {
		console = nil
	}
	logOpts := logging.FromConfig(cfg.Log, console)
	if logOpts.File == "" {
		logOpts.File = cfg.Server.ActivityLog
	}
	logger, closeLog, err := logging.New(logOpts)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeLog(); err != nil {
			log.Printf("failed to close log: %v", err)
		}
	}()

	srv := server.NewServer(cfg.Server, logger)

	if useUI {
		return server.RunWithUI(srv, port)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(port)
	}()

	select {
	case err := <-errCh:
		srv.Close()
		return err
	case <-ctx.Done():
		logger.Info("shutting down", zap.Int("sessions", srv.Registry().Len()))
		return srv.Close()
	}
}
