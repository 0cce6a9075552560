package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"cowtalk/internal/cipher"
	"cowtalk/internal/client"
	"cowtalk/internal/config"
	"cowtalk/internal/logging"
	"cowtalk/internal/ui"
)

const (
	dialTimeout = 10 * time.Second
	exitCommand = "/exit"
)

var rootCmd = &cobra.Command{
	Use:   "chatclient [host] [port]",
	Short: "Join a cowtalk room",
	Long: `chatclient connects to a cowtalk server and opens the chat view.

Messages are encrypted with a key derived from the password you enter; only
people using the same password can read them. Type /exit or press Esc to leave.`,
	Args:         cobra.MaximumNArgs(2),
	SilenceUsage: true,
	RunE:         runClient,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runClient(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	host := cfg.Client.Host
	port := strconv.Itoa(cfg.Client.Port)
	if len(args) > 0 {
		host = args[0]
	}
	if len(args) > 1 {
		if _, err := strconv.Atoi(args[1]); err != nil {
			return fmt.Errorf("invalid port %q", args[1])
		}
		port = args[1]
	}

	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, port), dialTimeout)
	if err != nil {
		return fmt.Errorf("connection error: %w", err)
	}
	defer conn.Close()

	stdin := bufio.NewReader(os.Stdin)
	username, err := promptUsername(stdin)
	if err != nil {
		return err
	}
	password, err := promptPassword(stdin)
	if err != nil {
		return err
	}

	logger, closeLog, err := logging.New(logging.FromConfig(cfg.Log, nil))
	if err != nil {
		return err
	}
	defer closeLog()

	return chat(cfg.Client, conn, username, cipher.New(password), logger)
}

func chat(cfg config.ClientConfig, conn net.Conn, username string, cc *cipher.Context, logger *zap.Logger) error {
	screen, err := ui.NewTermboxScreen()
	if err != nil {
		return err
	}
	defer screen.Close()

	renderer := ui.NewRenderer(screen, ui.Options{
		HistorySize:   cfg.HistorySize,
		TypingTimeout: cfg.TypingTimeout,
		SendInterval:  cfg.SendInterval,
		RedrawTick:    cfg.RedrawTick,
		Decorator:     ui.NewDecorator(cfg.Decorator, cfg.DecoratorTimeout),
		Logger:        logger.Named("ui"),
	})
	pipeline := client.New(conn, client.Options{
		Username:       username,
		Cipher:         cc,
		Display:        renderer,
		TypingInterval: cfg.TypingInterval,
		Logger:         logger.Named("client"),
	})

	if err := pipeline.Connect(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if err := renderer.Run(ctx); err != nil {
			logger.Error("renderer stopped", zap.Error(err))
		}
	}()
	go func() {
		if err := pipeline.Receive(conn); err != nil {
			logger.Warn("receive loop ended", zap.Error(err))
		}
	}()

	for {
		line, ok, err := renderer.PollInput()
		if errors.Is(err, ui.ErrQuit) {
			break
		}
		if err != nil {
			return err
		}

		if ok {
			if strings.EqualFold(strings.TrimSpace(line), exitCommand) {
				break
			}
			if err := pipeline.SendMessage(line); err != nil {
				logger.Warn("send failed", zap.Error(err))
			}
		}
		if err := pipeline.SetTyping(renderer.IsTyping()); err != nil {
			logger.Debug("typing update failed", zap.Error(err))
		}
	}

	_ = pipeline.SetTyping(false)
	return nil
}

func promptUsername(in *bufio.Reader) (string, error) {
	for {
		fmt.Print("Enter your username: ")
		line, err := in.ReadString('\n')
		if name := strings.TrimSpace(line); name != "" {
			return name, nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", errors.New("no username given")
			}
			return "", fmt.Errorf("read username: %w", err)
		}
	}
}

// promptPassword hides input on a terminal and falls back to a plain line
// read when stdin is piped.
func promptPassword(in *bufio.Reader) (string, error) {
	fmt.Print("Enter encryption password: ")
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		secret, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(secret), nil
	}

	line, err := in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
