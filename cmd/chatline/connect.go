package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/zulandar/chatline/internal/attachment"
	"github.com/zulandar/chatline/internal/backend"
	"github.com/zulandar/chatline/internal/config"
	"github.com/zulandar/chatline/internal/controller"
	"github.com/zulandar/chatline/internal/transport"
	"github.com/zulandar/chatline/internal/view"
)

const connectHelp = `Commands:
  /file <path> [caption]  send a file
  /satisfied              close the chat as resolved
  /operator               ask for a human operator
  /new                    start a new chat
  /quit                   disconnect
Any other line is sent as a message.`

func newConnectCmd() *cobra.Command {
	var (
		configPath string
		baseURL    string
		launchData string
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Open an interactive support chat",
		Long:  "Connects to the support backend with the given Telegram launch data and chats on stdin/stdout.\n\n" + connectHelp,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !verbose {
				log.SetOutput(io.Discard)
			}
			return runConnect(cmd, configPath, baseURL, launchData)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to chatline config file")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "backend origin (overrides config)")
	cmd.Flags().StringVar(&launchData, "launch-data", "", "signed Telegram launch data (overrides config)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log protocol activity to stderr")
	return cmd
}

// chatClient is the part of the controller the input loop drives.
type chatClient interface {
	SendText(text string) error
	SendFile(ctx context.Context, f attachment.File, caption string) error
	Satisfied(ctx context.Context) error
	RequestOperator(ctx context.Context) error
	StartNewChat() error
}

func runConnect(cmd *cobra.Command, configPath, baseURL, launchData string) error {
	cfg, err := loadConfig(cmd, configPath)
	if err != nil {
		return err
	}
	if baseURL != "" {
		cfg.Server.BaseURL = baseURL
	}
	if launchData != "" {
		cfg.LaunchData = launchData
	}

	c, err := newController(cfg, cmd.OutOrStdout(), isTerminal(os.Stdout))
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := c.Start(ctx); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	interactive := isTerminal(os.Stdin)
	go func() {
		inputLoop(ctx, c, cmd.InOrStdin(), cmd.OutOrStdout(), interactive)
		cancel()
	}()

	<-done
	c.Close()
	fmt.Fprintln(cmd.OutOrStdout(), "Disconnected.")
	return nil
}

func newController(cfg *config.Config, out io.Writer, pretty bool) (*controller.Controller, error) {
	conn, err := transport.New(transport.Opts{
		BaseURL:          cfg.Server.BaseURL,
		HandshakeTimeout: cfg.Connection.HandshakeTimeout,
		Reconnect: transport.ReconnectPolicy{
			MaxAttempts: cfg.Connection.Reconnect.MaxAttempts,
			BaseBackoff: cfg.Connection.Reconnect.BaseBackoff,
			MaxBackoff:  cfg.Connection.Reconnect.MaxBackoff,
		},
	})
	if err != nil {
		return nil, err
	}
	be, err := backend.New(backend.Opts{BaseURL: cfg.Server.BaseURL, UploadTimeout: cfg.Upload.Timeout})
	if err != nil {
		return nil, err
	}
	return controller.New(controller.Opts{
		LaunchData: cfg.LaunchData,
		Conn:       conn,
		Backend:    be,
		View:       view.NewTerminal(view.TerminalOpts{Out: out, Pretty: pretty, MediaBase: cfg.Server.BaseURL}),
	})
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// inputLoop reads lines from in until EOF, /quit or ctx is done.
func inputLoop(ctx context.Context, c chatClient, in io.Reader, out io.Writer, prompt bool) {
	scanner := bufio.NewScanner(in)
	for {
		if prompt {
			fmt.Fprint(out, "> ")
		}
		if !scanner.Scan() {
			return
		}
		if ctx.Err() != nil {
			return
		}
		if quit := runLine(ctx, c, scanner.Text(), out); quit {
			return
		}
	}
}

// runLine executes one input line and reports whether the user quit.
// Failures have already been shown to the user by the controller, so they
// are only logged here.
func runLine(ctx context.Context, c chatClient, line string, out io.Writer) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		logFailure("send", c.SendText(line))
		return false
	}

	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch name {
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Fprintln(out, connectHelp)
	case "/satisfied":
		logFailure("feedback", c.Satisfied(ctx))
	case "/operator":
		logFailure("operator", c.RequestOperator(ctx))
	case "/new":
		logFailure("new chat", c.StartNewChat())
	case "/file":
		path, caption, _ := strings.Cut(rest, " ")
		if path == "" {
			fmt.Fprintln(out, "usage: /file <path> [caption]")
			return false
		}
		f, err := attachment.FromPath(path)
		if err != nil {
			fmt.Fprintf(out, "Cannot read %s: %v\n", path, err)
			return false
		}
		logFailure("file", c.SendFile(ctx, f, strings.TrimSpace(caption)))
	default:
		fmt.Fprintf(out, "Unknown command %s. Type /help for the list.\n", name)
	}
	return false
}

func logFailure(op string, err error) {
	if err != nil {
		log.Printf("chatline: %s: %v", op, err)
	}
}
