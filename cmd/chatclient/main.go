// Command chatclient is an interactive client for line-oriented chat servers.
//
// Usage:
//
//	chatclient [--secure ca.pem] [--command "/c host port"]... [--config file]
//
// Exit codes:
//   - 0: normal quit
//   - 65: the terminal cannot be switched to line-editing mode
//   - 66: stdin is not an interactive terminal
package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/urfave/cli/v2"
	"golang.org/x/term"

	chat "github.com/KedArch/chat-client"
	"github.com/KedArch/chat-client/internal/config"
	"github.com/KedArch/chat-client/internal/console"
	"github.com/KedArch/chat-client/internal/logging"
)

const (
	exitGeneric      = 1
	exitNoLineEditor = 65
	exitNotTerminal  = 66
)

func main() {
	app := &cli.App{
		Name:  "chatclient",
		Usage: "Simple chat client intended for personal use",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "secure",
				Aliases: []string{"s"},
				Usage:   "enable TLS, trusting the certificates in `FILE`",
			},
			&cli.StringSliceFlag{
				Name:    "command",
				Aliases: []string{"c"},
				Usage:   "run `LINE` at start, as if typed (repeatable)",
			},
			&cli.StringFlag{
				Name:  "config",
				Usage: "TOML configuration `FILE`",
				Value: defaultConfigPath(),
			},
			&cli.StringFlag{
				Name:  "csep",
				Usage: "command separator character",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "log diagnostics",
			},
		},
		DisableSliceFlagSeparator: true,
		Action:                    run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitGeneric)
	}
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "chatclient.toml"
	}
	return filepath.Join(dir, "chatclient", "config.toml")
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"), !c.IsSet("config"))
	if err != nil {
		return cli.Exit(err.Error(), exitGeneric)
	}
	if c.IsSet("secure") {
		cfg.TrustAnchor = c.String("secure")
	}
	if c.IsSet("csep") {
		cfg.CommandSeparator = c.String("csep")
	}
	if c.Bool("verbose") {
		cfg.Log.Level = "debug"
	}
	if err := config.Validate(cfg); err != nil {
		return cli.Exit(err.Error(), exitGeneric)
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return cli.Exit("chatclient must run in an interactive terminal", exitNotTerminal)
	}
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return cli.Exit("line editing unavailable: "+err.Error(), exitNoLineEditor)
	}
	defer term.Restore(fd, oldState)

	screen := term.NewTerminal(struct {
		io.Reader
		io.Writer
	}{os.Stdin, os.Stdout}, "> ")
	out := func(line string) {
		fmt.Fprintln(screen, line)
	}

	logger, closeLog, err := openLogger(cfg.Log, screen)
	if err != nil {
		return cli.Exit(err.Error(), exitGeneric)
	}
	defer closeLog()

	client, err := chat.NewClient(
		chat.CommandSeparatorOption(cfg.CommandSeparator),
		chat.TrustAnchorOption(cfg.TrustAnchor),
		chat.DialTimeoutOption(cfg.DialTimeout.Duration),
		chat.HandshakeTimeoutOption(cfg.HandshakeTimeout.Duration),
		chat.PollIntervalOption(cfg.PollInterval.Duration),
		chat.WriteTimeoutOption(cfg.WriteTimeout.Duration),
		chat.OnOutputOption(out),
		chat.LoggerOption(logger),
	)
	if err != nil {
		return cli.Exit(err.Error(), exitGeneric)
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	con := console.New(client, out)
	screen.AutoCompleteCallback = con.Complete
	out(con.Welcome())

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		for {
			line, err := screen.ReadLine()
			if err != nil {
				readErr <- err
				return
			}
			lines <- line
		}
	}()

	for _, line := range c.StringSlice("command") {
		if con.Execute(ctx, line) {
			return nil
		}
	}
	screen.SetPrompt(con.Prompt())

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if err == io.EOF {
				return nil
			}
			return cli.Exit(err.Error(), exitGeneric)
		case line := <-lines:
			if con.Execute(ctx, line) {
				return nil
			}
			screen.SetPrompt(con.Prompt())
		}
	}
}

func openLogger(cfg config.Log, screen io.Writer) (chat.Logger, func(), error) {
	if cfg.File == "" {
		return logging.New(screen, cfg.Level), func() {}, nil
	}
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	logger := logging.New(f, cfg.Level)
	return logger, func() {
		_ = logger.Sync()
		f.Close()
	}, nil
}
