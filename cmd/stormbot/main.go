// Package main is the entry point for the stormbot runtime. It wires the
// core to a console chat client: stdin lines become inbound messages,
// replies print to stdout. Real deployments supply their own
// platform.Client.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dshills/stormbot/internal/app"
	"github.com/dshills/stormbot/internal/platform"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	opts, userID := parseFlags()
	opts.Client = &consoleClient{}
	opts.Permission = func(string, string) bool { return true }

	core, err := app.New(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := core.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to start: %v\n", err)
		return 1
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		core.Shutdown(shutdownCtx)
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signals
		cancel()
	}()

	readConsole(ctx, core, userID)
	return 0
}

// readConsole feeds stdin lines to the core until EOF or cancellation.
// Lines starting with "@" are treated as callback payloads, e.g.
// "@menu:page:2".
func readConsole(ctx context.Context, core *app.Core, userID string) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	seq := 0
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			seq++
			if data, isCallback := strings.CutPrefix(line, "@"); isCallback {
				core.HandleCallback(ctx, &platform.Callback{
					ID:     strconv.Itoa(seq),
					ChatID: "console",
					UserID: userID,
					Data:   data,
					Time:   time.Now(),
				})
				continue
			}
			core.HandleMessage(ctx, &platform.Message{
				ID:     strconv.Itoa(seq),
				ChatID: "console",
				UserID: userID,
				Text:   line,
				Time:   time.Now(),
			})
		}
	}
}

// consoleClient prints outbound messages to stdout.
type consoleClient struct{}

func (c *consoleClient) SendMessage(ctx context.Context, chatID, text string) error {
	_, err := fmt.Printf("[%s] %s\n", chatID, text)
	return err
}

func parseFlags() (app.Options, string) {
	var opts app.Options
	var userID string
	var showVersion bool

	flag.StringVar(&opts.ConfigPath, "config", "", "Path to configuration file")
	flag.StringVar(&opts.PluginDir, "plugins", "", "Directory of Lua plugin scripts")
	flag.StringVar(&opts.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.StringVar(&userID, "user", "console", "User ID for console input")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Stormbot - pluggable chat automation runtime\n\n")
		fmt.Fprintf(os.Stderr, "Usage: stormbot [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("Stormbot %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		os.Exit(0)
	}

	return opts, userID
}
