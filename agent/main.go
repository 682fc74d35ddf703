package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/cenkalti/backoff"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"collabtext/internal/config"
	"collabtext/internal/discovery"
	"collabtext/internal/logger"
)

func main() {
	if err := newRootCmd(os.Stdin, os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd(in io.Reader, out io.Writer) *cobra.Command {
	cfg := config.DefaultAgent()
	cmd := &cobra.Command{
		Use:   "collabtext-agent",
		Short: "Join a collabtext session as a headless participant",
		Long: `Connects to a collabtext server, prints the document text whenever it
changes and appends each line read from stdin to the document as a new
paragraph. Without --url the server is found over mDNS.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg, in, out)
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.URL, "url", cfg.URL, "server WebSocket URL, e.g. ws://localhost:3000/ws")
	f.StringVar(&cfg.Name, "name", cfg.Name, "display name")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	f.StringVar(&cfg.ServiceName, "service", cfg.ServiceName, "mDNS service type to browse")
	f.DurationVar(&cfg.DiscoverTimeout, "discover-timeout", cfg.DiscoverTimeout, "how long to browse for a server")
	f.DurationVar(&cfg.MaxElapsed, "max-elapsed", cfg.MaxElapsed, "give up after failing to connect for this long")
	return cmd
}

func run(ctx context.Context, cfg config.Agent, in io.Reader, out io.Writer) error {
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	url := cfg.URL
	if url == "" {
		dctx, cancel := context.WithTimeout(ctx, cfg.DiscoverTimeout)
		url, err = discovery.Find(dctx, cfg.ServiceName)
		cancel()
		if err != nil {
			return err
		}
		log.Info("mDNS discovered server", zap.String("url", url))
	}

	p := &participant{name: cfg.Name, log: log, out: out, lines: readLines(in)}
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = cfg.MaxElapsed
	err = p.reconnect(ctx, url, b)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func readLines(in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()
	return lines
}
