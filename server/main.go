package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"collabtext/internal/config"
	"collabtext/internal/discovery"
	"collabtext/internal/hub"
	"collabtext/internal/logger"
	"collabtext/internal/metrics"
	"collabtext/internal/mirror"
	"collabtext/internal/session"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg, envErr := config.ServerFromEnv(os.Getenv)
	cmd := &cobra.Command{
		Use:           "collabtext-server",
		Short:         "Serve one shared rich-text editing session over WebSocket",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if envErr != nil {
				return envErr
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.Host, "host", cfg.Host, "interface to bind")
	f.IntVar(&cfg.Port, "port", cfg.Port, "port to listen on (env PORT)")
	f.StringVar(&cfg.StaticDir, "static", cfg.StaticDir, "directory of presentation assets to serve (env STATIC_DIR)")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error (env LOG_LEVEL)")
	f.IntVar(&cfg.SendBuffer, "send-buffer", cfg.SendBuffer, "queued outbound messages per connection before sends are skipped")
	f.Int64Var(&cfg.MaxMessageBytes, "max-message-bytes", cfg.MaxMessageBytes, "largest inbound message accepted")
	f.DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "deadline for one outbound write")
	f.DurationVar(&cfg.PongTimeout, "pong-timeout", cfg.PongTimeout, "close connections silent for this long")
	f.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "mirror broadcasts to redis pub/sub at this address (env REDIS_ADDR)")
	f.StringVar(&cfg.RedisChannel, "redis-channel", cfg.RedisChannel, "redis channel for mirrored broadcasts")
	f.StringVar(&cfg.DatabaseURL, "database-url", cfg.DatabaseURL, "append broadcasts to a postgres audit journal (env DATABASE_URL)")
	f.BoolVar(&cfg.Advertise, "advertise", cfg.Advertise, "register the server over mDNS")
	f.StringVar(&cfg.ServiceName, "service", cfg.ServiceName, "mDNS service type")
	return cmd
}

func run(ctx context.Context, cfg config.Server) error {
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewHub(reg)

	mir, err := openMirror(ctx, cfg, log)
	if err != nil {
		return err
	}

	store := session.NewStore()
	h := hub.New(hub.Config{
		SendBuffer:      cfg.SendBuffer,
		MaxMessageBytes: cfg.MaxMessageBytes,
		WriteTimeout:    cfg.WriteTimeout,
		PongTimeout:     cfg.PongTimeout,
	}, store, log, m, mir)
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go h.Run(hubCtx)

	if cfg.Advertise {
		adv, err := discovery.Advertise(cfg.ServiceName, cfg.Port)
		if err != nil {
			return err
		}
		defer adv.Shutdown()
		log.Info("mDNS service registered", zap.String("service", cfg.ServiceName), zap.Int("port", cfg.Port))
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           newRouter(h, store, reg, cfg.StaticDir, log),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info("collabtext server starting", zap.String("addr", cfg.Addr()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- errors.Wrap(err, "listen")
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		stopHub()
		<-h.Done()
		mir.Close()
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	stopHub()
	<-h.Done()
	mir.Close()
	return nil
}

func openMirror(ctx context.Context, cfg config.Server, log *zap.Logger) (*mirror.Async, error) {
	var sinks []mirror.Sink
	if cfg.RedisAddr != "" {
		s, err := mirror.DialRedis(ctx, cfg.RedisAddr, cfg.RedisChannel)
		if err != nil {
			return nil, err
		}
		log.Info("connected to redis", zap.String("addr", cfg.RedisAddr), zap.String("channel", cfg.RedisChannel))
		sinks = append(sinks, s)
	}
	if cfg.DatabaseURL != "" {
		s, err := mirror.OpenJournal(ctx, cfg.DatabaseURL)
		if err != nil {
			for _, open := range sinks {
				_ = open.Close()
			}
			return nil, err
		}
		log.Info("connected to postgres journal")
		sinks = append(sinks, s)
	}
	if len(sinks) == 0 {
		return nil, nil
	}
	return mirror.NewAsync(log, 1024, sinks...), nil
}
