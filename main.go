package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"minicord/bot"
	"minicord/cache"
	"minicord/dashboard"
	"minicord/gateway"
	"minicord/queue"
	"minicord/storage"
	"minicord/transport"
	"minicord/utils"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
)

const (
	TOKEN_ENV        = "MINICORD_TOKEN"
	LOG_FILE         = "minicord.log"
	SESSION_NAME     = "default"
	USER_CACHE_SIZE  = 10000
	SHUTDOWN_TIMEOUT = 5 * time.Second
)

type options struct {
	logLevel    string
	logDir      string
	metricsAddr string
	store       string
	sessionPath string
	gatewayURL  string
	locale      string
	workers     int
}

func main() {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "minicord",
		Short: "Minimal gateway client that keeps a user session online",
		Long: `minicord connects to the gateway with the token in $MINICORD_TOKEN,
identifies, keeps the heartbeat going and resumes the session across
disconnects until interrupted.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	flags := rootCmd.Flags()
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	flags.StringVar(&opts.logDir, "log-dir", "logs", "directory for the log file, empty to disable")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve /metrics and /status on this address")
	flags.StringVar(&opts.store, "session-store", "file", "session store: none, file or sqlite")
	flags.StringVar(&opts.sessionPath, "session-path", "", "session file or sqlite DSN")
	flags.StringVar(&opts.gatewayURL, "gateway-url", gateway.GatewayURL, "gateway base URL")
	flags.StringVar(&opts.locale, "locale", "en-US", "locale reported to the gateway")
	flags.IntVar(&opts.workers, "workers", 1, "event handler goroutines (1 keeps event order)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "\033[31mError:\033[0m %s\n", err)
		os.Exit(1)
	}
}

func setupLogging(level, dir string) (zerolog.Logger, io.Closer, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), nil, errors.Wrapf(err, "invalid log level %q", level)
	}

	writers := []io.Writer{zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.TimeOnly}}
	var closer io.Closer
	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return zerolog.Nop(), nil, errors.Wrap(err, "create log directory")
		}
		f, err := os.OpenFile(filepath.Join(dir, LOG_FILE), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return zerolog.Nop(), nil, errors.Wrap(err, "open log file")
		}
		writers = append(writers, f)
		closer = f
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(lvl).
		With().Timestamp().Logger()
	return logger, closer, nil
}

// sessionStore opens the configured store. The returned closer may be nil.
func sessionStore(ctx context.Context, opts *options, logger zerolog.Logger) (gateway.SessionStorage, io.Closer, error) {
	switch opts.store {
	case "none", "":
		return nil, nil, nil
	case "file":
		path := opts.sessionPath
		if path == "" {
			path = filepath.Join(".minicord", "session.json")
		}
		return storage.NewFileSessionStorage(path), nil, nil
	case "sqlite":
		dsn := opts.sessionPath
		if dsn == "" {
			dsn = storage.DEFAULT_DSN
		}
		var store *storage.SQLiteSessionStorage
		err := utils.WithRetry(ctx, func() error {
			var err error
			store, err = storage.OpenSQLite(dsn, SESSION_NAME)
			return err
		}, utils.DefaultRetryConfig(), logger)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	default:
		return nil, nil, errors.Errorf("unknown session store %q", opts.store)
	}
}

func run(ctx context.Context, opts *options) error {
	logger, logFile, err := setupLogging(opts.logLevel, opts.logDir)
	if err != nil {
		return err
	}
	if logFile != nil {
		defer logFile.Close()
	}

	token := os.Getenv(TOKEN_ENV)
	if token == "" {
		return errors.Errorf("please set the user token in the %s environment variable", TOKEN_ENV)
	}

	locale, err := language.Parse(opts.locale)
	if err != nil {
		return errors.Wrapf(err, "invalid locale %q", opts.locale)
	}

	store, storeCloser, err := sessionStore(ctx, opts, logger)
	if err != nil {
		return err
	}
	if storeCloser != nil {
		defer storeCloser.Close()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	users := cache.NewUserCache(USER_CACHE_SIZE, 5*time.Minute, reg)
	defer users.Stop()

	app := bot.NewBot(users, logger.With().Str("component", "bot").Logger())
	events := queue.NewQueue(app, opts.workers, queue.DEFAULT_CAPACITY, reg, logger)
	events.Start(ctx)
	defer events.Close()

	clientOpts := []gateway.ClientOption{
		gateway.WithGatewayURL(opts.gatewayURL),
		gateway.WithProperties(gateway.DefaultProperties(locale)),
		gateway.WithEventHandler(events),
		gateway.WithLogger(logger.With().Str("component", "gateway").Logger()),
		gateway.WithRegisterer(reg),
	}
	if store != nil {
		clientOpts = append(clientOpts, gateway.WithSessionStorage(store))
	}

	client, err := gateway.NewClient(token, transport.NewDialer(logger), clientOpts...)
	if err != nil {
		return errors.Wrap(err, "create gateway client")
	}

	if opts.metricsAddr != "" {
		server := dashboard.NewServer(opts.metricsAddr, client, app, reg, logger)
		if err := server.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), SHUTDOWN_TIMEOUT)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Warn().Err(err).Msg("[Dashboard] shutdown failed")
			}
		}()
	}

	// The first signal stops the client gracefully; a second one kills the process.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig, ok := <-sigs
		if !ok {
			return
		}
		logger.Info().Stringer("signal", sig).Msg("interrupt received, shutting down")
		signal.Reset(os.Interrupt, syscall.SIGTERM)
		client.Stop()
	}()
	defer func() {
		signal.Stop(sigs)
		close(sigs)
	}()

	if err := client.Start(ctx); err != nil {
		if errors.Is(err, gateway.ErrFatalClose) {
			return errors.Wrap(err, "gateway rejected the session")
		}
		return err
	}
	logger.Info().Msg("[GatewayClient] Stopped")
	return nil
}
