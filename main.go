package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/semihalev/sdnsfwd/api"
	"github.com/semihalev/sdnsfwd/config"
	"github.com/semihalev/sdnsfwd/middleware"
	"github.com/semihalev/sdnsfwd/server"
	"github.com/semihalev/zlog/v2"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const version = "1.0.0"

var cfgPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "sdnsfwd",
		Short:        "Caching and filtering DNS forwarder",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}

	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "sdnsfwd.conf", "location of the config file, if not found it will be generated")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "sdnsfwd v%s\n", version)
		},
	})

	return root
}

func run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(cfgPath, version)
	if err != nil {
		zlog.Error("Config loading failed", "error", err.Error())
		return err
	}

	if err := setupLogger(cfg.LogLevel); err != nil {
		return err
	}

	zlog.Info("Starting sdnsfwd...", "version", version)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := middleware.Setup(cfg); err != nil {
		return err
	}

	handlers := middleware.Handlers()
	if err := middleware.Start(ctx, handlers); err != nil {
		return err
	}

	srv := server.New(cfg, handlers)
	if err := srv.Listen(); err != nil {
		zlog.Error("DNS server bind failed", "addr", cfg.Bind, "error", err.Error())
		return err
	}

	a := api.New(cfg, srv)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return srv.Serve(gctx) })
	g.Go(func() error { return a.Run(gctx) })

	for _, r := range middleware.Runners(handlers) {
		g.Go(func() error {
			r.Run(gctx)
			return nil
		})
	}

	g.Go(func() error {
		notifyRefresh(gctx)
		return nil
	})

	err = g.Wait()

	zlog.Info("Stopped sdnsfwd")

	return err
}

func setupLogger(level string) error {
	logger := zlog.NewStructured()
	logger.SetWriter(zlog.StdoutTerminal())

	switch strings.ToLower(level) {
	case "debug":
		logger.SetLevel(zlog.LevelDebug)
	case "info":
		logger.SetLevel(zlog.LevelInfo)
	case "warn":
		logger.SetLevel(zlog.LevelWarn)
	case "error":
		logger.SetLevel(zlog.LevelError)
	default:
		return fmt.Errorf("log verbosity level unknown: %q", level)
	}

	zlog.SetDefault(logger)

	return nil
}
