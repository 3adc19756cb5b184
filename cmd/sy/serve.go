package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchyard/internal/retention"
	"github.com/zulandar/switchyard/internal/server"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
		offline    bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long:  "Serves /agents/chat, /agents/history, /agents/list, /healthz and /metrics.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port, offline)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides server.port)")
	cmd.Flags().BoolVar(&offline, "offline", false, "answer with a local echo instead of the completion backend")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int, offline bool) error {
	a, err := setup(cmd, configPath, appOpts{Offline: offline, Metrics: true})
	if err != nil {
		return err
	}
	defer a.Close()

	srvCfg := a.cfg.Server
	if port > 0 {
		srvCfg.Port = port
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			fmt.Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	if rc := a.cfg.Retention; rc.Schedule != "" {
		job, err := retention.New(retention.Opts{
			Pruner:   a.store,
			Schedule: rc.Schedule,
			MaxAge:   time.Duration(rc.MaxAgeDays) * 24 * time.Hour,
			Logger:   a.logger.Named("retention"),
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Retention: pruning turns older than %d days (%s)\n", rc.MaxAgeDays, rc.Schedule)
		g.Go(func() error { return job.Run(gctx) })
	}

	g.Go(func() error {
		defer cancel()
		return server.Start(gctx, server.StartOpts{
			Opts: server.Opts{
				Dispatcher: a.dispatcher,
				Store:      a.store,
				Registry:   a.registry,
				Config:     srvCfg,
				Metrics:    a.metrics,
				Logger:     a.logger.Named("http"),
			},
			Out: cmd.OutOrStdout(),
		})
	})

	err = g.Wait()
	if err != nil {
		a.logger.Error("serve stopped", zap.Error(err))
	}
	return err
}
