package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"stocklens/internal/api"
	"stocklens/internal/app"
	"stocklens/internal/config"
	"stocklens/internal/httpapi"
	"stocklens/internal/scheduler"
	"stocklens/internal/util"
)

func main() {
	cfgPath := "config/stocklens.yaml"
	if p := os.Getenv("STOCKLENS_CONFIG"); p != "" {
		cfgPath = p
	}
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		cfgPath = ""
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("building pipeline: %v", err)
	}
	defer a.Close()

	if len(cfg.Refresh.Symbols) > 0 && cfg.Refresh.Cron != "" {
		sched := scheduler.New(a.Ingestor, a.Memo, cfg.Refresh.Symbols)
		if err := sched.Register(ctx, cfg.Refresh.Cron); err != nil {
			log.Fatalf("scheduling refresh: %v", err)
		}
		sched.Start()
		defer sched.Stop()
	}

	httpSrv := httpapi.NewServer(httpapi.Deps{
		Prices:            a.Prices,
		Ingestor:          a.Ingestor,
		Backtester:        a.Backtester,
		Predictions:       a.Predictions,
		Reports:           a.Reports,
		Memo:              a.Memo,
		DefaultInvestment: a.DefaultInvestment(),
	})
	grpcSrv := api.NewServer(api.NewAnalyticsService(a.Ingestor, a.Backtester, a.Reports, a.DefaultInvestment()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		return httpSrv.ListenAndServe(gctx, addr, cfg.Server.ShutdownTimeout)
	})
	if cfg.Server.GRPCPort > 0 {
		g.Go(func() error {
			lis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GRPCPort))
			if err != nil {
				return err
			}
			return grpcSrv.Serve(gctx, lis)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
