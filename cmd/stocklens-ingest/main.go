package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"stocklens/internal/app"
	"stocklens/internal/config"
	"stocklens/internal/scheduler"
	"stocklens/internal/util"
)

func main() {
	cfgPath := flag.String("config", os.Getenv("STOCKLENS_CONFIG"), "path to YAML config")
	symbols := flag.String("symbols", "", "comma-separated symbols (default: refresh.symbols from config)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	list := cfg.Refresh.Symbols
	if *symbols != "" {
		list = strings.Split(*symbols, ",")
	}
	list = append(list, flag.Args()...)
	if len(list) == 0 {
		fmt.Fprintln(os.Stderr, "usage: stocklens-ingest [-config path] [-symbols AAPL,MSFT] [SYMBOL...]")
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("building pipeline: %v", err)
	}
	defer a.Close()

	sum := scheduler.New(a.Ingestor, a.Memo, list).RunNow(ctx)
	fmt.Printf("inserted=%d skipped=%d failed=%d\n", sum.Inserted, sum.Skipped, len(sum.Failed))
	if len(sum.Failed) > 0 {
		fmt.Fprintf(os.Stderr, "failed: %s\n", strings.Join(sum.Failed, ", "))
		a.Close()
		os.Exit(1)
	}
}
