package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"stocklens/internal/store"
	"stocklens/internal/util"
	"stocklens/pkg/stocklens"
)

type cliOptions struct {
	server  string
	timeout time.Duration
	retries int
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}
	root := &cobra.Command{
		Use:           "stocklens-cli",
		Short:         "Command-line client for a stocklens server",
		SilenceUsage:  true,
	}
	serverDefault := os.Getenv("STOCKLENS_SERVER")
	if serverDefault == "" {
		serverDefault = "http://localhost:8080"
	}
	root.PersistentFlags().StringVar(&opts.server, "server", serverDefault, "stocklens server base URL")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "per-request timeout")
	root.PersistentFlags().IntVar(&opts.retries, "retries", 3, "attempts for network and 5xx failures")

	root.AddCommand(
		versionCmd(),
		healthCmd(opts),
		fetchCmd(opts),
		pricesCmd(opts),
		backtestCmd(opts),
		predictCmd(opts),
		reportCmd(opts),
		archiveCmd(opts),
	)
	return root
}

func (o *cliOptions) client() *stocklens.Client {
	p := util.DefaultRetryPolicy
	p.MaxAttempts = max(o.retries, 1)
	return stocklens.NewClient(o.server, stocklens.WithTimeout(o.timeout), stocklens.WithRetry(p))
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseInvestment(s string) (*decimal.Decimal, error) {
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid --investment %q: %w", s, err)
	}
	return &d, nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "stocklens-cli %s\n", version)
		},
	}
}

func healthCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the server is up",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.client().Health(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}

func fetchCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch SYMBOL",
		Short: "Ingest a symbol's daily history on the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := opts.client().Fetch(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, resp)
		},
	}
}

func pricesCmd(opts *cliOptions) *cobra.Command {
	var table bool
	cmd := &cobra.Command{
		Use:   "prices SYMBOL",
		Short: "List stored daily bars",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := opts.client().Prices(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if table {
				renderPrices(cmd.OutOrStdout(), resp)
				return nil
			}
			return printJSON(cmd, resp)
		},
	}
	cmd.Flags().BoolVar(&table, "table", false, "print a table instead of JSON")
	return cmd
}

func backtestCmd(opts *cliOptions) *cobra.Command {
	var (
		investment, strategyName string
		table                    bool
	)
	cmd := &cobra.Command{
		Use:   "backtest SYMBOL",
		Short: "Simulate a trading strategy over stored history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, err := parseInvestment(investment)
			if err != nil {
				return err
			}
			resp, err := opts.client().Backtest(cmd.Context(), stocklens.BacktestRequest{
				Symbol:            args[0],
				InitialInvestment: inv,
				Strategy:          strategyName,
			})
			if err != nil {
				return err
			}
			if table {
				renderBacktest(cmd.OutOrStdout(), resp)
				return nil
			}
			return printJSON(cmd, resp)
		},
	}
	cmd.Flags().BoolVar(&table, "table", false, "print a summary instead of JSON")
	cmd.Flags().StringVar(&investment, "investment", "", "initial investment (server default when empty)")
	cmd.Flags().StringVar(&strategyName, "strategy", "", "strategy name (server default when empty)")
	return cmd
}

func predictCmd(opts *cliOptions) *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "predict SYMBOL",
		Short: "Run the price forecaster, or list stored predictions with --list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.client()
			var (
				resp *stocklens.PredictionsResponse
				err  error
			)
			if list {
				resp, err = c.Predictions(cmd.Context(), args[0])
			} else {
				resp, err = c.Predict(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}
			return printJSON(cmd, resp)
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "list persisted predictions instead of running the model")
	return cmd
}

func reportCmd(opts *cliOptions) *cobra.Command {
	var investment, format, output string
	cmd := &cobra.Command{
		Use:   "report SYMBOL",
		Short: "Assemble a report as JSON or PDF",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, err := parseInvestment(investment)
			if err != nil {
				return err
			}
			req := stocklens.ReportRequest{Symbol: args[0], InitialInvestment: inv}
			c := opts.client()

			if format != "pdf" {
				data, err := c.Report(cmd.Context(), req)
				if err != nil {
					return err
				}
				return printJSON(cmd, data)
			}

			pdf, err := c.ReportPDF(cmd.Context(), req)
			if err != nil {
				return err
			}
			if output == "" {
				sym, err := util.NormalizeSymbol(args[0])
				if err != nil {
					return err
				}
				output = sym + "_report.pdf"
			}
			if err := os.WriteFile(output, pdf, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", output, len(pdf))
			return nil
		},
	}
	cmd.Flags().StringVar(&investment, "investment", "", "initial investment (server default when empty)")
	cmd.Flags().StringVar(&format, "format", "json", "json or pdf")
	cmd.Flags().StringVarP(&output, "output", "o", "", "PDF output path (default SYMBOL_report.pdf)")
	return cmd
}

func archiveCmd(opts *cliOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "archive SYMBOL",
		Short: "Export a symbol's stored bars to a Parquet file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := opts.client().Prices(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if output == "" {
				output = resp.Symbol + ".parquet"
			}
			if err := store.WriteArchive(output, resp.Prices); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bars to %s\n", len(resp.Prices), output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output path (default SYMBOL.parquet)")
	return cmd
}
