package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/subcommands"
	"github.com/phuslu/log"
	"golang.org/x/sync/errgroup"

	"github.com/bighogz/ownership-lens/internal/aggregator"
	"github.com/bighogz/ownership-lens/internal/config"
	"github.com/bighogz/ownership-lens/internal/httpclient"
	"github.com/bighogz/ownership-lens/internal/models"
	"github.com/bighogz/ownership-lens/internal/sp500"
)

func fail(format string, args ...interface{}) subcommands.ExitStatus {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	return subcommands.ExitFailure
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeCSV creates path and writes header plus rows.
func writeCSV(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	w.Write(header)
	w.WriteAll(rows)
	return w.Error()
}

func str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

type insidersCmd struct {
	env     *env
	csvPath string
}

func (*insidersCmd) Name() string     { return "insiders" }
func (*insidersCmd) Synopsis() string { return "list recent Form 3/4/5 transactions for a ticker" }
func (*insidersCmd) Usage() string    { return "insiders [-csv file] TICKER\n" }

func (c *insidersCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.csvPath, "csv", "", "Write transactions to CSV")
}

func (c *insidersCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		return subcommands.ExitUsageError
	}
	svc, err := c.env.service(ctx)
	if err != nil {
		return fail("%v", err)
	}
	report, err := svc.GetInsiderTransactions(ctx, f.Arg(0))
	if err != nil {
		return fail("Unable to retrieve insider transactions: %v", err)
	}
	fmt.Printf("%s (%s) filer %s\n", report.Ticker, report.CompanyName, report.FilerID)
	for _, tx := range report.Transactions {
		fmt.Printf("  %s  %-5s %-28s %12.0f  form %s\n", tx.Date, tx.Kind, tx.PartyName, tx.Shares, tx.FormType)
	}
	s := report.Summary
	fmt.Printf("\nbought=%.0f  sold=%.0f  net=%.0f\n", s.TotalBuyShares, s.TotalSellShares, s.NetShares)

	if c.csvPath != "" {
		if err := writeCSV(c.csvPath, transactionHeader, transactionRows(report.Transactions)); err != nil {
			return fail("Could not write CSV: %v", err)
		}
		fmt.Printf("\nWrote %s.\n", c.csvPath)
	}
	return subcommands.ExitSuccess
}

var transactionHeader = []string{"date", "party", "role", "form", "code", "kind", "shares", "price", "source_url"}

func transactionRows(txs []models.TransactionRecord) [][]string {
	rows := make([][]string, 0, len(txs))
	for _, tx := range txs {
		price := ""
		if tx.PricePerShare != nil {
			price = fmt.Sprintf("%.4f", *tx.PricePerShare)
		}
		rows = append(rows, []string{
			tx.Date, tx.PartyName, str(tx.PartyRole), tx.FormType, str(tx.TransactionCode),
			string(tx.Kind), fmt.Sprintf("%.0f", tx.Shares), price, tx.SourceURL,
		})
	}
	return rows
}

type ownershipCmd struct {
	env *env
}

func (*ownershipCmd) Name() string             { return "ownership" }
func (*ownershipCmd) Synopsis() string         { return "print the ownership breakdown of a ticker as JSON" }
func (*ownershipCmd) Usage() string            { return "ownership TICKER\n" }
func (*ownershipCmd) SetFlags(*flag.FlagSet) {}

func (c *ownershipCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		return subcommands.ExitUsageError
	}
	svc, err := c.env.service(ctx)
	if err != nil {
		return fail("%v", err)
	}
	d, err := svc.GetDetailedOwnership(ctx, f.Arg(0))
	if err != nil {
		return fail("Unable to retrieve ownership: %v", err)
	}
	if err := printJSON(os.Stdout, d); err != nil {
		return fail("%v", err)
	}
	return subcommands.ExitSuccess
}

type quoteCmd struct {
	env   *env
	trend bool
}

func (*quoteCmd) Name() string     { return "quote" }
func (*quoteCmd) Synopsis() string { return "print the current price of one or more tickers" }
func (*quoteCmd) Usage() string    { return "quote [-trend] TICKER...\n" }

func (c *quoteCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.trend, "trend", false, "Also print the quarterly trend and 50-day average")
}

func (c *quoteCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		return subcommands.ExitUsageError
	}
	svc, err := c.env.service(ctx)
	if err != nil {
		return fail("%v", err)
	}
	status := subcommands.ExitSuccess
	for _, t := range f.Args() {
		if c.trend {
			tr, err := svc.GetPriceTrend(ctx, t)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", t, err)
				status = subcommands.ExitFailure
				continue
			}
			fmt.Printf("%-6s %10.2f  quarter=%+.2f%%  slope=%.3f  sma50=%.2f  (%s)\n",
				tr.Symbol, tr.Price, tr.QuarterPct, tr.Slope, tr.SMA50, tr.Provider)
			continue
		}
		q, err := svc.GetCurrentPrice(ctx, t)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", t, err)
			status = subcommands.ExitFailure
			continue
		}
		fmt.Printf("%-6s %10.2f  %+.2f%%  (%s)\n", q.Symbol, q.Price, q.ChangePercent, q.Provider)
	}
	return status
}

type historyCmd struct {
	env     *env
	days    int
	csvPath string
}

func (*historyCmd) Name() string     { return "history" }
func (*historyCmd) Synopsis() string { return "print daily price bars for a ticker" }
func (*historyCmd) Usage() string    { return "history [-days n] [-csv file] TICKER\n" }

func (c *historyCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.days, "days", 30, "Number of trading days")
	f.StringVar(&c.csvPath, "csv", "", "Write bars to CSV")
}

func (c *historyCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		return subcommands.ExitUsageError
	}
	svc, err := c.env.service(ctx)
	if err != nil {
		return fail("%v", err)
	}
	bars, err := svc.GetHistoricalPrices(ctx, f.Arg(0), c.days)
	if err != nil {
		return fail("Unable to retrieve price history: %v", err)
	}
	rows := barRows(bars)
	if c.csvPath != "" {
		if err := writeCSV(c.csvPath, barHeader, rows); err != nil {
			return fail("Could not write CSV: %v", err)
		}
		fmt.Printf("Wrote %d bars to %s.\n", len(rows), c.csvPath)
		return subcommands.ExitSuccess
	}
	for _, r := range rows {
		fmt.Println(strings.Join(r, "\t"))
	}
	return subcommands.ExitSuccess
}

var barHeader = []string{"date", "open", "high", "low", "close", "volume"}

func barRows(bars []models.OHLCV) [][]string {
	rows := make([][]string, 0, len(bars))
	for _, b := range bars {
		rows = append(rows, []string{
			b.Date,
			fmt.Sprintf("%.2f", b.Open),
			fmt.Sprintf("%.2f", b.High),
			fmt.Sprintf("%.2f", b.Low),
			fmt.Sprintf("%.2f", b.Close),
			fmt.Sprintf("%.0f", b.Volume),
		})
	}
	return rows
}

type limitsCmd struct {
	env *env
}

func (*limitsCmd) Name() string             { return "limits" }
func (*limitsCmd) Synopsis() string         { return "print provider quotas and request counters" }
func (*limitsCmd) Usage() string            { return "limits\n" }
func (*limitsCmd) SetFlags(*flag.FlagSet) {}

func (c *limitsCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	svc, err := c.env.service(ctx)
	if err != nil {
		return fail("%v", err)
	}
	if err := printJSON(os.Stdout, svc.GetRateLimitStatus()); err != nil {
		return fail("%v", err)
	}
	return subcommands.ExitSuccess
}

type anomaliesCmd struct {
	env          *env
	baselineDays int
	currentDays  int
	stdThreshold float64
	asOf         string
	tickers      string
	limit        int
	listAll      bool
	csvPath      string
}

func (*anomaliesCmd) Name() string { return "anomalies" }
func (*anomaliesCmd) Synopsis() string {
	return "flag tickers whose recent insider selling is above their own baseline"
}
func (*anomaliesCmd) Usage() string {
	return "anomalies [-tickers A,B] [-limit n] [-baseline-days n] [-current-days n] [-std-threshold z] [-as-of date] [-list-all-signals] [-csv file]\n"
}

func (c *anomaliesCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.baselineDays, "baseline-days", config.BaselineDays, "Days of history for baseline")
	f.IntVar(&c.currentDays, "current-days", config.CurrentWindowDays, "Current window days")
	f.Float64Var(&c.stdThreshold, "std-threshold", config.AnomalyStdThreshold, "Z-score threshold")
	f.StringVar(&c.asOf, "as-of", "", "As-of date YYYY-MM-DD")
	f.StringVar(&c.tickers, "tickers", "", "Comma-separated tickers (default: S&P 500 constituents)")
	f.IntVar(&c.limit, "limit", 25, "Scan at most this many tickers (0 = all)")
	f.BoolVar(&c.listAll, "list-all-signals", false, "Print all signals")
	f.StringVar(&c.csvPath, "csv", "", "Write to CSV")
}

func (c *anomaliesCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	asOf := time.Now()
	if c.asOf != "" {
		var err error
		if asOf, err = time.Parse("2006-01-02", c.asOf); err != nil {
			return fail("Invalid as-of date: %v", err)
		}
	}
	svc, err := c.env.service(ctx)
	if err != nil {
		return fail("%v", err)
	}

	tickers, err := c.universe(ctx)
	if err != nil {
		return fail("Could not load S&P 500 constituents: %v", err)
	}
	if c.limit > 0 && len(tickers) > c.limit {
		tickers = tickers[:c.limit]
	}
	fmt.Printf("Scanning insider filings of %d tickers...\n", len(tickers))

	byTicker := make(map[string][]models.TransactionRecord, len(tickers))
	slots := make([][]models.TransactionRecord, len(tickers))
	var g errgroup.Group
	g.SetLimit(4)
	for i, t := range tickers {
		g.Go(func() error {
			report, err := svc.GetInsiderTransactions(ctx, t)
			if err != nil {
				log.Warn().Str("ticker", t).Err(err).Msg("skipping ticker")
				return nil
			}
			slots[i] = report.Transactions
			return nil
		})
	}
	g.Wait()
	var records int
	for i, t := range tickers {
		if slots[i] != nil {
			byTicker[t] = slots[i]
			records += len(slots[i])
		}
	}
	fmt.Printf("Collected %d insider transaction records.\n", records)

	signals := aggregator.ComputeAnomalySignals(byTicker, aggregator.AnomalyParams{
		BaselineDays:      c.baselineDays,
		CurrentDays:       c.currentDays,
		StdThreshold:      c.stdThreshold,
		MinBaselinePoints: config.MinBaselinePoints,
	}, asOf)
	printSignals(os.Stdout, signals, c.listAll)

	if c.csvPath != "" {
		if err := writeCSV(c.csvPath, signalHeader, signalRows(signals, c.listAll)); err != nil {
			return fail("Could not create CSV: %v", err)
		}
		fmt.Printf("\nWrote %s.\n", c.csvPath)
	}
	return subcommands.ExitSuccess
}

func (c *anomaliesCmd) universe(ctx context.Context) ([]string, error) {
	if c.tickers != "" {
		out := make([]string, 0)
		for _, t := range strings.Split(c.tickers, ",") {
			if t = strings.TrimSpace(t); t != "" {
				out = append(out, strings.ToUpper(t))
			}
		}
		return out, nil
	}
	fetcher := httpclient.NewFetcher(
		httpclient.WithUserAgent(c.env.cfg.UserAgent),
		httpclient.WithRetries(c.env.cfg.MaxRetries, c.env.cfg.RetryBaseDelay.Std()),
	)
	companies, err := sp500.Load(ctx, fetcher, sp500.CSVURL)
	if err != nil {
		return nil, err
	}
	return sp500.Symbols(companies), nil
}

func printSignals(w io.Writer, signals []aggregator.AnomalySignal, listAll bool) {
	if listAll {
		fmt.Fprintln(w, "\nAll signals (current window vs baseline):")
		if len(signals) == 0 {
			fmt.Fprintln(w, "  (No data)")
		}
		for _, s := range signals {
			fmt.Fprintf(w, "  %s  current=%.0f  mean=%.1f  std=%.1f  z=%.2f  anomaly=%v\n",
				s.Ticker, s.CurrentSharesSold, s.BaselineMean, s.BaselineStd, s.ZScore, s.IsAnomaly)
		}
		return
	}
	fmt.Fprintln(w, "\nAnomalous insider selling (above normal):")
	count := 0
	for _, s := range signals {
		if s.IsAnomaly {
			fmt.Fprintf(w, "  %s  current=%.0f  mean=%.1f  std=%.1f  z=%.2f\n",
				s.Ticker, s.CurrentSharesSold, s.BaselineMean, s.BaselineStd, s.ZScore)
			count++
		}
	}
	if count == 0 {
		fmt.Fprintln(w, "  None detected.")
	}
}

var signalHeader = []string{"ticker", "current_shares_sold", "baseline_mean", "baseline_std", "z_score", "is_anomaly"}

func signalRows(signals []aggregator.AnomalySignal, listAll bool) [][]string {
	rows := make([][]string, 0, len(signals))
	for _, s := range signals {
		if !listAll && !s.IsAnomaly {
			continue
		}
		rows = append(rows, []string{
			s.Ticker,
			fmt.Sprintf("%.0f", s.CurrentSharesSold),
			fmt.Sprintf("%.2f", s.BaselineMean),
			fmt.Sprintf("%.2f", s.BaselineStd),
			fmt.Sprintf("%.2f", s.ZScore),
			fmt.Sprintf("%v", s.IsAnomaly),
		})
	}
	return rows
}
