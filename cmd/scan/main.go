// Command scan runs ownership lookups and the insider-selling anomaly scan
// from the command line.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/subcommands"

	"github.com/bighogz/ownership-lens/internal/config"
	"github.com/bighogz/ownership-lens/internal/pipeline"
)

// env opens the configuration and pipeline on first use, so "help" works
// without either.
type env struct {
	cfg *config.Config
	svc *pipeline.Service
}

func (e *env) service(ctx context.Context) (*pipeline.Service, error) {
	if e.svc != nil {
		return e.svc, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	config.InitLogger(cfg.LogLevel)
	svc, err := pipeline.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	e.cfg, e.svc = cfg, svc
	return svc, nil
}

func (e *env) close(ctx context.Context) {
	if e.svc != nil {
		if err := e.svc.Close(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "close: %v\n", err)
		}
	}
}

func main() {
	e := &env{}
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(&insidersCmd{env: e}, "lookups")
	subcommands.Register(&ownershipCmd{env: e}, "lookups")
	subcommands.Register(&quoteCmd{env: e}, "market")
	subcommands.Register(&historyCmd{env: e}, "market")
	subcommands.Register(&limitsCmd{env: e}, "market")
	subcommands.Register(&anomaliesCmd{env: e}, "scan")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	status := subcommands.Execute(ctx)
	stop()
	e.close(context.Background())
	os.Exit(int(status))
}
