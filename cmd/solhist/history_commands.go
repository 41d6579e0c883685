package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/solhist/client"
	"github.com/brojonat/solhist/service/history"
	solanasvc "github.com/brojonat/solhist/service/solana"
	"github.com/urfave/cli/v2"
)

// historySource runs reconciliations and knows which network its explorer
// links point at.
type historySource interface {
	history.Runner
	Network() string
}

// rpcSource reconciles directly against a Solana RPC node.
type rpcSource struct {
	*history.Reconciler
	network string
}

func (s *rpcSource) Network() string { return s.network }

// serverSource reconciles through a solhist server.
type serverSource struct {
	client  *client.Client
	network string
}

func (s *serverSource) Network() string { return s.network }

func (s *serverSource) Reconcile(ctx context.Context, subject string, limit int) (*history.Report, error) {
	h, err := s.client.History(ctx, subject, limit)
	if err != nil {
		return nil, err
	}
	if h.Network != "" {
		s.network = h.Network
	}
	return historyToReport(h), nil
}

// historyToReport converts a server response back into a report.
func historyToReport(h *client.History) *history.Report {
	report := &history.Report{
		Subject:      h.Address,
		ReconciledAt: h.ReconciledAt,
		Events:       make([]history.TransferEvent, len(h.Events)),
		DroppedLegs:  h.DroppedLegs,
	}
	for i, ev := range h.Events {
		report.Events[i] = history.TransferEvent{
			Signature:    ev.Signature,
			Counterparty: ev.Counterparty,
			Amount:       ev.Amount,
			Timestamp:    ev.Timestamp,
			Direction:    history.Direction(ev.Direction),
			Source:       history.EventSource(ev.Source),
		}
	}
	for _, s := range h.Skipped {
		report.Skipped = append(report.Skipped, history.SkippedSignature{Signature: s.Signature, Reason: s.Reason})
	}
	return report
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:      "history",
		Aliases:   []string{"hist"},
		Usage:     "Reconcile the SOL transfer history of an address",
		ArgsUsage: "ADDRESS",
		Description: `Lists the native SOL transfers into and out of an address, newest first.

By default the history is reconciled directly against a Solana RPC node.
With --server the solhist server does the reconciliation instead.

Examples:
  solhist history 9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM
  solhist history --network mainnet --limit 10 ADDRESS
  solhist history --jq '.direction == "received"' --jq '.amount | tonumber > 1' ADDRESS
  solhist history --watch 30s ADDRESS`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Aliases: []string{"s"},
				Usage:   "Reconcile through this solhist server instead of a direct RPC connection",
			},
			&cli.StringFlag{
				Name:    "network",
				Aliases: []string{"n"},
				Usage:   "Solana network (mainnet, devnet, testnet)",
				EnvVars: []string{"SOLANA_NETWORK"},
				Value:   solanasvc.NetworkDevnet,
			},
			&cli.StringFlag{
				Name:    "rpc",
				Usage:   "Solana RPC URL (defaults to the public endpoint of --network)",
				EnvVars: []string{"SOLANA_RPC_URL"},
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"l"},
				Value:   history.DefaultLimit,
				Usage:   "Maximum number of signatures to reconcile (1-1000)",
			},
			&cli.StringSliceFlag{
				Name:  "jq",
				Usage: "jq filter applied to each event; only events for which all filters are truthy are shown",
			},
			&cli.DurationFlag{
				Name:  "watch",
				Usage: "Re-reconcile on this interval and print new events as they appear",
			},
			&cli.IntFlag{
				Name:  "max-attempts",
				Value: 3,
				Usage: "Attempts per RPC call before giving up",
			},
			&cli.DurationFlag{
				Name:  "request-delay",
				Usage: "Delay between transaction fetches, for rate-limited RPC nodes",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: address")
			}
			address := c.Args().First()

			limit := c.Int("limit")
			if limit < 1 || limit > history.MaxLimit {
				return fmt.Errorf("limit must be between 1 and %d", history.MaxLimit)
			}

			filters, err := compileFilters(c.StringSlice("jq"))
			if err != nil {
				return err
			}

			logger := newCLILogger(c.String("log-level"))

			source, err := newHistorySource(c, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := &historyPrinter{
				w:       os.Stdout,
				filters: filters,
				json:    c.Bool("json"),
				logger:  logger,
			}

			if interval := c.Duration("watch"); interval > 0 {
				return watchHistory(ctx, source, address, limit, interval, out)
			}

			report, err := source.Reconcile(ctx, address, limit)
			if err != nil {
				return fmt.Errorf("failed to reconcile history: %w", err)
			}
			return out.print(report, source.Network(), nil)
		},
	}
}

func newHistorySource(c *cli.Context, logger *slog.Logger) (historySource, error) {
	if serverURL := c.String("server"); serverURL != "" {
		return &serverSource{
			client:  client.NewClient(serverURL, nil, logger),
			network: c.String("network"),
		}, nil
	}

	network := c.String("network")
	rpcURL := c.String("rpc")
	if rpcURL == "" {
		var err error
		rpcURL, err = solanasvc.DefaultRPCURL(network)
		if err != nil {
			return nil, err
		}
	}

	cfg, err := historyClientConfig(rpcURL, c.Int("max-attempts"), c.Duration("request-delay"))
	if err != nil {
		return nil, err
	}

	ledger := solanasvc.NewClient(solanasvc.NewRPCClient(rpcURL), cfg, nil, logger)
	return &rpcSource{
		Reconciler: history.NewReconciler(ledger, nil, logger),
		network:    network,
	}, nil
}

// historyClientConfig builds the RPC client config for the CLI. The endpoint
// label is derived from the URL so provider API keys never reach a metric.
func historyClientConfig(rpcURL string, maxAttempts int, requestDelay time.Duration) (solanasvc.ClientConfig, error) {
	if maxAttempts < 1 {
		return solanasvc.ClientConfig{}, fmt.Errorf("max-attempts must be at least 1")
	}
	cfg := solanasvc.DefaultClientConfig(solanasvc.EndpointLabel(rpcURL))
	cfg.MaxAttempts = maxAttempts
	cfg.RequestDelay = requestDelay
	return cfg, nil
}

// watchHistory refreshes the history on every tick. Each refresh goes through
// a Session, so a slow run that is overtaken never overwrites a newer one.
// Only events not printed before are shown after the first refresh.
func watchHistory(ctx context.Context, source historySource, address string, limit int, interval time.Duration, out *historyPrinter) error {
	session := history.NewSession(source, nil, out.logger)
	seen := make(map[string]bool)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		report, err := session.Refresh(ctx, address, limit)
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, history.ErrStale):
		case err != nil:
			fmt.Fprintf(os.Stderr, "refresh failed: %v\n", err)
		default:
			if err := out.print(report, source.Network(), seen); err != nil {
				return err
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func newCLILogger(level string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
