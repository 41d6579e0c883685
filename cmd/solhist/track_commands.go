package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/brojonat/solhist/client"
	"github.com/urfave/cli/v2"
)

func trackCommands() *cli.Command {
	return &cli.Command{
		Name:  "track",
		Usage: "Manage addresses the server reconciles on a schedule",
		Subcommands: []*cli.Command{
			trackAddCommand(),
			trackRemoveCommand(),
			trackListCommand(),
			trackSnapshotCommand(),
		},
	}
}

func newServerClient(c *cli.Context) *client.Client {
	return client.NewClient(c.String("server-url"), nil, newCLILogger(c.String("log-level")))
}

func trackAddCommand() *cli.Command {
	return &cli.Command{
		Name:      "add",
		Usage:     "Start reconciling an address on a schedule",
		ArgsUsage: "ADDRESS",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:    "interval",
				Aliases: []string{"i"},
				Usage:   "Reconciliation interval (server default when unset)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: address")
			}

			tracked, err := newServerClient(c).Track(c.Context, c.Args().First(), c.Duration("interval"))
			if err != nil {
				return fmt.Errorf("failed to track address: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(os.Stdout, tracked)
			}
			fmt.Printf("✓ Tracking %s every %v on %s\n", tracked.Address, tracked.PollInterval, tracked.Network)
			return nil
		},
	}
}

func trackRemoveCommand() *cli.Command {
	return &cli.Command{
		Name:      "rm",
		Usage:     "Stop reconciling an address",
		ArgsUsage: "ADDRESS",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: address")
			}
			address := c.Args().First()

			if err := newServerClient(c).Untrack(c.Context, address); err != nil {
				if errors.Is(err, client.ErrNotFound) {
					return fmt.Errorf("address %s is not tracked", address)
				}
				return fmt.Errorf("failed to untrack address: %w", err)
			}

			fmt.Printf("✓ Stopped tracking %s\n", address)
			return nil
		},
	}
}

func trackListCommand() *cli.Command {
	return &cli.Command{
		Name:    "ls",
		Aliases: []string{"list"},
		Usage:   "List tracked addresses",
		Action: func(c *cli.Context) error {
			tracked, err := newServerClient(c).ListTracked(c.Context)
			if err != nil {
				return fmt.Errorf("failed to list tracked addresses: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(os.Stdout, tracked)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ADDRESS\tNETWORK\tINTERVAL\tSTATUS\tCREATED")
			for _, ta := range tracked {
				fmt.Fprintf(w, "%s\t%s\t%v\t%s\t%s\n",
					ta.Address,
					ta.Network,
					ta.PollInterval,
					ta.Status,
					ta.CreatedAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d addresses\n", len(tracked))
			return nil
		},
	}
}

func trackSnapshotCommand() *cli.Command {
	return &cli.Command{
		Name:      "snapshot",
		Usage:     "Show the history stored by the last scheduled reconciliation",
		ArgsUsage: "ADDRESS",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "jq",
				Usage: "jq filter applied to each event",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: address")
			}
			address := c.Args().First()

			filters, err := compileFilters(c.StringSlice("jq"))
			if err != nil {
				return err
			}

			h, err := newServerClient(c).Snapshot(c.Context, address)
			if err != nil {
				if errors.Is(err, client.ErrNotFound) {
					return fmt.Errorf("no snapshot yet for %s", address)
				}
				return fmt.Errorf("failed to get snapshot: %w", err)
			}

			if !c.Bool("json") {
				fmt.Printf("Reconciled at %s\n\n", h.ReconciledAt.Format(time.RFC3339))
			}
			out := &historyPrinter{w: os.Stdout, filters: filters, json: c.Bool("json")}
			return out.print(historyToReport(h), h.Network, nil)
		},
	}
}
