package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/brojonat/solhist/service/db"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"
)

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create the solhist tables if they do not exist",
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			if err := store.Migrate(c.Context); err != nil {
				return fmt.Errorf("failed to migrate database: %w", err)
			}

			fmt.Println("✓ Schema is up to date")
			return nil
		},
	}
}

func listTrackedDBCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-tracked",
		Usage:   "List tracked addresses with their stored snapshot, straight from the database",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "status",
				Aliases: []string{"s"},
				Usage:   "Filter by status",
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			ctx := c.Context
			tracked, err := store.ListTrackedAddresses(ctx)
			if err != nil {
				return fmt.Errorf("failed to list tracked addresses: %w", err)
			}

			statusFilter := c.String("status")
			if statusFilter != "" {
				filtered := make([]*db.TrackedAddress, 0, len(tracked))
				for _, ta := range tracked {
					if ta.Status == statusFilter {
						filtered = append(filtered, ta)
					}
				}
				tracked = filtered
			}

			if c.Bool("json") {
				return outputJSON(os.Stdout, tracked)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ADDRESS\tNETWORK\tSTATUS\tINTERVAL\tLAST RECONCILED\tEVENTS")
			for _, ta := range tracked {
				lastRun, events := "never", "-"
				report, err := store.GetSnapshot(ctx, ta.Address)
				switch {
				case err == nil:
					lastRun = report.ReconciledAt.Format(time.RFC3339)
					events = fmt.Sprint(len(report.Events))
				case !errors.Is(err, db.ErrNotFound):
					return fmt.Errorf("failed to get snapshot for %s: %w", ta.Address, err)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\t%s\n",
					ta.Address,
					ta.Network,
					ta.Status,
					ta.PollInterval,
					lastRun,
					events,
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d addresses\n", len(tracked))
			return nil
		},
	}
}

// getStore connects to the database named by --database-url.
func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	ctx, cancel := context.WithTimeout(c.Context, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db.NewStore(pool, nil), pool.Close, nil
}
