package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/brojonat/solhist/service/db"
	"github.com/brojonat/solhist/service/history"
	"github.com/brojonat/solhist/service/temporal"
	"github.com/urfave/cli/v2"
	"go.temporal.io/sdk/client"
)

func listSchedulesCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Usage:   "List history schedules",
		Aliases: []string{"ls"},
		Action: func(c *cli.Context) error {
			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			addresses, err := scheduledAddresses(c, temporalClient)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SCHEDULE ID\tADDRESS")
			for _, address := range addresses {
				fmt.Fprintf(w, "%s%s\t%s\n", temporal.SchedulePrefix, address, address)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d schedules\n", len(addresses))
			return nil
		},
	}
}

func describeScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "describe",
		Usage:     "Describe the history schedule of an address",
		Aliases:   []string{"desc"},
		ArgsUsage: "ADDRESS",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: address")
			}

			scheduleID := temporal.SchedulePrefix + c.Args().First()
			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			ctx := c.Context
			desc, err := temporalClient.ScheduleClient().GetHandle(ctx, scheduleID).Describe(ctx)
			if err != nil {
				return fmt.Errorf("failed to describe schedule: %w", err)
			}

			fmt.Printf("Schedule ID:    %s\n", scheduleID)
			fmt.Printf("State Note:     %s\n", desc.Schedule.State.Note)
			fmt.Printf("Paused:         %v\n", desc.Schedule.State.Paused)

			if wa, ok := desc.Schedule.Action.(*client.ScheduleWorkflowAction); ok {
				fmt.Printf("\nWorkflow:\n")
				fmt.Printf("  Workflow:     %v\n", wa.Workflow)
				fmt.Printf("  Task Queue:   %s\n", wa.TaskQueue)
			}

			for i, interval := range desc.Schedule.Spec.Intervals {
				fmt.Printf("Interval %d:     every %v\n", i+1, interval.Every)
			}

			fmt.Printf("\nRecent Actions: %d\n", len(desc.Info.RecentActions))
			if n := len(desc.Info.RecentActions); n > 0 {
				fmt.Printf("Last Action:    %s\n", desc.Info.RecentActions[n-1].ActualTime.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func pauseScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "pause",
		Usage:     "Pause the history schedule of an address",
		ArgsUsage: "ADDRESS",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "note",
				Usage: "Note explaining why schedule is paused",
				Value: "Paused via solhist CLI",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: address")
			}

			scheduleID := temporal.SchedulePrefix + c.Args().First()
			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			handle := temporalClient.ScheduleClient().GetHandle(c.Context, scheduleID)
			if err := handle.Pause(c.Context, client.SchedulePauseOptions{Note: c.String("note")}); err != nil {
				return fmt.Errorf("failed to pause schedule: %w", err)
			}

			fmt.Printf("✓ Schedule paused: %s\n", scheduleID)
			return nil
		},
	}
}

func resumeScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "resume",
		Usage:     "Resume the paused history schedule of an address",
		ArgsUsage: "ADDRESS",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "note",
				Usage: "Note explaining why schedule is resumed",
				Value: "Resumed via solhist CLI",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: address")
			}

			scheduleID := temporal.SchedulePrefix + c.Args().First()
			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			handle := temporalClient.ScheduleClient().GetHandle(c.Context, scheduleID)
			if err := handle.Unpause(c.Context, client.ScheduleUnpauseOptions{Note: c.String("note")}); err != nil {
				return fmt.Errorf("failed to resume schedule: %w", err)
			}

			fmt.Printf("✓ Schedule resumed: %s\n", scheduleID)
			return nil
		},
	}
}

func reconcileSchedulesCommand() *cli.Command {
	return &cli.Command{
		Name:  "reconcile",
		Usage: "Compare tracked addresses in the database with Temporal schedules",
		Description: `Reports tracked addresses without a schedule and schedules without a
tracked address. With --fix, missing schedules are created and orphaned ones deleted.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "fix",
				Usage: "Create missing schedules and delete orphaned ones",
			},
			&cli.StringFlag{
				Name:    "task-queue",
				Usage:   "Task queue for created schedules",
				EnvVars: []string{"TEMPORAL_TASK_QUEUE"},
				Value:   "solhist-reconcile",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Signatures per scheduled reconciliation",
				Value: history.DefaultLimit,
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			ctx := c.Context
			tracked, err := store.ListTrackedAddresses(ctx)
			if err != nil {
				return fmt.Errorf("failed to list tracked addresses: %w", err)
			}
			scheduled, err := scheduledAddresses(c, temporalClient)
			if err != nil {
				return err
			}

			missing, orphaned := diffSchedules(tracked, scheduled)
			intervals := make(map[string]time.Duration, len(tracked))
			for _, ta := range tracked {
				intervals[ta.Address] = ta.PollInterval
			}

			fmt.Printf("Tracked addresses: %d\n", len(tracked))
			fmt.Printf("Schedules:         %d\n", len(scheduled))
			for _, address := range missing {
				fmt.Printf("  missing schedule:  %s\n", address)
			}
			for _, address := range orphaned {
				fmt.Printf("  orphaned schedule: %s\n", address)
			}

			if len(missing) == 0 && len(orphaned) == 0 {
				fmt.Println("\n✓ Database and schedules agree")
				return nil
			}
			if !c.Bool("fix") {
				fmt.Println("\nTo fix these issues, run: solhist schedules reconcile --fix")
				return nil
			}

			scheduler, err := temporal.NewClient(
				c.String("temporal-host"),
				c.String("temporal-namespace"),
				c.String("task-queue"),
				c.Int("limit"),
				newCLILogger(c.String("log-level")),
			)
			if err != nil {
				return err
			}
			defer scheduler.Close()

			fmt.Printf("\nFixing inconsistencies...\n")
			for _, address := range missing {
				if err := scheduler.UpsertHistorySchedule(ctx, address, intervals[address]); err != nil {
					fmt.Printf("  ✗ Failed to create schedule for %s: %v\n", address, err)
					continue
				}
				fmt.Printf("  ✓ Created schedule for %s\n", address)
			}
			for _, address := range orphaned {
				if err := scheduler.DeleteHistorySchedule(ctx, address); err != nil {
					fmt.Printf("  ✗ Failed to delete schedule for %s: %v\n", address, err)
					continue
				}
				fmt.Printf("  ✓ Deleted orphaned schedule for %s\n", address)
			}
			return nil
		},
	}
}

// diffSchedules returns the tracked addresses without a schedule and the
// scheduled addresses that are no longer tracked, both sorted.
func diffSchedules(tracked []*db.TrackedAddress, scheduled []string) (missing, orphaned []string) {
	isTracked := make(map[string]bool, len(tracked))
	for _, ta := range tracked {
		isTracked[ta.Address] = true
	}
	hasSchedule := make(map[string]bool, len(scheduled))
	for _, address := range scheduled {
		hasSchedule[address] = true
	}

	for address := range isTracked {
		if !hasSchedule[address] {
			missing = append(missing, address)
		}
	}
	for address := range hasSchedule {
		if !isTracked[address] {
			orphaned = append(orphaned, address)
		}
	}
	sort.Strings(missing)
	sort.Strings(orphaned)
	return missing, orphaned
}

// scheduledAddresses lists the addresses that have a history schedule.
func scheduledAddresses(c *cli.Context, temporalClient client.Client) ([]string, error) {
	iter, err := temporalClient.ScheduleClient().List(c.Context, client.ScheduleListOptions{
		PageSize: 100,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}

	var addresses []string
	for iter.HasNext() {
		schedule, err := iter.Next()
		if err != nil {
			return nil, fmt.Errorf("failed to iterate schedules: %w", err)
		}
		if address, ok := temporal.AddressFromScheduleID(schedule.ID); ok {
			addresses = append(addresses, address)
		}
	}
	sort.Strings(addresses)
	return addresses, nil
}

// getTemporalClient connects to Temporal using the global flags.
func getTemporalClient(c *cli.Context) (client.Client, error) {
	temporalClient, err := client.Dial(client.Options{
		HostPort:  c.String("temporal-host"),
		Namespace: c.String("temporal-namespace"),
		Logger:    temporal.NewLogger(newCLILogger(c.String("log-level"))),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}
	return temporalClient, nil
}
