package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	natspkg "github.com/brojonat/solhist/service/nats"
	"github.com/fatih/color"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

// subscribeCommand streams snapshot events for an address.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Stream history snapshots published for an address",
		ArgsUsage: "[ADDRESS]",
		Description: `Subscribe to the snapshots the worker publishes after each scheduled
reconciliation. Snapshots are published to the subject: history.{address}
Without an address, snapshots for every tracked address are streamed.

Example:
  solhist nats subscribe 9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM --last`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "last",
				Usage: "Start with the latest stored snapshot per address instead of only new ones",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Durable consumer name (survives restarts)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() > 1 {
				return fmt.Errorf("accepts at most one argument: address")
			}

			subject := natspkg.StreamSubjects
			if c.NArg() == 1 {
				subject = natspkg.SubjectPrefix + "." + c.Args().First()
			}

			cfg := jetstream.ConsumerConfig{
				FilterSubject: subject,
				AckPolicy:     jetstream.AckExplicitPolicy,
				DeliverPolicy: jetstream.DeliverNewPolicy,
			}
			if c.Bool("last") {
				cfg.DeliverPolicy = jetstream.DeliverLastPerSubjectPolicy
			}
			if name := c.String("consumer-name"); name != "" {
				cfg.Durable = name
				cfg.Name = name
			}

			return streamSnapshots(c.String("nats-url"), cfg, c.Bool("json"))
		},
	}
}

// streamSnapshots connects to NATS and prints snapshot events until interrupted.
func streamSnapshots(natsURL string, cfg jetstream.ConsumerConfig, jsonOutput bool) error {
	nc, err := nats.Connect(natsURL, nats.Name("solhist-cli"))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cons, err := js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, cfg)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	if !jsonOutput {
		fmt.Printf("📡 Subscribing to: %s\n", cfg.FilterSubject)
		fmt.Printf("   NATS: %s\n\nWaiting for snapshots... (Ctrl-C to exit)\n\n", natsURL)
	}

	var count atomic.Int64
	cc, err := cons.Consume(func(msg jetstream.Msg) {
		defer msg.Ack()

		var event natspkg.SnapshotEvent
		if err := json.Unmarshal(msg.Data(), &event); err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing snapshot: %v\n", err)
			return
		}
		count.Add(1)

		if jsonOutput {
			data, _ := json.Marshal(event)
			fmt.Println(string(data))
			return
		}
		printSnapshotEvent(&event)
	})
	if err != nil {
		return fmt.Errorf("failed to consume: %w", err)
	}
	defer cc.Stop()

	<-ctx.Done()
	if !jsonOutput {
		fmt.Printf("\n✅ Received %d snapshots\n", count.Load())
	}
	return nil
}

func printSnapshotEvent(event *natspkg.SnapshotEvent) {
	fmt.Printf("─────────────────────────────────────────────────────\n")
	fmt.Printf("Address:      %s (%s)\n", event.Address, event.Network)
	fmt.Printf("Reconciled:   %s\n", event.ReconciledAt.Format(time.RFC3339))
	fmt.Printf("Events:       %d (skipped %d)\n", len(event.Events), event.Skipped)
	if len(event.Events) > 0 {
		latest := event.Events[0]
		fmt.Printf("Latest:       %s %s SOL %s\n",
			colorDirection(string(latest.Direction)),
			latest.Amount.String(),
			latest.Counterparty,
		)
		fmt.Printf("              %s\n", latest.ExplorerURL)
	}
	fmt.Printf("Published:    %s\n\n", color.CyanString(event.PublishedAt.Format(time.RFC3339)))
}

// inspectStreamCommand shows information about the history JetStream stream.
func inspectStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect-stream",
		Usage: "Inspect the HISTORY JetStream stream",
		Action: func(c *cli.Context) error {
			nc, err := nats.Connect(c.String("nats-url"), nats.Name("solhist-cli"))
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			stream, err := js.Stream(c.Context, natspkg.StreamName)
			if err != nil {
				return fmt.Errorf("failed to get stream: %w", err)
			}

			info, err := stream.Info(c.Context)
			if err != nil {
				return fmt.Errorf("failed to get stream info: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(os.Stdout, info)
			}

			fmt.Printf("Stream: %s\n", info.Config.Name)
			fmt.Printf("─────────────────────────────────────────────────────\n")
			fmt.Printf("Subjects:     %v\n", info.Config.Subjects)
			fmt.Printf("Messages:     %d\n", info.State.Msgs)
			fmt.Printf("Bytes:        %d\n", info.State.Bytes)
			fmt.Printf("Addresses:    %d\n", info.State.NumSubjects)
			fmt.Printf("Consumers:    %d\n", info.State.Consumers)
			fmt.Printf("Max Age:      %s\n", info.Config.MaxAge)
			fmt.Printf("Max/Subject:  %d\n", info.Config.MaxMsgsPerSubject)
			return nil
		},
	}
}
