package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/brojonat/solhist/client"
	"github.com/brojonat/solhist/service/history"
	"github.com/fatih/color"
	"github.com/itchyny/gojq"
)

// historyPrinter renders reconciled events as a table or as JSON lines.
type historyPrinter struct {
	w       io.Writer
	filters []*gojq.Code
	json    bool
	logger  *slog.Logger
}

// print writes the events of report that pass every jq filter. When seen is
// non-nil, events whose signature is already in it are skipped and printed
// signatures are added to it.
func (p *historyPrinter) print(report *history.Report, network string, seen map[string]bool) error {
	events := make([]client.Event, 0, len(report.Events))
	for _, ev := range toClientEvents(report.Events, network) {
		if seen != nil && seen[ev.Signature] {
			continue
		}
		ok, err := matchesFilters(p.filters, ev)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		events = append(events, ev)
		if seen != nil {
			seen[ev.Signature] = true
		}
	}

	if p.json {
		enc := json.NewEncoder(p.w)
		for _, ev := range events {
			if err := enc.Encode(ev); err != nil {
				return fmt.Errorf("failed to encode event: %w", err)
			}
		}
		return nil
	}

	if len(events) > 0 {
		printEventTable(p.w, events)
	}
	for _, s := range report.Skipped {
		fmt.Fprintf(p.w, "%s %s: %s\n", color.YellowString("skipped"), s.Signature, s.Reason)
	}
	return nil
}

func printEventTable(w io.Writer, events []client.Event) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tDIRECTION\tAMOUNT (SOL)\tCOUNTERPARTY\tSOURCE\tEXPLORER")
	for _, ev := range events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			time.UnixMilli(ev.Timestamp).UTC().Format(time.RFC3339),
			colorDirection(ev.Direction),
			ev.Amount.String(),
			ev.Counterparty,
			ev.Source,
			ev.ExplorerURL,
		)
	}
	tw.Flush()
}

func colorDirection(direction string) string {
	switch history.Direction(direction) {
	case history.Received:
		return color.GreenString(direction)
	case history.Sent:
		return color.RedString(direction)
	default:
		return direction
	}
}

func toClientEvents(events []history.TransferEvent, network string) []client.Event {
	out := make([]client.Event, len(events))
	for i, ev := range events {
		out[i] = client.Event{
			Signature:    ev.Signature,
			Counterparty: ev.Counterparty,
			Amount:       ev.Amount,
			Timestamp:    ev.Timestamp,
			Direction:    string(ev.Direction),
			Source:       string(ev.Source),
			ExplorerURL:  history.ExplorerURL(ev.Signature, network),
		}
	}
	return out
}

// compileFilters parses and compiles jq filter expressions.
func compileFilters(filters []string) ([]*gojq.Code, error) {
	compiled := make([]*gojq.Code, len(filters))
	for i, filter := range filters {
		query, err := gojq.Parse(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
		}
		compiled[i], err = gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
		}
	}
	return compiled, nil
}

// matchesFilters reports whether every filter yields a truthy first result
// for the event. A filter that errors or yields nothing does not match.
func matchesFilters(filters []*gojq.Code, ev client.Event) (bool, error) {
	if len(filters) == 0 {
		return true, nil
	}

	// gojq runs on plain JSON values, not structs.
	data, err := json.Marshal(ev)
	if err != nil {
		return false, fmt.Errorf("failed to marshal event: %w", err)
	}
	var input any
	if err := json.Unmarshal(data, &input); err != nil {
		return false, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	for _, code := range filters {
		v, ok := code.Run(input).Next()
		if !ok {
			return false, nil
		}
		if _, isErr := v.(error); isErr {
			return false, nil
		}
		if !isTruthy(v) {
			return false, nil
		}
	}
	return true, nil
}

// isTruthy checks if a jq result value is truthy.
// In jq, false and null are falsy, everything else is truthy.
func isTruthy(v any) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}

func outputJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}
