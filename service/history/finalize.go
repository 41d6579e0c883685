package history

import (
	"cmp"
	"slices"
)

// Finalize keeps the first event seen for each signature and orders the
// survivors newest first. Events with equal timestamps keep their input order.
// It returns the ordered events and the number of events dropped as duplicates.
func Finalize(events []TransferEvent) ([]TransferEvent, int) {
	seen := make(map[string]struct{}, len(events))
	out := make([]TransferEvent, 0, len(events))
	for _, e := range events {
		if _, ok := seen[e.Signature]; ok {
			continue
		}
		seen[e.Signature] = struct{}{}
		out = append(out, e)
	}

	slices.SortStableFunc(out, func(a, b TransferEvent) int {
		return cmp.Compare(b.Timestamp, a.Timestamp)
	})
	return out, len(events) - len(out)
}
