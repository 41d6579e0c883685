package server

import (
	"time"

	"github.com/brojonat/solhist/service/db"
	"github.com/brojonat/solhist/service/history"
)

// eventResponse is the JSON response format for a transfer event.
type eventResponse struct {
	Signature    string `json:"signature"`
	Counterparty string `json:"counterparty"`
	Amount       string `json:"amount"` // SOL, decimal string
	Timestamp    int64  `json:"timestamp"`
	Direction    string `json:"direction"`
	Source       string `json:"source"`
	ExplorerURL  string `json:"explorer_url"`
}

// historyResponse is the JSON response format for a reconciled history.
type historyResponse struct {
	Address      string                     `json:"address"`
	Network      string                     `json:"network"`
	ReconciledAt time.Time                  `json:"reconciled_at"`
	Events       []eventResponse            `json:"events"`
	Skipped      []history.SkippedSignature `json:"skipped"`
	DroppedLegs  int                        `json:"dropped_legs"`
}

func reportToResponse(report *history.Report, network string) historyResponse {
	resp := historyResponse{
		Address:      report.Subject,
		Network:      network,
		ReconciledAt: report.ReconciledAt,
		Events:       make([]eventResponse, len(report.Events)),
		Skipped:      report.Skipped,
		DroppedLegs:  report.DroppedLegs,
	}
	if resp.Skipped == nil {
		resp.Skipped = []history.SkippedSignature{}
	}
	for i, ev := range report.Events {
		resp.Events[i] = eventResponse{
			Signature:    ev.Signature,
			Counterparty: ev.Counterparty,
			Amount:       ev.Amount.String(),
			Timestamp:    ev.Timestamp,
			Direction:    string(ev.Direction),
			Source:       string(ev.Source),
			ExplorerURL:  history.ExplorerURL(ev.Signature, network),
		}
	}
	return resp
}

// trackedResponse is the JSON response format for a tracked address.
type trackedResponse struct {
	Address      string    `json:"address"`
	Network      string    `json:"network"`
	PollInterval string    `json:"poll_interval"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func trackedToResponse(ta *db.TrackedAddress) trackedResponse {
	return trackedResponse{
		Address:      ta.Address,
		Network:      ta.Network,
		PollInterval: ta.PollInterval.String(),
		Status:       ta.Status,
		CreatedAt:    ta.CreatedAt,
		UpdatedAt:    ta.UpdatedAt,
	}
}
