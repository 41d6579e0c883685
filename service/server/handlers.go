package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/brojonat/solhist/service/config"
	"github.com/brojonat/solhist/service/db"
	"github.com/brojonat/solhist/service/history"
	solanasvc "github.com/brojonat/solhist/service/solana"
	"github.com/brojonat/solhist/service/temporal"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB - plenty for a tracking request
	maxAddressLength   = 100     // Solana addresses are 44 chars, give buffer
	maxPollInterval    = 24 * time.Hour
)

var (
	// Valid Solana address characters: base58 (no 0, O, I, l)
	validAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)
)

// handleHistory returns a handler that reconciles an address's transfer history live.
// GET /api/v1/history/{address}?limit=N
func handleHistory(reconciler Reconciler, network string, defaultLimit int, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		if err := validateAddress(address); err != nil {
			logger.Debug("invalid address", "address", address, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		limit, err := parseLimit(r.URL.Query().Get("limit"), defaultLimit)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		report, err := reconciler.Reconcile(r.Context(), address, limit)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				logger.Debug("history request cancelled", "address", address)
				return
			}
			logger.Error("failed to reconcile history", "address", address, "error", err)
			writeError(w, fmt.Sprintf("failed to list transactions: %v", err), http.StatusBadGateway)
			return
		}

		logger.Debug("history reconciled",
			"address", address,
			"events", len(report.Events),
			"skipped", len(report.Skipped),
		)
		writeJSON(w, reportToResponse(report, network), http.StatusOK)
	})
}

// handleTrack returns a handler that starts tracking an address on a schedule.
// POST /api/v1/tracked
func handleTrack(store Store, scheduler temporal.Scheduler, cfg *config.Config, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Limit request body size to prevent memory exhaustion
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req struct {
			Address      string `json:"address"`
			PollInterval string `json:"poll_interval"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Debug("failed to decode track request", "error", err)
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, "request body too large: maximum size is 1MB", http.StatusBadRequest)
				return
			}
			writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
			return
		}

		if err := validateAddress(req.Address); err != nil {
			logger.Debug("invalid address", "address", req.Address, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		pollInterval := cfg.DefaultPollInterval
		if req.PollInterval != "" {
			parsed, err := time.ParseDuration(req.PollInterval)
			if err != nil {
				writeError(w, fmt.Sprintf("invalid poll_interval: %v", err), http.StatusBadRequest)
				return
			}
			pollInterval = parsed
		}
		if err := validatePollInterval(pollInterval, cfg.MinPollInterval); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		tracked, err := store.UpsertTrackedAddress(r.Context(), db.UpsertTrackedAddressParams{
			Address:      req.Address,
			Network:      cfg.SolanaNetwork,
			PollInterval: pollInterval,
		})
		if err != nil {
			logger.Error("failed to store tracked address", "address", req.Address, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		if err := scheduler.UpsertHistorySchedule(r.Context(), req.Address, pollInterval); err != nil {
			logger.Error("failed to schedule reconciliation", "address", req.Address, "error", err)
			// Roll back so the store never lists an address nothing reconciles.
			if delErr := store.DeleteTrackedAddress(r.Context(), req.Address); delErr != nil {
				logger.Error("failed to roll back tracked address", "address", req.Address, "error", delErr)
			}
			writeError(w, "failed to schedule reconciliation", http.StatusInternalServerError)
			return
		}

		logger.Info("address tracked",
			"address", tracked.Address,
			"poll_interval", tracked.PollInterval,
		)
		writeJSON(w, trackedToResponse(tracked), http.StatusCreated)
	})
}

// handleListTracked returns a handler that lists all tracked addresses.
// GET /api/v1/tracked
func handleListTracked(store Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tracked, err := store.ListTrackedAddresses(r.Context())
		if err != nil {
			logger.Error("failed to list tracked addresses", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		resp := make([]trackedResponse, len(tracked))
		for i, ta := range tracked {
			resp[i] = trackedToResponse(ta)
		}

		writeJSON(w, map[string]interface{}{
			"tracked": resp,
		}, http.StatusOK)
	})
}

// handleUntrack returns a handler that stops tracking an address.
// DELETE /api/v1/tracked/{address}
func handleUntrack(store Store, scheduler temporal.Scheduler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		if err := validateAddress(address); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		// Delete the schedule first; if this fails the address stays tracked.
		if err := scheduler.DeleteHistorySchedule(r.Context(), address); err != nil {
			logger.Warn("failed to delete schedule", "address", address, "error", err)
		}

		if err := store.DeleteTrackedAddress(r.Context(), address); err != nil {
			if errors.Is(err, db.ErrNotFound) {
				writeError(w, "address not tracked", http.StatusNotFound)
				return
			}
			logger.Error("failed to delete tracked address", "address", address, "error", err)
			writeError(w, "failed to untrack address", http.StatusInternalServerError)
			return
		}

		logger.Info("address untracked", "address", address)
		w.WriteHeader(http.StatusNoContent)
	})
}

// handleSnapshot returns a handler that serves the last stored history of an address.
// GET /api/v1/tracked/{address}/snapshot
func handleSnapshot(store Store, network string, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		if err := validateAddress(address); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		report, err := store.GetSnapshot(r.Context(), address)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				writeError(w, "no snapshot for address", http.StatusNotFound)
				return
			}
			logger.Error("failed to get snapshot", "address", address, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, reportToResponse(report, network), http.StatusOK)
	})
}

// handleHealth reports whether the database is reachable.
// GET /health
func handleHealth(store Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := store.Ping(ctx); err != nil {
			logger.Warn("health check failed", "error", err)
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// parseLimit parses the limit query parameter. Values are bounded by the
// reconciler's own maximum.
func parseLimit(raw string, defaultLimit int) (int, error) {
	if raw == "" {
		return defaultLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errorf("invalid limit parameter: must be an integer")
	}
	if limit < 1 {
		return 0, errorf("limit must be at least 1")
	}
	if limit > history.MaxLimit {
		return 0, errorf("limit cannot exceed %d", history.MaxLimit)
	}
	return limit, nil
}

// validateAddress validates an address for security and format.
func validateAddress(address string) error {
	if address == "" {
		return errorf("address is required")
	}

	if len(address) > maxAddressLength {
		return errorf("address too long: maximum length is %d characters", maxAddressLength)
	}

	// Check for null bytes and control characters
	for _, r := range address {
		if r == 0 || unicode.IsControl(r) {
			return errorf("invalid characters in address: control characters not allowed")
		}
	}

	if !validAddressRegex.MatchString(address) {
		return errorf("invalid address format: must contain only valid base58 characters")
	}

	// Base58 alone admits strings that do not decode to a 32-byte key.
	if err := solanasvc.ValidateAddress(address); err != nil {
		return errorf("invalid address: not a 32-byte public key")
	}

	return nil
}

// validatePollInterval validates a poll interval for reasonable bounds.
func validatePollInterval(interval, minInterval time.Duration) error {
	if interval <= 0 {
		return errorf("poll_interval must be positive")
	}

	if interval < minInterval {
		return errorf("poll_interval must be at least %v", minInterval)
	}

	if interval > maxPollInterval {
		return errorf("poll_interval cannot exceed %v", maxPollInterval)
	}

	return nil
}

// errorf is a helper to format error strings.
func errorf(format string, args ...interface{}) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
