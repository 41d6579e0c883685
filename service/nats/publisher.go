package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/solhist/service/metrics"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Publisher publishes reconciled history snapshots.
type Publisher interface {
	// PublishSnapshot publishes one snapshot to "history.{address}".
	PublishSnapshot(ctx context.Context, event *SnapshotEvent) error

	// Close closes the connection to NATS.
	Close() error
}

// JetStreamPublisher publishes snapshot events to NATS JetStream.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	logger  *slog.Logger
	metrics *metrics.Metrics
}

const (
	// StreamName is the name of the JetStream stream for history snapshots.
	StreamName = "HISTORY"

	// SubjectPrefix prefixes every snapshot subject.
	SubjectPrefix = "history"

	// StreamSubjects is the subject pattern for the stream.
	StreamSubjects = SubjectPrefix + ".*"

	// StreamRetention is how long messages are retained.
	StreamRetention = 7 * 24 * time.Hour

	// MaxMsgsPerSubject keeps only the latest snapshots per address; each
	// snapshot replaces the previous one wholesale.
	MaxMsgsPerSubject = 10
)

// NewPublisher creates a new JetStream publisher.
// It connects to NATS and ensures the stream exists.
// If metrics is nil, no metrics will be recorded.
func NewPublisher(natsURL string, m *metrics.Metrics, logger *slog.Logger) (*JetStreamPublisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("solhist-publisher"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	publisher := &JetStreamPublisher{
		nc:      nc,
		js:      js,
		logger:  logger,
		metrics: m,
	}

	if err := publisher.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}

	logger.Info("NATS publisher initialized",
		"url", natsURL,
		"stream", StreamName,
	)

	return publisher, nil
}

// ensureStream creates or updates the JetStream stream.
func (p *JetStreamPublisher) ensureStream() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := p.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:              StreamName,
		Description:       "Reconciled transfer history snapshots per Solana address",
		Subjects:          []string{StreamSubjects},
		Retention:         jetstream.LimitsPolicy,
		MaxAge:            StreamRetention,
		MaxMsgsPerSubject: MaxMsgsPerSubject,
		Storage:           jetstream.FileStorage,
		Replicas:          1,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	if info, err := stream.Info(ctx); err == nil {
		p.logger.Debug("JetStream stream ready",
			"stream", StreamName,
			"messages", info.State.Msgs,
		)
	}
	return nil
}

// PublishSnapshot publishes a single snapshot event.
func (p *JetStreamPublisher) PublishSnapshot(ctx context.Context, event *SnapshotEvent) (err error) {
	subject := event.Subject()
	defer metrics.Timer(time.Now(), func(d float64) {
		if p.metrics == nil {
			return
		}
		status := "success"
		if err != nil {
			status = "error"
		}
		p.metrics.RecordNATSPublish(StreamSubjects, status, d)
	})()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot event: %w", err)
	}

	// The reconcile time makes redelivered publishes of the same snapshot idempotent.
	msgID := fmt.Sprintf("%s-%d", event.Address, event.ReconciledAt.UnixNano())
	if _, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(msgID)); err != nil {
		return fmt.Errorf("failed to publish snapshot: %w", err)
	}

	p.logger.DebugContext(ctx, "published history snapshot",
		"subject", subject,
		"address", event.Address,
		"events", len(event.Events),
	)

	return nil
}

// Close closes the connection to NATS.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}
