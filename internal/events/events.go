// Package events publishes pipeline notifications to NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const DefaultSubject = "cisage.analysis.completed"

// AnalysisCompleted is emitted once per processed workflow failure.
type AnalysisCompleted struct {
	AnalysisID      int64     `json:"analysis_id"`
	WorkflowRunID   int64     `json:"workflow_run_id"`
	Repository      string    `json:"repository"`
	WorkflowName    string    `json:"workflow_name"`
	ErrorType       string    `json:"error_type"`
	ConfidenceScore float64   `json:"confidence_score"`
	SignatureHash   string    `json:"signature_hash"`
	CheckRunID      int64     `json:"check_run_id,omitempty"`
	IssueNumber     int       `json:"issue_number,omitempty"`
	PRNumber        int       `json:"pr_number,omitempty"`
	CompletedAt     time.Time `json:"completed_at"`
}

type Publisher interface {
	PublishAnalysis(ctx context.Context, ev AnalysisCompleted) error
	Close() error
}

// Nop drops every event.
type Nop struct{}

func (Nop) PublishAnalysis(context.Context, AnalysisCompleted) error { return nil }
func (Nop) Close() error                                             { return nil }

type NATSPublisher struct {
	nc      *nats.Conn
	subject string
	logger  *zap.Logger
}

// Connect dials url and returns a publisher for subject. The connection
// reconnects forever.
func Connect(url, subject string, logger *zap.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("events")
	nc, err := nats.Connect(url,
		nats.Name("cisage"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrlRedacted()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}
	return NewNATSPublisher(nc, subject, logger), nil
}

func NewNATSPublisher(nc *nats.Conn, subject string, logger *zap.Logger) *NATSPublisher {
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSPublisher{nc: nc, subject: subject, logger: logger}
}

func (p *NATSPublisher) Subject() string { return p.subject }

func (p *NATSPublisher) Connected() bool { return p.nc.IsConnected() }

func (p *NATSPublisher) PublishAnalysis(ctx context.Context, ev AnalysisCompleted) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := nats.NewMsg(p.subject)
	msg.Data = data
	msg.Header.Set("Content-Type", "application/json")
	msg.Header.Set("Cisage-Repository", ev.Repository)
	if err := p.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	p.logger.Debug("published analysis event",
		zap.String("subject", p.subject),
		zap.Int64("analysis_id", ev.AnalysisID))
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	if p.nc.IsClosed() {
		return nil
	}
	err := p.nc.Drain()
	if err != nil {
		p.nc.Close()
	}
	return err
}
