package sinks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"google.golang.org/protobuf/proto"

	"github.com/miradorstack/mirador-botnet/internal/config"
	"github.com/miradorstack/mirador-botnet/internal/models"
	"github.com/miradorstack/mirador-botnet/internal/wire"
)

type publishConn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// NATSSink publishes each run result as a protobuf-encoded Struct.
type NATSSink struct {
	conn    publishConn
	subject string
	logger  *slog.Logger
}

// NewNATSSink connects to the configured server.
func NewNATSSink(cfg config.NATSSinkConfig, logger *slog.Logger) (*NATSSink, error) {
	nc, err := nats.Connect(cfg.URL, nats.Name("mirador-botnet"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("connected to nats", slog.String("url", cfg.URL), slog.String("subject", cfg.Subject))
	return newNATSSink(nc, cfg.Subject, logger), nil
}

func newNATSSink(conn publishConn, subject string, logger *slog.Logger) *NATSSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSSink{conn: conn, subject: subject, logger: logger}
}

// Name identifies the sink in logs and metrics.
func (s *NATSSink) Name() string { return "nats" }

// Write serializes the run result and publishes it to the subject.
func (s *NATSSink) Write(ctx context.Context, result models.RunResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := wire.RunResultToStruct(result)
	if err != nil {
		return fmt.Errorf("encode run: %w", err)
	}
	data, err := proto.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	if err := s.conn.Publish(s.subject, data); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	s.logger.Debug("published run", slog.String("run_id", result.RunID), slog.Int("bytes", len(data)))
	return nil
}

// Close drains and closes the connection.
func (s *NATSSink) Close() error {
	return s.conn.Drain()
}
