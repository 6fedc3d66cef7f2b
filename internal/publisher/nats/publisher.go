// Package nats forwards tap messages to a NATS subject.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

type conn interface {
	PublishMsg(msg *nats.Msg) error
}

// Publisher publishes JSON payloads on subject.<stream>.
type Publisher struct {
	conn    conn
	subject string
	seq     uint64
}

// New wraps an established connection.
func New(c conn, subject string) *Publisher {
	return &Publisher{conn: c, subject: subject}
}

// Dial connects to url and returns a Publisher plus the connection so the
// caller can drain it on shutdown.
func Dial(url, subject string) (*Publisher, *nats.Conn, error) {
	nc, err := nats.Connect(url, nats.Name("search-console-tap"))
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats: %w", err)
	}
	return New(nc, subject), nc, nil
}

// Publish marshals payload and publishes it. The returned id is the
// publisher-local sequence number since core NATS has no server ids.
func (p *Publisher) Publish(ctx context.Context, stream string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	subject := p.subject
	if stream != "" {
		subject += "." + stream
	}
	msg := nats.NewMsg(subject)
	msg.Data = data
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(msg.Header))
	if err := p.conn.PublishMsg(msg); err != nil {
		return "", fmt.Errorf("publish %s: %w", subject, err)
	}
	p.seq++
	return strconv.FormatUint(p.seq, 10), nil
}
