package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// DefaultSubject is where audit entries are published when none is
// configured.
const DefaultSubject = "finz.audit"

// NATS publishes audit entries to a NATS subject. Publishing is
// fire-and-forget; there is no delivery confirmation.
type NATS struct {
	conn    *nats.Conn
	subject string
}

var _ Sink = (*NATS)(nil)

// NewNATS connects to the given NATS URL and publishes to subject.
func NewNATS(url, subject string) (*NATS, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	if subject == "" {
		subject = DefaultSubject
	}
	conn, err := nats.Connect(url, nats.Name("finzcore-audit"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATS{conn: conn, subject: subject}, nil
}

// Emit publishes the entry as JSON.
func (n *NATS) Emit(_ context.Context, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}
	if err := n.conn.Publish(n.subject, data); err != nil {
		return fmt.Errorf("publish audit entry: %w", err)
	}
	return nil
}

// Close drains and closes the connection.
func (n *NATS) Close() {
	if n.conn != nil {
		n.conn.Close()
	}
}
