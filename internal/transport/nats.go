// Package transport carries chat traffic over NATS. Inbound messages
// arrive on <prefix>.chat.in.<session>; every reply for that session is
// published to <prefix>.chat.out.<session>.
package transport

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/vinayprograms/agentkit/logging"
)

// Handler processes one inbound message and returns the replies to
// publish, in order.
type Handler func(ctx context.Context, sessionID, text string) ([]string, error)

// NATS is the chat transport.
type NATS struct {
	conn   *nats.Conn
	prefix string
	logger *logging.Logger
	sub    *nats.Subscription
}

// Connect dials the NATS server.
func Connect(url, prefix string, logger *logging.Logger) (*NATS, error) {
	if logger == nil {
		logger = logging.New()
	}
	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", url, err)
	}
	return &NATS{conn: conn, prefix: prefix, logger: logger.WithComponent("transport")}, nil
}

// Conn exposes the underlying connection for JetStream consumers.
func (t *NATS) Conn() *nats.Conn { return t.conn }

// Serve subscribes to the inbound subject tree and dispatches each
// message to handler. It returns once the subscription is live;
// handling runs on the NATS delivery goroutine.
func (t *NATS) Serve(ctx context.Context, handler Handler) error {
	subject := t.prefix + ".chat.in.>"
	sub, err := t.conn.Subscribe(subject, func(msg *nats.Msg) {
		session := sessionFromSubject(t.prefix, msg.Subject)
		if session == "" {
			t.logger.Warn("message on malformed subject", map[string]interface{}{"subject": msg.Subject})
			return
		}
		replies, err := handler(ctx, session, string(msg.Data))
		if err != nil {
			t.logger.Error("handler failed", map[string]interface{}{
				"session": session, "error": err.Error(),
			})
		}
		for _, reply := range replies {
			if err := t.Send(session, reply); err != nil {
				t.logger.Error("publish failed", map[string]interface{}{
					"session": session, "error": err.Error(),
				})
			}
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	t.sub = sub
	t.logger.Info("chat transport listening", map[string]interface{}{"subject": subject})
	return nil
}

// Send publishes one outbound message for session.
func (t *NATS) Send(sessionID, text string) error {
	return t.conn.Publish(t.prefix+".chat.out."+sessionID, []byte(text))
}

// Close drains the subscription and closes the connection.
func (t *NATS) Close() error {
	if t.sub != nil {
		if err := t.sub.Drain(); err != nil {
			return err
		}
	}
	return t.conn.Drain()
}

// sessionFromSubject extracts the session ID suffix from an inbound
// subject. Session IDs may themselves contain dots.
func sessionFromSubject(prefix, subject string) string {
	head := prefix + ".chat.in."
	if !strings.HasPrefix(subject, head) {
		return ""
	}
	return subject[len(head):]
}
