package stackforge

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/heroiclabs/nakama-common/runtime"
	"github.com/nats-io/nats.go"
)

var subjectTokenReplacer = strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_")

// NatsPublisher publishes each event as JSON on <prefix>.<userID>.<event name>.
type NatsPublisher struct {
	conn          *nats.Conn
	subjectPrefix string
}

func NewNatsPublisher(url, subjectPrefix string, opts ...nats.Option) (*NatsPublisher, error) {
	if subjectPrefix == "" {
		subjectPrefix = defaultSubjectPrefix
	}
	opts = append([]nats.Option{
		nats.Name("stackforge"),
		nats.Timeout(5 * time.Second),
	}, opts...)

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &NatsPublisher{
		conn:          conn,
		subjectPrefix: subjectPrefix,
	}, nil
}

func (p *NatsPublisher) Send(ctx context.Context, logger runtime.Logger, userID string, events []*PublisherEvent) {
	for _, event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			logger.Error("Failed to marshal publisher event %s: %v", event.Name, err)
			continue
		}
		if err := p.conn.Publish(p.Subject(userID, event.Name), data); err != nil {
			logger.Warn("Failed to publish event %s for user %s: %v", event.Name, userID, err)
		}
	}
}

// Subject returns the subject an event for the user is published on.
func (p *NatsPublisher) Subject(userID, eventName string) string {
	return p.subjectPrefix + "." + subjectTokenReplacer.Replace(userID) + "." + subjectTokenReplacer.Replace(eventName)
}

// Close flushes pending messages and closes the connection.
func (p *NatsPublisher) Close() error {
	return p.conn.Drain()
}
