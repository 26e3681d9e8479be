package notify

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	redis "github.com/redis/go-redis/v9"
)

// RedisStream appends events to a capped Redis stream as {data: <json>}.
type RedisStream struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewRedisStream(client *redis.Client, stream string) *RedisStream {
	if stream == "" {
		stream = "notifications"
	}
	return &RedisStream{client: client, stream: stream, maxLen: 10000}
}

func (r *RedisStream) Name() string { return "redis" }

func (r *RedisStream) Publish(ctx context.Context, payload []byte) error {
	return r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		MaxLen: r.maxLen,
		Approx: true,
		Values: map[string]interface{}{"data": string(payload)},
	}).Err()
}

// NATS publishes events on one subject.
type NATS struct {
	conn    *nats.Conn
	subject string
}

func NewNATS(conn *nats.Conn, subject string) *NATS {
	if subject == "" {
		subject = "notesync.notifications"
	}
	return &NATS{conn: conn, subject: subject}
}

// ConnectNATS dials url with reconnects enabled.
func ConnectNATS(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url, nats.Name("notesync"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return nc, nil
}

func (n *NATS) Name() string { return "nats" }

func (n *NATS) Publish(_ context.Context, payload []byte) error {
	return n.conn.Publish(n.subject, payload)
}
