// Package progress publishes pipeline progress to Redis pub/sub so listeners
// on other instances can follow an upload.
package progress

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/JonMunkholm/BridgeIntake/internal/core"
)

const (
	defaultPrefix  = "intake:progress:"
	queueSize      = 256
	publishTimeout = 2 * time.Second
)

// Options configures a Publisher.
type Options struct {
	Addr     string
	Password string
	DB       int
	// ChannelPrefix is prepended to the correlation id.
	ChannelPrefix string
}

// Publisher implements core.ProgressReporter over Redis pub/sub. Report only
// enqueues; a single goroutine publishes, and a full queue drops the event.
type Publisher struct {
	client *redis.Client
	prefix string
	queue  chan core.ProgressEvent
	done   chan struct{}
	once   sync.Once
}

var _ core.ProgressReporter = (*Publisher)(nil)

// NewPublisher connects to Redis and starts the publishing goroutine.
func NewPublisher(ctx context.Context, opts Options) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return newPublisher(client, opts.ChannelPrefix), nil
}

func newPublisher(client *redis.Client, prefix string) *Publisher {
	if prefix == "" {
		prefix = defaultPrefix
	}
	p := &Publisher{
		client: client,
		prefix: prefix,
		queue:  make(chan core.ProgressEvent, queueSize),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

// Channel returns the pub/sub channel for a correlation id.
func (p *Publisher) Channel(correlationID string) string {
	return p.prefix + correlationID
}

func (p *Publisher) Report(correlationID string, percent int) {
	select {
	case p.queue <- core.ProgressEvent{CorrelationID: correlationID, Percent: percent}:
	default:
		slog.Debug("progress queue full, event dropped", "correlation_id", correlationID, "percent", percent)
	}
}

func (p *Publisher) run() {
	defer close(p.done)
	for ev := range p.queue {
		payload, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := p.client.Publish(ctx, p.Channel(ev.CorrelationID), payload).Err(); err != nil {
			slog.Warn("progress publish failed", "correlation_id", ev.CorrelationID, "error", err)
		}
		cancel()
	}
}

// Close drains queued events and closes the Redis client. Report must not be
// called after Close.
func (p *Publisher) Close() error {
	var err error
	p.once.Do(func() {
		close(p.queue)
		<-p.done
		err = p.client.Close()
	})
	return err
}
