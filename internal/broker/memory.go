package broker

import (
	"context"
	"sync"

	"statusflow/internal/config"
	"statusflow/internal/constants"
	"statusflow/internal/logger"
	"statusflow/pkg/metrics"
)

const memoryQueueSize = 1024

// MemoryConnection is an in-process broker. Publishers and subscribers must
// share the same MemoryConnection value.
type MemoryConnection struct {
	cfg    config.BrokerConfig
	logger logger.Logger
	queue  chan Message
	done   chan struct{}

	mu       sync.Mutex
	rejected []Message
	closed   bool
}

func NewMemoryConnection(cfg config.BrokerConfig, log logger.Logger) *MemoryConnection {
	return &MemoryConnection{
		cfg:    cfg,
		logger: log,
		queue:  make(chan Message, memoryQueueSize),
		done:   make(chan struct{}),
	}
}

func (c *MemoryConnection) Type() string {
	return constants.BrokerTypeMemory
}

func (c *MemoryConnection) Publisher() (Publisher, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	return memoryPublisher{conn: c}, nil
}

func (c *MemoryConnection) Subscriber() (Subscriber, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	workers := c.cfg.MaxUnacked
	if workers < 1 {
		workers = 1
	}
	return memorySubscriber{conn: c, workers: workers}, nil
}

func (c *MemoryConnection) Ping(ctx context.Context) error {
	if c.isClosed() {
		return ErrClosed
	}
	return nil
}

func (c *MemoryConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	return nil
}

// Rejected returns the messages whose handler returned an error.
func (c *MemoryConnection) Rejected() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.rejected))
	copy(out, c.rejected)
	return out
}

// Pending reports how many published messages are not yet delivered.
func (c *MemoryConnection) Pending() int {
	return len(c.queue)
}

func (c *MemoryConnection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type memoryPublisher struct {
	conn *MemoryConnection
}

func (p memoryPublisher) Publish(ctx context.Context, msg Message) error {
	if p.conn.isClosed() {
		return ErrClosed
	}

	msg.Body = append([]byte(nil), msg.Body...)
	msg.Headers = copyHeaders(msg.Headers)

	select {
	case p.conn.queue <- msg:
		metrics.IncBrokerPublished(constants.BrokerTypeMemory, "ok")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.conn.done:
		return ErrClosed
	}
}

type memorySubscriber struct {
	conn    *MemoryConnection
	workers int
}

func (s memorySubscriber) Subscribe(ctx context.Context, handler HandlerFunc) error {
	handlerCtx := context.WithoutCancel(ctx)
	c := s.conn

	var (
		wg        sync.WaitGroup
		closedErr error
		once      sync.Once
	)
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-c.done:
					once.Do(func() { closedErr = ErrClosed })
					return
				case msg := <-c.queue:
					d := Delivery{
						ID:         msg.ID,
						Body:       msg.Body,
						RoutingKey: c.cfg.RoutingKey,
						Headers:    msg.Headers,
					}
					if err := invoke(handlerCtx, constants.BrokerTypeMemory, c.logger, handler, d); err != nil {
						c.mu.Lock()
						c.rejected = append(c.rejected, msg)
						c.mu.Unlock()
					}
				}
			}
		}()
	}
	wg.Wait()

	if ctx.Err() != nil {
		return nil
	}
	return closedErr
}
