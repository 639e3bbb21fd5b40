package channel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// DefaultCapacity is the history size given to topics when no other
// capacity has been configured.
const DefaultCapacity = 32

// Sentinel errors returned by receivers.
var (
	ErrLagged = errors.New("receiver lagged behind")
	ErrEmpty  = errors.New("topic empty")
	ErrClosed = errors.New("receiver closed")
)

// LaggedError reports how many messages a receiver missed because they were
// overwritten before it read them. The receiver has already been moved to the
// oldest retained message when this error is returned.
type LaggedError struct {
	Topic   string
	Skipped uint64
}

func (e *LaggedError) Error() string {
	return fmt.Sprintf("receiver on %q lagged behind by %d messages", e.Topic, e.Skipped)
}

// Is reports whether target is ErrLagged.
func (e *LaggedError) Is(target error) bool {
	return target == ErrLagged
}

// Observer receives bus events. Implementations must be safe for concurrent use.
type Observer interface {
	ObservePublish(topic string, receivers int)
	ObserveLag(topic string, skipped uint64)
}

// Option configures a Channels bus.
type Option func(*Channels)

// WithCapacity sets the initial history size for new topics.
func WithCapacity(n int) Option {
	return func(c *Channels) {
		if n > 0 {
			c.capacity.Store(int64(n))
		}
	}
}

// WithObserver attaches an observer to every topic created by the bus.
func WithObserver(o Observer) Option {
	return func(c *Channels) {
		c.observer = o
	}
}

// =============================================================================
// Channels
// =============================================================================

// Channels is a table of named broadcast topics. Topics are created on first
// reference and live as long as the bus.
type Channels struct {
	mu       sync.RWMutex
	topics   map[string]*Topic
	capacity atomic.Int64
	observer Observer
	logger   *zap.Logger
}

// New creates an empty bus.
func New(logger *zap.Logger, opts ...Option) *Channels {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Channels{
		topics: make(map[string]*Topic),
		logger: logger.With(zap.String("component", "channels")),
	}
	c.capacity.Store(DefaultCapacity)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetCapacity changes the history size used for topics created after the
// call. Existing topics keep their capacity. It returns false for n < 1.
func (c *Channels) SetCapacity(n int) bool {
	if n < 1 {
		return false
	}
	c.capacity.Store(int64(n))
	return true
}

// Capacity returns the history size new topics will get.
func (c *Channels) Capacity() int {
	return int(c.capacity.Load())
}

// Get returns a sender for the named topic, creating the topic if needed.
func (c *Channels) Get(name string) Sender {
	return Sender{topic: c.getOrCreate(name)}
}

// Subscribe returns a receiver on the named topic that only sees messages
// published after this call.
func (c *Channels) Subscribe(name string) *Receiver {
	return c.getOrCreate(name).subscribe()
}

// Lookup returns the topic if it already exists.
func (c *Channels) Lookup(name string) (*Topic, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.topics[name]
	return t, ok
}

// Topics returns the names of all created topics, sorted.
func (c *Channels) Topics() []string {
	c.mu.RLock()
	names := make([]string, 0, len(c.topics))
	for name := range c.topics {
		names = append(names, name)
	}
	c.mu.RUnlock()
	sort.Strings(names)
	return names
}

func (c *Channels) getOrCreate(name string) *Topic {
	c.mu.RLock()
	t, ok := c.topics[name]
	c.mu.RUnlock()
	if ok {
		return t
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.topics[name]; !ok {
		c.topics[name] = newTopic(name, int(c.capacity.Load()), c.observer)
		c.logger.Debug("topic created",
			zap.String("topic", name),
			zap.Int("capacity", c.topics[name].Cap()))
	}
	// Always hand out the table's entry so racing creators converge.
	return c.topics[name]
}

// =============================================================================
// Topic
// =============================================================================

type slot struct {
	seq uint64
	val any
}

// Topic is a bounded broadcast buffer. Every receiver sees every message
// published after it subscribed, unless it falls more than Cap messages
// behind.
type Topic struct {
	name     string
	observer Observer

	mu   sync.RWMutex
	buf  []slot
	tail uint64
	wake chan struct{}

	receivers atomic.Int64
}

func newTopic(name string, capacity int, observer Observer) *Topic {
	return &Topic{
		name:     name,
		observer: observer,
		buf:      make([]slot, capacity),
		wake:     make(chan struct{}),
	}
}

// Name returns the topic name.
func (t *Topic) Name() string { return t.name }

// Cap returns the history capacity fixed at creation.
func (t *Topic) Cap() int { return len(t.buf) }

// Len returns the number of retained messages.
func (t *Topic) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.tail < uint64(len(t.buf)) {
		return int(t.tail)
	}
	return len(t.buf)
}

// Receivers returns the number of open receivers.
func (t *Topic) Receivers() int {
	return int(t.receivers.Load())
}

func (t *Topic) send(val any) int {
	t.mu.Lock()
	t.buf[t.tail%uint64(len(t.buf))] = slot{seq: t.tail, val: val}
	t.tail++
	close(t.wake)
	t.wake = make(chan struct{})
	t.mu.Unlock()

	n := t.Receivers()
	if t.observer != nil {
		t.observer.ObservePublish(t.name, n)
	}
	return n
}

func (t *Topic) subscribe() *Receiver {
	t.mu.RLock()
	next := t.tail
	t.mu.RUnlock()
	t.receivers.Add(1)
	return &Receiver{topic: t, next: next}
}

// poll reads the message at seq. When nothing is available it returns the
// channel that will be closed by the next send.
func (t *Topic) poll(seq uint64) (val any, next uint64, wake <-chan struct{}, err error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if seq >= t.tail {
		return nil, seq, t.wake, nil
	}
	var oldest uint64
	if size := uint64(len(t.buf)); t.tail > size {
		oldest = t.tail - size
	}
	if seq < oldest {
		return nil, oldest, nil, &LaggedError{Topic: t.name, Skipped: oldest - seq}
	}
	s := t.buf[seq%uint64(len(t.buf))]
	return s.val, seq + 1, nil, nil
}

// =============================================================================
// Sender / Receiver
// =============================================================================

// Sender publishes to one topic. The zero value is not usable; copies share
// the same topic.
type Sender struct {
	topic *Topic
}

// Send publishes msg without blocking, overwriting the oldest retained
// message when the topic is full. It returns the number of receivers that
// were open at the time of the send.
func (s Sender) Send(msg any) int {
	return s.topic.send(msg)
}

// Subscribe derives a new receiver from the sender's topic.
func (s Sender) Subscribe() *Receiver {
	return s.topic.subscribe()
}

// Topic returns the topic name.
func (s Sender) Topic() string {
	return s.topic.name
}

// Receiver reads one topic in order. A Receiver is not safe for concurrent
// use; give each goroutine its own.
type Receiver struct {
	topic  *Topic
	next   uint64
	closed bool
}

// Recv blocks until the next message is available or ctx is done.
func (r *Receiver) Recv(ctx context.Context) (any, error) {
	for {
		val, wake, err := r.take()
		if err != nil || wake == nil {
			return val, err
		}
		select {
		case <-wake:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// TryRecv returns the next message if one is available, or ErrEmpty.
func (r *Receiver) TryRecv() (any, error) {
	val, wake, err := r.take()
	if err != nil {
		return nil, err
	}
	if wake != nil {
		return nil, ErrEmpty
	}
	return val, nil
}

func (r *Receiver) take() (any, <-chan struct{}, error) {
	if r.closed {
		return nil, nil, ErrClosed
	}
	val, next, wake, err := r.topic.poll(r.next)
	r.next = next
	var lagged *LaggedError
	if errors.As(err, &lagged) && r.topic.observer != nil {
		r.topic.observer.ObserveLag(r.topic.name, lagged.Skipped)
	}
	return val, wake, err
}

// Topic returns the topic name.
func (r *Receiver) Topic() string {
	return r.topic.name
}

// Close detaches the receiver. It is safe to call more than once.
func (r *Receiver) Close() {
	if r.closed {
		return
	}
	r.closed = true
	r.topic.receivers.Add(-1)
}
