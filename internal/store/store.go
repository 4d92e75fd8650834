// Package store defines the document store gateway: a schemaless realtime
// database addressed by slash-separated collection paths (users, posts,
// posts/{id}/comments, chats/{chatId}/messages). The application enforces
// its schema only at read time; documents are plain key/value maps here.
package store

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned when a requested document does not exist.
var ErrNotFound = errors.New("store: document not found")

// ErrConflict is returned when a transaction could not commit after the
// store's internal retries.
var ErrConflict = errors.New("store: transaction conflict")

type serverTimestamp struct{}

// ServerTimestamp is a sentinel field value replaced by the store with the
// commit time. Use it instead of client clocks for ordering-sensitive fields.
var ServerTimestamp serverTimestamp

// Doc is a single schemaless document.
type Doc struct {
	ID   string
	Data map[string]any
}

// Query describes a single-predicate filtered, ordered read. Field/Op/Value
// are ignored when Field is empty. Op supports "==" only, which is all the
// application ever asks of the store.
type Query struct {
	Field string
	Op    string
	Value any

	OrderBy string
	Desc    bool
	Limit   int
}

// Tx is the view of the store inside a transaction. Reads go against the
// authoritative copy, and writes are applied atomically at commit.
type Tx interface {
	Get(col, id string) (Doc, error)
	Set(col, id string, fields map[string]any) error
}

// Store is the document store gateway.
//
// Set merges fields into the document, creating it if absent. Watch returns
// a push-driven subscription whose every update carries the full materialized
// result set (no incremental patching); the caller owns the subscription and
// must Cancel it to release the listener. RunTransaction retries fn on write
// conflict; fn must be side-effect free apart from Tx writes.
type Store interface {
	Add(ctx context.Context, col string, fields map[string]any) (string, error)
	Set(ctx context.Context, col, id string, fields map[string]any) error
	Get(ctx context.Context, col, id string) (Doc, error)
	Delete(ctx context.Context, col, id string) error
	Query(ctx context.Context, col string, q Query) ([]Doc, error)
	Watch(ctx context.Context, col string, q Query) (*Subscription, error)
	RunTransaction(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

// Subscription is a live query handle. Updates delivers the full result set
// on every change, in store emission order, until Cancel is called or the
// watch context ends; Updates is then closed. Cancel is idempotent and safe
// from any goroutine.
type Subscription struct {
	updates chan []Doc
	stop    chan struct{}
	once    sync.Once

	mu  sync.Mutex
	err error
}

// NewSubscription creates a subscription driven by a store implementation.
// The implementation is the sole sender on the updates channel and closes it
// after observing Done.
func NewSubscription(buffer int) *Subscription {
	return &Subscription{
		updates: make(chan []Doc, buffer),
		stop:    make(chan struct{}),
	}
}

// Updates returns the channel of full result sets.
func (s *Subscription) Updates() <-chan []Doc { return s.updates }

// Cancel tears the subscription down. Idempotent.
func (s *Subscription) Cancel() {
	s.once.Do(func() { close(s.stop) })
}

// Done is closed once the subscription is cancelled.
func (s *Subscription) Done() <-chan struct{} { return s.stop }

// Send delivers one result set. Returns false when the subscription has been
// cancelled; the producer should then stop and call CloseUpdates.
func (s *Subscription) Send(docs []Doc) bool {
	select {
	case <-s.stop:
		return false
	case s.updates <- docs:
		return true
	}
}

// CloseUpdates closes the updates channel. Producer-side only, exactly once.
func (s *Subscription) CloseUpdates() { close(s.updates) }

// Fail records a terminal error and cancels the subscription.
func (s *Subscription) Fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.Cancel()
}

// Err returns the terminal error, if any, after Updates is closed.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
