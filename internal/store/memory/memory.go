// Package memory implements the store gateway in process memory. It is the
// backend for every test and for development without cloud credentials,
// with the same contracts as the hosted store: merge-on-set, optimistic
// transactions with retry, and full-list watch delivery.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"sologram/internal/store"

	"github.com/google/uuid"
)

const maxTxAttempts = 8

type document struct {
	data    map[string]any
	version uint64
}

type watcher struct {
	col    string
	query  store.Query
	notify chan struct{}
}

// Store is an in-memory document store.
type Store struct {
	mu       sync.RWMutex
	cols     map[string]map[string]*document
	watchers map[*watcher]struct{}
	now      func() time.Time
	lastTS   time.Time
}

// New returns an empty in-memory store.
func New() *Store {
	return NewWithClock(time.Now)
}

// NewWithClock returns a store using the given clock for server timestamps.
func NewWithClock(now func() time.Time) *Store {
	return &Store{
		cols:     make(map[string]map[string]*document),
		watchers: make(map[*watcher]struct{}),
		now:      now,
	}
}

func (s *Store) Add(ctx context.Context, col string, fields map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return id, s.Set(ctx, col, id, fields)
}

func (s *Store) Set(ctx context.Context, col, id string, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.applyLocked(col, id, fields)
	s.mu.Unlock()
	s.notifyWatchers(col)
	return nil
}

func (s *Store) Get(ctx context.Context, col, id string) (store.Doc, error) {
	if err := ctx.Err(); err != nil {
		return store.Doc{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.cols[col][id]
	if !ok {
		return store.Doc{}, store.ErrNotFound
	}
	return store.Doc{ID: id, Data: cloneMap(doc.data)}, nil
}

func (s *Store) Delete(ctx context.Context, col, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if docs, ok := s.cols[col]; ok {
		delete(docs, id)
	}
	s.mu.Unlock()
	s.notifyWatchers(col)
	return nil
}

func (s *Store) Query(ctx context.Context, col string, q store.Query) ([]store.Doc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryLocked(col, q), nil
}

// Watch registers a listener for col and sends the current result set
// immediately, then again after every commit touching col. Updates may be
// coalesced while the consumer is slow; each delivery is always the complete
// current list, so nothing is lost by coalescing.
func (s *Store) Watch(ctx context.Context, col string, q store.Query) (*store.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub := store.NewSubscription(1)
	w := &watcher{col: col, query: q, notify: make(chan struct{}, 1)}
	w.notify <- struct{}{} // initial snapshot

	s.mu.Lock()
	s.watchers[w] = struct{}{}
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.watchers, w)
			s.mu.Unlock()
			sub.CloseUpdates()
		}()
		for {
			select {
			case <-ctx.Done():
				sub.Fail(ctx.Err())
				return
			case <-sub.Done():
				return
			case <-w.notify:
				s.mu.RLock()
				docs := s.queryLocked(col, q)
				s.mu.RUnlock()
				if !sub.Send(docs) {
					return
				}
			}
		}
	}()
	return sub, nil
}

// RunTransaction runs fn against a consistent view and commits its writes
// atomically. Commit fails when any document read inside the transaction has
// changed since; fn is then re-run against the fresh state, up to
// maxTxAttempts times.
func (s *Store) RunTransaction(ctx context.Context, fn func(tx store.Tx) error) error {
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		tx := &memTx{store: s, reads: make(map[string]uint64)}
		if err := fn(tx); err != nil {
			return err
		}
		if cols, ok := s.commit(tx); ok {
			for _, col := range cols {
				s.notifyWatchers(col)
			}
			return nil
		}
	}
	return fmt.Errorf("%w: gave up after %d attempts", store.ErrConflict, maxTxAttempts)
}

func (s *Store) Close() error { return nil }

// Len reports the number of documents in a collection. Test helper.
func (s *Store) Len(col string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cols[col])
}

// --- internals ---

// applyLocked merges fields into col/id, resolving server timestamps and
// bumping the version. Caller holds mu.
func (s *Store) applyLocked(col, id string, fields map[string]any) {
	docs, ok := s.cols[col]
	if !ok {
		docs = make(map[string]*document)
		s.cols[col] = docs
	}
	doc, ok := docs[id]
	if !ok {
		doc = &document{data: make(map[string]any)}
		docs[id] = doc
	}
	ts := s.nextTimestampLocked()
	for k, v := range resolveFields(fields, ts) {
		doc.data[k] = v
	}
	doc.version++
}

// nextTimestampLocked returns a commit time strictly after the previous one,
// so ordering by server timestamp is total even within one clock tick.
func (s *Store) nextTimestampLocked() time.Time {
	t := s.now()
	if !t.After(s.lastTS) {
		t = s.lastTS.Add(time.Microsecond)
	}
	s.lastTS = t
	return t
}

func (s *Store) queryLocked(col string, q store.Query) []store.Doc {
	var out []store.Doc
	for id, doc := range s.cols[col] {
		if q.Field != "" && q.Op == "==" {
			if !valueEqual(lookupField(doc.data, q.Field), q.Value) {
				continue
			}
		}
		out = append(out, store.Doc{ID: id, Data: cloneMap(doc.data)})
	}
	if q.OrderBy != "" {
		sort.SliceStable(out, func(i, j int) bool {
			a := lookupField(out[i].Data, q.OrderBy)
			b := lookupField(out[j].Data, q.OrderBy)
			if q.Desc {
				return valueLess(b, a)
			}
			return valueLess(a, b)
		})
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func (s *Store) notifyWatchers(col string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for w := range s.watchers {
		if w.col != col {
			continue
		}
		select {
		case w.notify <- struct{}{}:
		default: // a refresh is already pending
		}
	}
}

type txWrite struct {
	col, id string
	fields  map[string]any
}

type memTx struct {
	store  *Store
	reads  map[string]uint64 // col+id -> version at read time (0 = absent)
	writes []txWrite
}

func txKey(col, id string) string { return col + "\x00" + id }

func (t *memTx) Get(col, id string) (store.Doc, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	doc, ok := t.store.cols[col][id]
	if !ok {
		t.reads[txKey(col, id)] = 0
		return store.Doc{}, store.ErrNotFound
	}
	t.reads[txKey(col, id)] = doc.version
	return store.Doc{ID: id, Data: cloneMap(doc.data)}, nil
}

func (t *memTx) Set(col, id string, fields map[string]any) error {
	t.writes = append(t.writes, txWrite{col: col, id: id, fields: cloneMap(fields)})
	return nil
}

// commit validates read versions and applies staged writes. Returns the
// touched collections and whether the commit succeeded.
func (s *Store) commit(tx *memTx) ([]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, version := range tx.reads {
		col, id, _ := strings.Cut(key, "\x00")
		current := uint64(0)
		if doc, ok := s.cols[col][id]; ok {
			current = doc.version
		}
		if current != version {
			return nil, false
		}
	}
	var cols []string
	for _, w := range tx.writes {
		s.applyLocked(w.col, w.id, w.fields)
		cols = append(cols, w.col)
	}
	return cols, true
}

// --- value helpers ---

// lookupField resolves a dotted field path against nested maps.
func lookupField(data map[string]any, path string) any {
	cur := any(data)
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[part]
	}
	return cur
}

func valueEqual(a, b any) bool {
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	na, aok := toFloat(a)
	nb, bok := toFloat(b)
	if aok && bok {
		return na == nb
	}
	return a == b
}

func valueLess(a, b any) bool {
	switch va := a.(type) {
	case time.Time:
		if vb, ok := b.(time.Time); ok {
			return va.Before(vb)
		}
	case string:
		if vb, ok := b.(string); ok {
			return va < vb
		}
	}
	na, aok := toFloat(a)
	nb, bok := toFloat(b)
	if aok && bok {
		return na < nb
	}
	// Missing values sort first, matching the hosted store.
	return a == nil && b != nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// resolveFields deep-copies fields, substituting commit time for the
// ServerTimestamp sentinel.
func resolveFields(fields map[string]any, ts time.Time) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = resolveValue(v, ts)
	}
	return out
}

func resolveValue(v any, ts time.Time) any {
	switch val := v.(type) {
	case map[string]any:
		return resolveFields(val, ts)
	case []any:
		cp := make([]any, len(val))
		for i, e := range val {
			cp[i] = resolveValue(e, ts)
		}
		return cp
	case []string:
		cp := make([]any, len(val))
		for i, e := range val {
			cp[i] = e
		}
		return cp
	default:
		if v == store.ServerTimestamp {
			return ts
		}
		return v
	}
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case map[string]any:
			out[k] = cloneMap(val)
		case []any:
			cp := make([]any, len(val))
			copy(cp, val)
			out[k] = cp
		default:
			out[k] = v
		}
	}
	return out
}
