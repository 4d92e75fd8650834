package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sologram/internal/store"
)

func TestAddAndGet(t *testing.T) {
	st := New()
	ctx := context.Background()

	id, err := st.Add(ctx, "posts", map[string]any{"title": "hello"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	doc, err := st.Get(ctx, "posts", id)
	require.NoError(t, err)
	assert.Equal(t, "hello", doc.Data["title"])
}

func TestGetNotFound(t *testing.T) {
	st := New()

	_, err := st.Get(context.Background(), "posts", "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSetMergesIntoExisting(t *testing.T) {
	st := New()
	ctx := context.Background()

	require.NoError(t, st.Set(ctx, "users", "u1", map[string]any{"a": 1, "b": 2}))
	require.NoError(t, st.Set(ctx, "users", "u1", map[string]any{"b": 3}))

	doc, err := st.Get(ctx, "users", "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Data["a"])
	assert.Equal(t, 3, doc.Data["b"])
}

func TestDelete(t *testing.T) {
	st := New()
	ctx := context.Background()

	require.NoError(t, st.Set(ctx, "users", "u1", map[string]any{"a": 1}))
	require.NoError(t, st.Delete(ctx, "users", "u1"))
	_, err := st.Get(ctx, "users", "u1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Deleting a missing document is a no-op.
	require.NoError(t, st.Delete(ctx, "users", "u1"))
}

func TestServerTimestampResolution(t *testing.T) {
	st := New()
	ctx := context.Background()

	id, err := st.Add(ctx, "posts", map[string]any{"timestamp": store.ServerTimestamp})
	require.NoError(t, err)

	doc, err := st.Get(ctx, "posts", id)
	require.NoError(t, err)
	ts, ok := doc.Data["timestamp"].(time.Time)
	require.True(t, ok, "sentinel must resolve to a concrete time")
	assert.False(t, ts.IsZero())
}

func TestServerTimestampsAreMonotonic(t *testing.T) {
	st := New()
	ctx := context.Background()

	var prev time.Time
	for i := 0; i < 10; i++ {
		id, err := st.Add(ctx, "posts", map[string]any{"timestamp": store.ServerTimestamp})
		require.NoError(t, err)
		doc, err := st.Get(ctx, "posts", id)
		require.NoError(t, err)
		ts := doc.Data["timestamp"].(time.Time)
		assert.True(t, ts.After(prev), "timestamps must strictly increase")
		prev = ts
	}
}

func TestQueryFilterOrderLimit(t *testing.T) {
	st := New()
	ctx := context.Background()

	for i, owner := range []string{"alice", "bob", "alice", "alice"} {
		require.NoError(t, st.Set(ctx, "posts", string(rune('a'+i)), map[string]any{
			"owner": owner,
			"rank":  i,
		}))
	}

	docs, err := st.Query(ctx, "posts", store.Query{
		Field: "owner", Op: "==", Value: "alice",
		OrderBy: "rank", Desc: true,
		Limit: 2,
	})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, 3, docs[0].Data["rank"])
	assert.Equal(t, 2, docs[1].Data["rank"])
}

func TestQueryDottedFieldPath(t *testing.T) {
	st := New()
	ctx := context.Background()

	require.NoError(t, st.Set(ctx, "posts", "p1", map[string]any{
		"author": map[string]any{"uid": "alice"},
	}))
	require.NoError(t, st.Set(ctx, "posts", "p2", map[string]any{
		"author": map[string]any{"uid": "bob"},
	}))

	docs, err := st.Query(ctx, "posts", store.Query{Field: "author.uid", Op: "==", Value: "alice"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "p1", docs[0].ID)
}

func TestGetReturnsClone(t *testing.T) {
	st := New()
	ctx := context.Background()

	require.NoError(t, st.Set(ctx, "users", "u1", map[string]any{"name": "alice"}))
	doc, err := st.Get(ctx, "users", "u1")
	require.NoError(t, err)
	doc.Data["name"] = "mutated"

	again, err := st.Get(ctx, "users", "u1")
	require.NoError(t, err)
	assert.Equal(t, "alice", again.Data["name"])
}

func TestTransactionReadModifyWrite(t *testing.T) {
	st := New()
	ctx := context.Background()

	require.NoError(t, st.Set(ctx, "counters", "c", map[string]any{"n": 0}))

	err := st.RunTransaction(ctx, func(tx store.Tx) error {
		doc, err := tx.Get("counters", "c")
		if err != nil {
			return err
		}
		return tx.Set("counters", "c", map[string]any{"n": doc.Data["n"].(int) + 1})
	})
	require.NoError(t, err)

	doc, err := st.Get(ctx, "counters", "c")
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Data["n"])
}

func TestTransactionRetriesUnderContention(t *testing.T) {
	st := New()
	ctx := context.Background()

	require.NoError(t, st.Set(ctx, "counters", "c", map[string]any{"n": 0}))

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- st.RunTransaction(ctx, func(tx store.Tx) error {
				doc, err := tx.Get("counters", "c")
				if err != nil {
					return err
				}
				return tx.Set("counters", "c", map[string]any{"n": doc.Data["n"].(int) + 1})
			})
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
		} else {
			require.ErrorIs(t, err, store.ErrConflict)
		}
	}
	require.Positive(t, succeeded)

	doc, err := st.Get(ctx, "counters", "c")
	require.NoError(t, err)
	// Every committed transaction incremented exactly once.
	assert.Equal(t, succeeded, doc.Data["n"])
}

func TestTransactionPropagatesCallbackError(t *testing.T) {
	st := New()

	boom := errors.New("boom")
	err := st.RunTransaction(context.Background(), func(tx store.Tx) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestWatchDeliversInitialAndUpdates(t *testing.T) {
	st := New()
	ctx := context.Background()

	sub, err := st.Watch(ctx, "posts", store.Query{OrderBy: "rank"})
	require.NoError(t, err)
	defer sub.Cancel()

	docs := receive(t, sub)
	assert.Empty(t, docs)

	require.NoError(t, st.Set(ctx, "posts", "p1", map[string]any{"rank": 1}))
	docs = receive(t, sub)
	require.Len(t, docs, 1)
	assert.Equal(t, "p1", docs[0].ID)
}

func TestWatchCancelClosesUpdates(t *testing.T) {
	st := New()

	sub, err := st.Watch(context.Background(), "posts", store.Query{})
	require.NoError(t, err)

	receive(t, sub)
	sub.Cancel()
	sub.Cancel()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-sub.Updates():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("updates channel not closed after cancel")
		}
	}
}

func TestWatchIgnoresOtherCollections(t *testing.T) {
	st := New()
	ctx := context.Background()

	sub, err := st.Watch(ctx, "posts", store.Query{})
	require.NoError(t, err)
	defer sub.Cancel()

	receive(t, sub)

	require.NoError(t, st.Set(ctx, "users", "u1", map[string]any{"a": 1}))
	select {
	case docs := <-sub.Updates():
		// A spurious wakeup may deliver the unchanged list, but never
		// documents from another collection.
		assert.Empty(t, docs)
	case <-time.After(100 * time.Millisecond):
	}
}

func receive(t *testing.T, sub *store.Subscription) []store.Doc {
	t.Helper()
	select {
	case docs, ok := <-sub.Updates():
		require.True(t, ok, "updates channel closed unexpectedly")
		return docs
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for update")
		return nil
	}
}
