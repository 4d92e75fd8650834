// Package firestore implements the store gateway over Cloud Firestore.
package firestore

import (
	"context"
	"fmt"

	gfs "cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"sologram/internal/store"
)

// Store is a Firestore-backed document store gateway.
type Store struct {
	client *gfs.Client
}

// Open connects to the given project. credentialsFile may be empty, in which
// case application default credentials are used.
func Open(ctx context.Context, projectID, credentialsFile string) (*Store, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := gfs.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore client: %w", err)
	}
	return &Store{client: client}, nil
}

func (s *Store) Add(ctx context.Context, col string, fields map[string]any) (string, error) {
	ref, _, err := s.client.Collection(col).Add(ctx, translateFields(fields))
	if err != nil {
		return "", mapError(err)
	}
	return ref.ID, nil
}

func (s *Store) Set(ctx context.Context, col, id string, fields map[string]any) error {
	_, err := s.client.Collection(col).Doc(id).Set(ctx, translateFields(fields), gfs.MergeAll)
	return mapError(err)
}

func (s *Store) Get(ctx context.Context, col, id string) (store.Doc, error) {
	snap, err := s.client.Collection(col).Doc(id).Get(ctx)
	if err != nil {
		return store.Doc{}, mapError(err)
	}
	return store.Doc{ID: snap.Ref.ID, Data: snap.Data()}, nil
}

func (s *Store) Delete(ctx context.Context, col, id string) error {
	_, err := s.client.Collection(col).Doc(id).Delete(ctx)
	return mapError(err)
}

func (s *Store) Query(ctx context.Context, col string, q store.Query) ([]store.Doc, error) {
	iter := s.buildQuery(col, q).Documents(ctx)
	defer iter.Stop()

	var out []store.Doc
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			return out, nil
		}
		if err != nil {
			return nil, mapError(err)
		}
		out = append(out, store.Doc{ID: snap.Ref.ID, Data: snap.Data()})
	}
}

// Watch opens a snapshot listener and republishes the full result set on
// every change. The listener is released when the subscription is cancelled
// or ctx ends.
func (s *Store) Watch(ctx context.Context, col string, q store.Query) (*store.Subscription, error) {
	sub := store.NewSubscription(1)
	wctx, cancel := context.WithCancel(ctx)

	go func() {
		<-sub.Done()
		cancel()
	}()

	snaps := s.buildQuery(col, q).Snapshots(wctx)
	go func() {
		defer func() {
			snaps.Stop()
			cancel()
			sub.CloseUpdates()
		}()
		for {
			snap, err := snaps.Next()
			if err != nil {
				if wctx.Err() == nil {
					sub.Fail(mapError(err))
				}
				return
			}
			var docs []store.Doc
			for {
				d, derr := snap.Documents.Next()
				if derr == iterator.Done {
					break
				}
				if derr != nil {
					sub.Fail(mapError(derr))
					return
				}
				docs = append(docs, store.Doc{ID: d.Ref.ID, Data: d.Data()})
			}
			if !sub.Send(docs) {
				return
			}
		}
	}()
	return sub, nil
}

func (s *Store) RunTransaction(ctx context.Context, fn func(tx store.Tx) error) error {
	err := s.client.RunTransaction(ctx, func(_ context.Context, t *gfs.Transaction) error {
		return fn(&fsTx{store: s, tx: t})
	})
	return mapError(err)
}

func (s *Store) Close() error { return s.client.Close() }

func (s *Store) buildQuery(col string, q store.Query) gfs.Query {
	query := s.client.Collection(col).Query
	if q.Field != "" {
		query = query.Where(q.Field, q.Op, q.Value)
	}
	if q.OrderBy != "" {
		dir := gfs.Asc
		if q.Desc {
			dir = gfs.Desc
		}
		query = query.OrderBy(q.OrderBy, dir)
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}
	return query
}

type fsTx struct {
	store *Store
	tx    *gfs.Transaction
}

func (t *fsTx) Get(col, id string) (store.Doc, error) {
	snap, err := t.tx.Get(t.store.client.Collection(col).Doc(id))
	if err != nil {
		return store.Doc{}, mapError(err)
	}
	return store.Doc{ID: snap.Ref.ID, Data: snap.Data()}, nil
}

func (t *fsTx) Set(col, id string, fields map[string]any) error {
	return t.tx.Set(t.store.client.Collection(col).Doc(id), translateFields(fields), gfs.MergeAll)
}

// translateFields swaps the gateway's server-timestamp sentinel for the
// Firestore one.
func translateFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		switch val := v.(type) {
		case map[string]any:
			out[k] = translateFields(val)
		default:
			if v == store.ServerTimestamp {
				out[k] = gfs.ServerTimestamp
				continue
			}
			out[k] = v
		}
	}
	return out
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if status.Code(err) == codes.NotFound {
		return store.ErrNotFound
	}
	if status.Code(err) == codes.Aborted {
		return fmt.Errorf("%w: %v", store.ErrConflict, err)
	}
	return err
}
