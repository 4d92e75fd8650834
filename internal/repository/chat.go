package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sologram/internal/models"
	"sologram/internal/observability"
	"sologram/internal/store"
)

const chatIDSeparator = "_"

func messagesCol(chatID string) string {
	return "chats/" + chatID + "/messages"
}

// ChatID derives the conversation id shared by two users. The two uids are
// sorted before joining, so both participants compute the same id without
// coordination.
func ChatID(a, b string) (string, error) {
	if err := validateUID(a); err != nil {
		return "", err
	}
	if err := validateUID(b); err != nil {
		return "", err
	}
	if a > b {
		a, b = b, a
	}
	return a + chatIDSeparator + b, nil
}

func validateUID(uid string) error {
	if uid == "" {
		return models.NewValidationError("user id must not be empty")
	}
	if strings.Contains(uid, chatIDSeparator) {
		return models.NewValidationError(fmt.Sprintf("user id %q contains reserved character %q", uid, chatIDSeparator))
	}
	return nil
}

// ChatRepository defines the interface for chat message operations
type ChatRepository interface {
	SendMessage(ctx context.Context, chatID, senderID, text string) (string, error)
	FetchMessages(ctx context.Context, chatID string) ([]*models.Message, error)
	SubscribeMessages(ctx context.Context, chatID string) (*MessageSubscription, error)
}

type chatRepository struct {
	store store.Store
	log   *observability.RepoLogger
}

// NewChatRepository creates a new chat repository
func NewChatRepository(st store.Store) ChatRepository {
	return &chatRepository{store: st, log: observability.NewRepoLogger("chats")}
}

// SendMessage appends a message to the conversation. Text that is empty
// after trimming is rejected before any write happens.
func (r *chatRepository) SendMessage(ctx context.Context, chatID, senderID, text string) (string, error) {
	if trimmedEmpty(text) {
		return "", models.ErrEmptyMessage
	}
	col := messagesCol(chatID)
	defer observability.ObserveStoreOp("create", col, time.Now())
	id, err := r.store.Add(ctx, col, map[string]any{
		"text":      text,
		"senderId":  senderID,
		"timestamp": store.ServerTimestamp,
	})
	if err != nil {
		r.log.LogError(ctx, "send_message", err)
		return "", err
	}
	observability.MessageThroughput.Inc()
	return id, nil
}

func messagesQuery() store.Query {
	return store.Query{OrderBy: "timestamp", Desc: false}
}

func (r *chatRepository) FetchMessages(ctx context.Context, chatID string) ([]*models.Message, error) {
	col := messagesCol(chatID)
	defer observability.ObserveStoreOp("query", col, time.Now())
	docs, err := r.store.Query(ctx, col, messagesQuery())
	if err != nil {
		return nil, err
	}
	return r.materializeMessages(ctx, col, docs), nil
}

// SubscribeMessages streams the full message list, oldest first, on every
// change. The caller owns the subscription and must Cancel it.
func (r *chatRepository) SubscribeMessages(ctx context.Context, chatID string) (*MessageSubscription, error) {
	col := messagesCol(chatID)
	sub, err := r.store.Watch(ctx, col, messagesQuery())
	if err != nil {
		return nil, err
	}
	msgs := &MessageSubscription{updates: make(chan []*models.Message, 1), sub: sub}
	observability.ActiveSubscriptions.Inc()
	go func() {
		defer func() {
			observability.ActiveSubscriptions.Dec()
			close(msgs.updates)
		}()
		for docs := range sub.Updates() {
			select {
			case msgs.updates <- r.materializeMessages(ctx, col, docs):
			case <-sub.Done():
				return
			}
		}
	}()
	return msgs, nil
}

func (r *chatRepository) materializeMessages(ctx context.Context, col string, docs []store.Doc) []*models.Message {
	messages := make([]*models.Message, 0, len(docs))
	for _, doc := range docs {
		msg, ok := decodeMessage(doc)
		if !ok {
			observability.MalformedDocsDropped.WithLabelValues(col).Inc()
			r.log.LogDropped(ctx, doc.ID, "missing required message fields")
			continue
		}
		messages = append(messages, msg)
	}
	return messages
}

// MessageSubscription is a live, typed view over one conversation.
type MessageSubscription struct {
	updates chan []*models.Message
	sub     *store.Subscription
}

// Updates returns the channel of materialized message lists. Closed after
// Cancel.
func (s *MessageSubscription) Updates() <-chan []*models.Message { return s.updates }

// Cancel releases the underlying store listener. Idempotent.
func (s *MessageSubscription) Cancel() { s.sub.Cancel() }

// Err reports the terminal subscription error, if any.
func (s *MessageSubscription) Err() error { return s.sub.Err() }

func decodeMessage(doc store.Doc) (*models.Message, bool) {
	text, ok := strField(doc.Data, "text")
	if !ok {
		return nil, false
	}
	senderID, ok := strField(doc.Data, "senderId")
	if !ok {
		return nil, false
	}
	ts, ok := timeField(doc.Data, "timestamp")
	if !ok {
		return nil, false
	}
	return &models.Message{ID: doc.ID, Text: text, SenderID: senderID, Timestamp: ts}, true
}
