package server

import (
	"context"
	"encoding/json"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"sologram/internal/auth"
	"sologram/internal/models"
	"sologram/internal/observability"
	"sologram/internal/repository"
)

// wsIdentity returns the identity stored by the auth middleware before the
// connection was upgraded.
func wsIdentity(conn *websocket.Conn) *auth.Identity {
	if ident, ok := conn.Locals("identity").(*auth.Identity); ok {
		return ident
	}
	return nil
}

func wsReject(conn *websocket.Conn, msg string) {
	_ = conn.WriteJSON(fiber.Map{"error": msg})
	_ = conn.Close()
}

type feedUpdate struct {
	Type  string         `json:"type"`
	Posts []*models.Post `json:"posts"`
}

type messagesUpdate struct {
	Type     string            `json:"type"`
	Messages []*models.Message `json:"messages"`
}

// WebSocketFeedHandler streams the global feed. Every update carries the
// full post list, newest first.
func (s *Server) WebSocketFeedHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sub, err := s.postService.SubscribeFeed(ctx)
		if err != nil {
			wsReject(conn, "subscription failed")
			return
		}
		s.streamFeed(conn, sub)
	})
}

// WebSocketAuthorFeedHandler streams one author's posts.
func (s *Server) WebSocketAuthorFeedHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sub, err := s.postService.SubscribeAuthorFeed(ctx, conn.Params("uid"))
		if err != nil {
			wsReject(conn, "subscription failed")
			return
		}
		s.streamFeed(conn, sub)
	})
}

// streamFeed owns the connection: a reader goroutine detects the client
// closing, the write loop forwards updates. The subscription is always
// released before the connection goes away.
func (s *Server) streamFeed(conn *websocket.Conn, sub *repository.FeedSubscription) {
	observability.WebSocketConnections.Inc()
	defer observability.WebSocketConnections.Dec()
	defer sub.Cancel()

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				sub.Cancel()
				return
			}
		}
	}()

	for posts := range sub.Updates() {
		if err := conn.WriteJSON(feedUpdate{Type: "feed", Posts: posts}); err != nil {
			break
		}
	}
	_ = conn.Close()
}

type userDirectoryEntry struct {
	*models.UserProfile
	Online bool `json:"online"`
}

type usersUpdate struct {
	Type  string               `json:"type"`
	Users []userDirectoryEntry `json:"users"`
}

// WebSocketUsersHandler streams the user directory for the chat partner
// picker. Each entry carries a presence flag from the notification hub.
func (s *Server) WebSocketUsersHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sub, err := s.userService.SubscribeUsers(ctx)
		if err != nil {
			wsReject(conn, "subscription failed")
			return
		}

		observability.WebSocketConnections.Inc()
		defer observability.WebSocketConnections.Dec()
		defer sub.Cancel()

		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					sub.Cancel()
					return
				}
			}
		}()

		for profiles := range sub.Updates() {
			entries := make([]userDirectoryEntry, 0, len(profiles))
			for _, p := range profiles {
				entries = append(entries, userDirectoryEntry{
					UserProfile: p,
					Online:      s.hub.IsOnline(p.UID),
				})
			}
			if err := conn.WriteJSON(usersUpdate{Type: "users", Users: entries}); err != nil {
				break
			}
		}
		_ = conn.Close()
	})
}

type incomingChatMessage struct {
	Text string `json:"text"`
}

// WebSocketChatHandler streams one conversation and accepts sends over the
// same connection.
func (s *Server) WebSocketChatHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		ident := wsIdentity(conn)
		otherUID := conn.Params("uid")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sub, err := s.chatService.SubscribeMessages(ctx, ident, otherUID)
		if err != nil {
			wsReject(conn, "subscription failed")
			return
		}

		observability.WebSocketConnections.Inc()
		defer observability.WebSocketConnections.Dec()
		defer sub.Cancel()

		go func() {
			for {
				_, raw, err := conn.ReadMessage()
				if err != nil {
					sub.Cancel()
					return
				}
				var incoming incomingChatMessage
				if err := json.Unmarshal(raw, &incoming); err != nil {
					log.Printf("WebSocket Chat: invalid message from %s", ident.UID)
					continue
				}
				// A successful send surfaces through the subscription, so
				// the reader never writes to the connection itself.
				if _, err := s.chatService.SendMessage(ctx, ident, otherUID, incoming.Text); err != nil {
					log.Printf("WebSocket Chat: send failed for %s: %v", ident.UID, err)
				}
			}
		}()

		for msgs := range sub.Updates() {
			if err := conn.WriteJSON(messagesUpdate{Type: "messages", Messages: msgs}); err != nil {
				break
			}
		}
		_ = conn.Close()
	})
}

// WebSocketNotificationsHandler delivers the caller's notification stream,
// fanned out from Redis through the hub.
func (s *Server) WebSocketNotificationsHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		ident := wsIdentity(conn)
		if ident == nil {
			wsReject(conn, "unauthorized")
			return
		}

		client, err := s.hub.Register(ident.UID, conn)
		if err != nil {
			log.Printf("WebSocket Notifications: failed to register %s: %v", ident.UID, err)
			wsReject(conn, err.Error())
			return
		}

		go client.WritePump()
		client.ReadPump()
	})
}
