package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/bloomlabs/bloom/pkg/domain"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func (s *Server) handleChatWebSocket(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")
	if chatID == "" {
		http.Error(w, "Missing chat ID", http.StatusBadRequest)
		return
	}

	// Verify the chat exists.
	if _, err := s.chats.GetChat(r.Context(), chatID); err != nil {
		http.Error(w, "Chat not found", http.StatusNotFound)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade websocket", "error", err)
		return
	}
	defer ws.Close()

	done := make(chan struct{})
	updates := s.messages.Subscribe()

	// Send initial transcript state. The fingerprint map lets the sync resend
	// messages that were updated in place, not just newly appended ones.
	sent := make(map[string]string)
	if err := s.syncTranscript(ws, chatID, sent); err != nil {
		slog.Error("Failed initial transcript sync", "error", err)
		return
	}

	var wg sync.WaitGroup
	wg.Add(1)

	// Writer goroutine: pushes transcript changes to the client.
	go func() {
		defer wg.Done()
		defer ws.Close()

		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case eventID := <-updates:
				if eventID == chatID {
					if err := s.syncTranscript(ws, chatID, sent); err != nil {
						slog.Error("Failed transcript sync", "error", err)
						return
					}
				}
			case <-ticker.C:
				// Keepalive
			}
		}
	}()

	// Reader loop: receives user messages.
	for {
		var msg struct {
			Content string `json:"content"`
		}
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				break
			}
			slog.Error("WebSocket read error", "error", err)
			break
		}

		if msg.Content != "" {
			entry := &domain.Message{
				ID:      uuid.New().String(),
				ChatID:  chatID,
				Role:    domain.RoleUser,
				Type:    domain.MessageTypeStandard,
				Content: msg.Content,
			}
			if err := s.messages.AddMessage(r.Context(), entry); err != nil {
				slog.Error("Failed to append user message", "error", err)
			}
		}
	}

	close(done)
	wg.Wait()
}

func (s *Server) syncTranscript(ws *websocket.Conn, chatID string, sent map[string]string) error {
	messages, err := s.messages.ListByChat(context.Background(), chatID)
	if err != nil {
		return err
	}

	for _, m := range messages {
		fp := messageFingerprint(m)
		if sent[m.ID] == fp {
			continue
		}
		if err := ws.WriteJSON(m); err != nil {
			return err
		}
		sent[m.ID] = fp
	}
	return nil
}

// messageFingerprint captures the mutable parts of a message so updated
// action status entries get resent.
func messageFingerprint(m domain.Message) string {
	actions, _ := json.Marshal(m.Actions)
	return m.Content + "\x00" + m.Thoughts + "\x00" + string(actions)
}
