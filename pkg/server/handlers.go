package server

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/bloomlabs/bloom/pkg/agent"
	"github.com/bloomlabs/bloom/pkg/domain"
)

// --- Chats ---

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	chats, err := s.chats.ListChats(r.Context())
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, chats)
}

func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title   string `json:"title"`
		Message string `json:"message"`
	}
	// An empty or absent body is fine; it creates a bare chat.
	_ = json.NewDecoder(r.Body).Decode(&body)

	chat := domain.Chat{
		ID:    uuid.New().String(),
		Title: body.Title,
	}
	if chat.Title == "" {
		chat.Title = "New Chat"
	}
	if err := s.chats.CreateChat(r.Context(), &chat); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}

	if body.Message != "" {
		msg := &domain.Message{
			ID:      uuid.New().String(),
			ChatID:  chat.ID,
			Role:    domain.RoleUser,
			Type:    domain.MessageTypeStandard,
			Content: body.Message,
		}
		if err := s.messages.AddMessage(r.Context(), msg); err != nil {
			s.errorResponse(w, http.StatusInternalServerError, err)
			return
		}
	}
	s.jsonResponse(w, http.StatusCreated, map[string]string{"chatId": chat.ID})
}

func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	chat, err := s.chats.GetChat(r.Context(), id)
	if err != nil {
		s.errorResponse(w, http.StatusNotFound, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, chat)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	messages, err := s.messages.ListByChat(r.Context(), id)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, messages)
}

// --- Assistant ---

func (s *Server) handleAssistant(w http.ResponseWriter, r *http.Request) {
	var req agent.TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	if err := req.Validate(); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}

	if err := s.assistant.HandleTurn(r.Context(), req); err != nil {
		// Surface the failure in the transcript so the user sees it where
		// they asked, not only in the HTTP response.
		errMsg := &domain.Message{
			ID:      uuid.New().String(),
			ChatID:  req.ChatID,
			Role:    domain.RoleAssistant,
			Type:    domain.MessageTypeStandard,
			Content: "System error: " + err.Error(),
		}
		if aerr := s.messages.AddMessage(r.Context(), errMsg); aerr != nil {
			s.errorResponse(w, http.StatusInternalServerError, err)
			return
		}
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]bool{"ok": true})
}

// --- Runs ---

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ChatID string `json:"chatId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ChatID == "" {
		s.jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "Missing chatId"})
		return
	}

	sr, previewURL, err := s.devserver.StartForChat(r.Context(), body.ChatID)
	if err != nil {
		// The caller polls run status; failures travel in the body, not the
		// HTTP status.
		resp := map[string]string{"error": err.Error()}
		if sr != nil {
			resp["runId"] = sr.RunID
			resp["sandboxId"] = sr.Session.ID()
		}
		s.jsonResponse(w, http.StatusOK, resp)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{
		"runId":      sr.RunID,
		"sandboxId":  sr.Session.ID(),
		"previewUrl": previewURL,
	})
}

func (s *Server) handleStopRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.devserver.Stop(r.Context(), s.sandboxes, id); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, err := s.runs.GetRun(r.Context(), id)
	if err != nil {
		s.errorResponse(w, http.StatusNotFound, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, run)
}

func (s *Server) handleRunLogs(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, err := s.runs.GetRun(r.Context(), id)
	if err != nil {
		s.errorResponse(w, http.StatusNotFound, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"runId": run.ID, "logs": run.Logs})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	runs, err := s.runs.ListRunsByChat(r.Context(), id)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, runs)
}
