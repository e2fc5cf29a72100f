package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/bloomlabs/bloom/pkg/agent"
	"github.com/bloomlabs/bloom/pkg/sandbox"
	"github.com/bloomlabs/bloom/pkg/store"
)

// Server serves the REST API and websocket transcript stream.
type Server struct {
	chats     store.ChatStore
	messages  store.MessageStore
	runs      store.RunStore
	assistant *agent.Service
	devserver *agent.DevServer
	sandboxes sandbox.Provider
	srv       *http.Server
}

// New creates a new Server.
func New(
	chats store.ChatStore,
	messages store.MessageStore,
	runs store.RunStore,
	assistant *agent.Service,
	devserver *agent.DevServer,
	sandboxes sandbox.Provider,
) *Server {
	return &Server{
		chats:     chats,
		messages:  messages,
		runs:      runs,
		assistant: assistant,
		devserver: devserver,
		sandboxes: sandboxes,
	}
}

// Start starts the HTTP server.
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()

	// Chats
	mux.HandleFunc("GET /api/chats", s.handleListChats)
	mux.HandleFunc("POST /api/chats", s.handleCreateChat)
	mux.HandleFunc("GET /api/chats/{id}", s.handleGetChat)
	mux.HandleFunc("GET /api/chats/{id}/messages", s.handleListMessages)

	// Assistant
	mux.HandleFunc("POST /api/assistant", s.handleAssistant)

	// Runs
	mux.HandleFunc("POST /api/runs/start", s.handleStartRun)
	mux.HandleFunc("POST /api/runs/{id}/stop", s.handleStopRun)
	mux.HandleFunc("GET /api/runs/{id}", s.handleGetRun)
	mux.HandleFunc("GET /api/runs/{id}/logs", s.handleRunLogs)
	mux.HandleFunc("GET /api/chats/{id}/runs", s.handleListRuns)

	// WebSocket
	mux.HandleFunc("/api/chats/{id}/ws", s.handleChatWebSocket)

	s.srv = &http.Server{
		Addr:    addr,
		Handler: s.corsMiddleware(mux),
	}

	slog.Info("Starting web server", "addr", addr)
	return s.srv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, err error) {
	slog.Error("API Error", "error", err)
	s.jsonResponse(w, status, map[string]string{"error": err.Error()})
}
