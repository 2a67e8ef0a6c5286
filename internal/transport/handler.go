package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexus/internal/agent"
	"github.com/haasonsaas/nexus/internal/agentfactory"
	"github.com/haasonsaas/nexus/internal/sessionconfig"
	"github.com/haasonsaas/nexus/pkg/models"
)

// Authenticator verifies a bearer token and returns the user_id it
// identifies. Token issuance/verification itself is out of scope (spec.md
// §2's "out of scope: external collaborators"); the core only ever sees
// the already-verified result.
type Authenticator func(token string) (userID string, ok bool)

// Handler serves the turn endpoint: POST {message, thread_id} -> SSE
// stream of agent.Event frames. Grounded on internal/web/middleware.go's
// bearer-token-parsing convention (internal/gateway/http_server.go's
// mux.Handle wiring) and the inverse of internal/mcp/transport_http.go's
// client-side SSE loop.
type Handler struct {
	Authenticate Authenticator
	Resolver     *sessionconfig.Resolver
	Factory      *agentfactory.Factory
	Logger       *slog.Logger
}

type turnRequest struct {
	Message  string  `json:"message"`
	ThreadID *string `json:"thread_id"`
}

type errorBody struct {
	Kind   agent.Kind `json:"kind"`
	Detail string     `json:"detail"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := h.authenticate(r)
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, errorBody{Kind: agent.KindAuthRequired, Detail: "missing or invalid bearer token"})
		return
	}

	var req turnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, errorBody{Kind: agent.KindInternal, Detail: "invalid request body"})
		return
	}
	threadID := ""
	if req.ThreadID != nil {
		threadID = strings.TrimSpace(*req.ThreadID)
	}
	assignedThread := threadID == ""
	if assignedThread {
		threadID = uuid.NewString()
	}

	sessionCfg, err := h.Resolver.Resolve(r.Context(), userID, threadID)
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, errorBody{Kind: agent.KindAuthRequired, Detail: err.Error()})
		return
	}

	compiled, err := h.Factory.Get(models.AgentKeyFromSessionConfig(sessionCfg))
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, errorBody{Kind: agent.KindInternal, Detail: err.Error()})
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, err := compiled.RunTurn(ctx, agent.TurnConfig{
		ThreadID:       sessionCfg.ThreadID,
		UserID:         sessionCfg.UserID,
		RecursionLimit: sessionCfg.RecursionBound,
		Extra:          sessionCfg.Extra,
	}, req.Message, nil)
	if err != nil {
		status := http.StatusInternalServerError
		if agent.KindOf(err) == agent.KindThreadBusy {
			status = http.StatusConflict
		}
		writeJSONError(w, status, errorBody{Kind: agent.KindOf(err), Detail: err.Error()})
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		h.logError("sse writer unavailable", err)
		return
	}

	first := true
	for ev := range events {
		frame := *ev
		if first && assignedThread {
			frame.ThreadID = sessionCfg.ThreadID
		}
		first = false
		if err := sse.WriteEvent(frame); err != nil {
			// Client gone or write failed: cancel the in-flight turn so
			// the loop persists a checkpoint and stops instead of
			// running to completion with nobody reading its events.
			cancel()
			h.logError("sse write failed, cancelling turn", err)
			break
		}
	}
	_ = sse.WriteDone()
}

func (h *Handler) authenticate(r *http.Request) (string, bool) {
	if h.Authenticate == nil {
		return "", false
	}
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		return "", false
	}
	token := strings.TrimSpace(authHeader[len("bearer "):])
	if token == "" {
		return "", false
	}
	return h.Authenticate(token)
}

func (h *Handler) logError(msg string, err error) {
	if h.Logger == nil {
		return
	}
	h.Logger.Error(msg, "error", err)
}

func writeJSONError(w http.ResponseWriter, status int, body errorBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
