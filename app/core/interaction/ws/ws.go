// Package ws exposes the duplex business-diagnosis channel. Each session
// gets one connection; inbound messages on a connection are processed
// strictly in arrival order by a single read loop.
package ws

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"peeragent/app/core/hub"
	"peeragent/app/core/orchestrator"
	"peeragent/app/pkg/logger"
	"peeragent/app/pkg/types"
)

// PathPrefix is where the handler expects to be mounted.
const PathPrefix = "/ws/business/"

type inbound struct {
	Type    string            `json:"type"`
	Task    string            `json:"task,omitempty"`
	Answers map[string]string `json:"answers,omitempty"`
}

// transport serializes writes onto one websocket connection.
type transport struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (t *transport) WriteJSON(v interface{}) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.WriteJSON(v)
}

func (t *transport) Close() error {
	return t.conn.Close()
}

// Handler upgrades business-diagnosis connections and drives the dialogue
// over them.
type Handler struct {
	hub      *hub.Hub
	orch     *orchestrator.Orchestrator
	timeout  time.Duration
	upgrader websocket.Upgrader
}

func NewHandler(h *hub.Hub, orch *orchestrator.Orchestrator, timeout time.Duration) *Handler {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Handler{
		hub:     h,
		orch:    orch,
		timeout: timeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimPrefix(r.URL.Path, PathPrefix)
	if sessionID == "" || strings.Contains(sessionID, "/") {
		http.Error(w, "session id is required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("Upgrade failed for session %s: %v", sessionID, err)
		return
	}

	t := &transport{conn: conn}
	h.hub.Connect(sessionID, t)
	defer h.hub.Disconnect(sessionID, t)

	for {
		var msg inbound
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("Session %s read error: %v", sessionID, err)
			}
			return
		}
		h.handleMessage(sessionID, t, msg)
	}
}

func (h *Handler) handleMessage(sessionID string, t *transport, msg inbound) {
	switch msg.Type {
	case "ping":
		h.send(sessionID, "", map[string]interface{}{"type": "pong"})

	case "task":
		if strings.TrimSpace(msg.Task) == "" {
			h.send(sessionID, "", errorMessage("task text is required"))
			return
		}
		conv := h.hub.Conversation(sessionID)
		if conv == nil {
			return
		}
		h.hub.ResetConversation(sessionID)
		conv = h.hub.Conversation(sessionID)
		conv.Task = msg.Task
		conv.TaskID = newTaskID()

		h.send(sessionID, conv.TaskID, map[string]interface{}{"type": "ack", "task": msg.Task})
		h.step(sessionID, conv)

	case "answer":
		conv := h.hub.Conversation(sessionID)
		if conv == nil {
			return
		}
		if conv.Task == "" {
			h.send(sessionID, "", errorMessage("no task in progress, send a task first"))
			return
		}
		if len(msg.Answers) == 0 {
			h.send(sessionID, conv.TaskID, errorMessage("answers cannot be empty"))
			return
		}
		for question, answer := range msg.Answers {
			conv.Answers[question] = answer
		}
		conv.Pending = nil
		h.step(sessionID, conv)

	default:
		h.send(sessionID, "", errorMessage("unknown message type: "+msg.Type))
	}
}

// step runs one engine round and pushes the outcome.
func (h *Handler) step(sessionID string, conv *hub.Conversation) {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	answers := make(map[string]interface{}, len(conv.Answers))
	for q, a := range conv.Answers {
		answers[q] = a
	}

	result := h.orch.ExecuteDirect(ctx, types.CategoryBusiness, conv.Task, sessionID, conv.TaskID, map[string]interface{}{
		"rounds":  conv.Rounds,
		"answers": answers,
	})
	if result.Failed() {
		h.send(sessionID, conv.TaskID, errorMessage(result.Err.Error()))
		return
	}

	switch result.Output["type"] {
	case "questions":
		if rounds, ok := result.Output["rounds"].(int); ok {
			conv.Rounds = rounds
		}
		if questions, ok := result.Output["questions"].([]string); ok {
			conv.Pending = questions
		}
		h.send(sessionID, conv.TaskID, map[string]interface{}{
			"type":      "questions",
			"phase":     result.Output["phase"],
			"rounds":    result.Output["rounds"],
			"questions": result.Output["questions"],
		})

	case "diagnosis":
		taskID := conv.TaskID
		h.hub.ResetConversation(sessionID)
		h.send(sessionID, taskID, map[string]interface{}{
			"type":      "diagnosis",
			"phase":     result.Output["phase"],
			"diagnosis": result.Output["diagnosis"],
		})

	default:
		h.send(sessionID, conv.TaskID, map[string]interface{}{"type": "result", "result": result.Output})
	}
}

// send stamps the session ID, and the task ID when one is in scope, onto
// every outbound message.
func (h *Handler) send(sessionID, taskID string, message map[string]interface{}) {
	message["session_id"] = sessionID
	if taskID != "" {
		message["task_id"] = taskID
	}
	if err := h.hub.Send(sessionID, message); err != nil {
		logger.Debug("Could not deliver to session %s: %v", sessionID, err)
	}
}

func newTaskID() string {
	return "ws-task-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func errorMessage(text string) map[string]interface{} {
	return map[string]interface{}{"type": "error", "error": text}
}
