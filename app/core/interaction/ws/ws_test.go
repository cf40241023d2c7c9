package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"peeragent/app/core/classify"
	"peeragent/app/core/hub"
	"peeragent/app/core/llm"
	"peeragent/app/core/memory"
	"peeragent/app/core/orchestrator"
	"peeragent/app/pkg/types"
)

func newTestServer(t *testing.T) (*httptest.Server, *hub.Hub) {
	t.Helper()

	client := llm.NewMockClientWithFunc(func(ctx context.Context, messages []types.ChatMessage) (string, error) {
		if strings.Contains(messages[0].Content, "final diagnosis") {
			return `{"customer_stated_problem": "sales down", "identified_business_problem": "pricing mismatch", "hidden_root_risk": "customer churn", "urgency_level": "Critical"}`, nil
		}
		return `{"questions": ["When did it start?", "Which metric moved?"], "category": "identify"}`, nil
	})

	h := hub.New()
	orch := orchestrator.New(classify.New(client, nil), memory.NewStore(time.Hour, 10))
	orch.Register(orchestrator.NewBusinessHandler(client, 3))

	mux := http.NewServeMux()
	mux.Handle(PathPrefix, NewHandler(h, orch, time.Minute))
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, h
}

func dial(t *testing.T, server *httptest.Server, session string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + PathPrefix + session
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]interface{}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return msg
}

func TestPingPong(t *testing.T) {
	server, _ := newTestServer(t)
	conn := dial(t, server, "s1")

	if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if msg := readMessage(t, conn); msg["type"] != "pong" {
		t.Fatalf("expected pong, got %v", msg)
	}
}

func TestTaskToQuestionsToDiagnosis(t *testing.T) {
	server, _ := newTestServer(t)
	conn := dial(t, server, "s1")

	if err := conn.WriteJSON(map[string]string{"type": "task", "task": "my sales are dropping"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	if msg := readMessage(t, conn); msg["type"] != "ack" {
		t.Fatalf("expected ack, got %v", msg)
	}

	first := readMessage(t, conn)
	if first["type"] != "questions" || first["phase"] != "identify" {
		t.Fatalf("expected identify questions, got %v", first)
	}

	answer := func() {
		if err := conn.WriteJSON(map[string]interface{}{
			"type":    "answer",
			"answers": map[string]string{"When did it start?": "last quarter"},
		}); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}

	answer()
	second := readMessage(t, conn)
	if second["type"] != "questions" || second["phase"] != "clarify" {
		t.Fatalf("expected clarify questions, got %v", second)
	}

	answer()
	final := readMessage(t, conn)
	if final["type"] != "diagnosis" {
		t.Fatalf("expected diagnosis, got %v", final)
	}
	diagnosis := final["diagnosis"].(map[string]interface{})
	if diagnosis["urgency_level"] != "Critical" {
		t.Fatalf("unexpected diagnosis: %v", diagnosis)
	}
}

func TestAnswerWithoutTask(t *testing.T) {
	server, _ := newTestServer(t)
	conn := dial(t, server, "s1")

	if err := conn.WriteJSON(map[string]interface{}{
		"type":    "answer",
		"answers": map[string]string{"q": "a"},
	}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if msg := readMessage(t, conn); msg["type"] != "error" {
		t.Fatalf("expected error, got %v", msg)
	}
}

func TestUnknownMessageType(t *testing.T) {
	server, _ := newTestServer(t)
	conn := dial(t, server, "s1")

	if err := conn.WriteJSON(map[string]string{"type": "mystery"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if msg := readMessage(t, conn); msg["type"] != "error" {
		t.Fatalf("expected error, got %v", msg)
	}
}

func TestEmptyTaskRejected(t *testing.T) {
	server, _ := newTestServer(t)
	conn := dial(t, server, "s1")

	if err := conn.WriteJSON(map[string]string{"type": "task", "task": "   "}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if msg := readMessage(t, conn); msg["type"] != "error" {
		t.Fatalf("expected error, got %v", msg)
	}
}

func TestOutboundMessagesCarrySessionAndTaskIDs(t *testing.T) {
	server, _ := newTestServer(t)
	conn := dial(t, server, "s9")

	if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	pong := readMessage(t, conn)
	if pong["session_id"] != "s9" {
		t.Fatalf("pong missing session id: %v", pong)
	}

	if err := conn.WriteJSON(map[string]string{"type": "task", "task": "my sales are dropping"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	ack := readMessage(t, conn)
	if ack["session_id"] != "s9" {
		t.Fatalf("ack missing session id: %v", ack)
	}
	taskID, ok := ack["task_id"].(string)
	if !ok || !strings.HasPrefix(taskID, "ws-task-") || len(taskID) != len("ws-task-")+12 {
		t.Fatalf("ack missing well-formed task id: %v", ack)
	}

	questions := readMessage(t, conn)
	if questions["session_id"] != "s9" || questions["task_id"] != taskID {
		t.Fatalf("questions not stamped with session and task ids: %v", questions)
	}
}

func TestEmptyAnswersRejectedWithoutConsumingARound(t *testing.T) {
	server, _ := newTestServer(t)
	conn := dial(t, server, "s1")

	if err := conn.WriteJSON(map[string]string{"type": "task", "task": "my sales are dropping"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	readMessage(t, conn) // ack
	first := readMessage(t, conn)
	if first["type"] != "questions" || first["rounds"] != float64(1) {
		t.Fatalf("expected round-1 questions, got %v", first)
	}

	if err := conn.WriteJSON(map[string]interface{}{
		"type":    "answer",
		"answers": map[string]string{},
	}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	rejected := readMessage(t, conn)
	if rejected["type"] != "error" {
		t.Fatalf("expected error for empty answers, got %v", rejected)
	}

	// the interview did not advance: a real answer still lands on round 2
	if err := conn.WriteJSON(map[string]interface{}{
		"type":    "answer",
		"answers": map[string]string{"When did it start?": "last quarter"},
	}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	second := readMessage(t, conn)
	if second["type"] != "questions" || second["phase"] != "clarify" || second["rounds"] != float64(2) {
		t.Fatalf("expected round-2 clarify questions, got %v", second)
	}
}

func TestReconnectClosesPriorConnection(t *testing.T) {
	server, h := newTestServer(t)
	first := dial(t, server, "s1")
	_ = dial(t, server, "s1")

	// the replaced connection gets closed by the hub
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]interface{}
	if err := first.ReadJSON(&msg); err == nil {
		t.Fatal("expected prior connection to be closed")
	}

	deadline := time.Now().Add(time.Second)
	for h.Count() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("expected exactly one live connection, got %d", h.Count())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMissingSessionID(t *testing.T) {
	server, _ := newTestServer(t)
	url := "ws" + strings.TrimPrefix(server.URL, "http") + PathPrefix
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial to fail without a session id")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %+v", resp)
	}
}
