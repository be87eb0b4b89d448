package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/alekspetrov/warden/internal/agent"
	"github.com/alekspetrov/warden/internal/approval"
	"github.com/alekspetrov/warden/internal/cliadapter"
	"github.com/alekspetrov/warden/internal/supervisor"
)

func newTestServer(t *testing.T, gate *approval.Gate, sup *supervisor.Supervisor) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(DefaultConfig(), gate, sup)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func dialWS(t *testing.T, s *Server, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	// Wait until the server registered the client in the hub.
	deadline := time.Now().Add(2 * time.Second)
	for s.hub.Count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.hub.Count() == 0 {
		t.Fatal("client never registered in hub")
	}
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]any
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("websocket read failed: %v", err)
	}
	return msg
}

func TestHealthEndpoint(t *testing.T) {
	gate := approval.NewGate(approval.DefaultConfig())
	_, ts := newTestServer(t, gate, nil)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("status field = %v, want healthy", body["status"])
	}
}

func TestAgentsEndpoint(t *testing.T) {
	gate := approval.NewGate(approval.DefaultConfig())
	sup := supervisor.New(supervisor.DefaultConfig(), nil, nil)
	sup.Create("builder", agent.RoleCrew, cliadapter.Claude)

	_, ts := newTestServer(t, gate, sup)

	resp, err := http.Get(ts.URL + "/api/v1/agents")
	if err != nil {
		t.Fatalf("GET /api/v1/agents failed: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Agents []struct {
			Name  string `json:"name"`
			State string `json:"state"`
		} `json:"agents"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(body.Agents) != 1 {
		t.Fatalf("agents = %d, want 1", len(body.Agents))
	}
	if body.Agents[0].Name != "builder" || body.Agents[0].State != "idle" {
		t.Errorf("agent = %+v, want builder/idle", body.Agents[0])
	}
}

func TestApprovalRequestBroadcastAndApprove(t *testing.T) {
	gate := approval.NewGate(approval.DefaultConfig())
	s, ts := newTestServer(t, gate, nil)
	gate.SetNotifier(s.NotifyApproval)

	conn := dialWS(t, s, ts)

	pending := gate.Request(uuid.New(), "file_write", map[string]any{"path": "main.go"})

	msg := readMessage(t, conn)
	if msg["type"] != MsgApprovalRequest {
		t.Fatalf("message type = %v, want %s", msg["type"], MsgApprovalRequest)
	}
	ap, ok := msg["approval"].(map[string]any)
	if !ok || ap["tool"] != "file_write" {
		t.Fatalf("approval payload = %v, want tool file_write", msg["approval"])
	}

	// Human approves over the same socket.
	if err := conn.WriteJSON(&Decision{Action: "approve", ID: pending.ID.String()}); err != nil {
		t.Fatalf("write decision failed: %v", err)
	}

	ack := readMessage(t, conn)
	if ack["type"] != "decision_ack" || ack["ok"] != true {
		t.Fatalf("ack = %v, want ok decision_ack", ack)
	}

	resolved := readMessage(t, conn)
	if resolved["type"] != MsgApprovalResolved {
		t.Errorf("message type = %v, want %s", resolved["type"], MsgApprovalResolved)
	}

	if !gate.IsApproved(pending.ID) {
		t.Error("expected request to be approved in the gate")
	}
}

func TestDecisionDenyBroadcastsResolution(t *testing.T) {
	gate := approval.NewGate(approval.DefaultConfig())
	s, ts := newTestServer(t, gate, nil)

	conn := dialWS(t, s, ts)

	pending := gate.Request(uuid.New(), "shell_execute", nil)

	if err := conn.WriteJSON(&Decision{Action: "deny", ID: pending.ID.String()}); err != nil {
		t.Fatalf("write decision failed: %v", err)
	}

	ack := readMessage(t, conn)
	if ack["type"] != "decision_ack" || ack["ok"] != true {
		t.Fatalf("ack = %v, want ok decision_ack", ack)
	}

	resolved := readMessage(t, conn)
	if resolved["type"] != MsgApprovalResolved {
		t.Fatalf("message type = %v, want %s", resolved["type"], MsgApprovalResolved)
	}
	ap, ok := resolved["approval"].(map[string]any)
	if !ok || ap["status"] != "denied" {
		t.Errorf("resolved payload = %v, want status denied", resolved["approval"])
	}
}

func TestDecisionUnknownRequest(t *testing.T) {
	gate := approval.NewGate(approval.DefaultConfig())
	s, ts := newTestServer(t, gate, nil)

	conn := dialWS(t, s, ts)

	if err := conn.WriteJSON(&Decision{Action: "deny", ID: uuid.New().String()}); err != nil {
		t.Fatalf("write decision failed: %v", err)
	}

	ack := readMessage(t, conn)
	if ack["ok"] != false {
		t.Errorf("ack = %v, want ok=false for unknown request", ack)
	}
}

func TestDecisionInvalidAction(t *testing.T) {
	gate := approval.NewGate(approval.DefaultConfig())
	s, ts := newTestServer(t, gate, nil)

	conn := dialWS(t, s, ts)

	if err := conn.WriteJSON(&Decision{Action: "shrug", ID: uuid.New().String()}); err != nil {
		t.Fatalf("write decision failed: %v", err)
	}

	ack := readMessage(t, conn)
	if ack["ok"] != false {
		t.Errorf("ack = %v, want ok=false for unknown action", ack)
	}
}

func TestPipelineNotifierBroadcast(t *testing.T) {
	gate := approval.NewGate(approval.DefaultConfig())
	s, ts := newTestServer(t, gate, nil)

	conn := dialWS(t, s, ts)

	taskID := uuid.New()
	s.PipelineNotifier()(taskID, "pipeline_start")

	msg := readMessage(t, conn)
	if msg["type"] != MsgPipelineEvent {
		t.Errorf("message type = %v, want %s", msg["type"], MsgPipelineEvent)
	}
	if msg["task_id"] != taskID.String() {
		t.Errorf("task_id = %v, want %s", msg["task_id"], taskID)
	}
	if msg["event"] != "pipeline_start" {
		t.Errorf("event = %v, want pipeline_start", msg["event"])
	}
}

func TestBroadcastTransition(t *testing.T) {
	gate := approval.NewGate(approval.DefaultConfig())
	s, ts := newTestServer(t, gate, nil)

	conn := dialWS(t, s, ts)

	agentID := uuid.New()
	s.BroadcastTransition(agentID, "idle", "start", "spawning")

	msg := readMessage(t, conn)
	if msg["type"] != MsgStateTransition {
		t.Errorf("message type = %v, want %s", msg["type"], MsgStateTransition)
	}
	extra, _ := msg["extra"].(map[string]any)
	if extra["from"] != "idle" || extra["to"] != "spawning" {
		t.Errorf("extra = %v, want from idle to spawning", extra)
	}
}

func TestApprovalsEndpointListsPending(t *testing.T) {
	gate := approval.NewGate(approval.DefaultConfig())
	_, ts := newTestServer(t, gate, nil)

	gate.Request(uuid.New(), "git_push", nil)

	resp, err := http.Get(ts.URL + "/api/v1/approvals")
	if err != nil {
		t.Fatalf("GET /api/v1/approvals failed: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Approvals []struct {
			Tool   string `json:"tool"`
			Status string `json:"status"`
		} `json:"approvals"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(body.Approvals) != 1 {
		t.Fatalf("approvals = %d, want 1", len(body.Approvals))
	}
	if body.Approvals[0].Tool != "git_push" || body.Approvals[0].Status != "pending" {
		t.Errorf("approval = %+v, want git_push/pending", body.Approvals[0])
	}
}
