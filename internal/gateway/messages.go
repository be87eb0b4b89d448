package gateway

import (
	"time"

	"github.com/google/uuid"

	"github.com/alekspetrov/warden/internal/approval"
)

// Message type tags sent to WebSocket clients.
const (
	MsgApprovalRequest  = "approval_request"
	MsgApprovalResolved = "approval_resolved"
	MsgPipelineEvent    = "pipeline_event"
	MsgStateTransition  = "state_transition"
)

// Message is the outbound WebSocket envelope.
type Message struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	AgentID   string         `json:"agent_id,omitempty"`
	TaskID    string         `json:"task_id,omitempty"`
	Event     string         `json:"event,omitempty"`
	Approval  *ApprovalInfo  `json:"approval,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// ApprovalInfo is the wire shape of one pending approval.
type ApprovalInfo struct {
	ID          string         `json:"id"`
	AgentID     string         `json:"agent_id"`
	Tool        string         `json:"tool"`
	Args        map[string]any `json:"args,omitempty"`
	Status      string         `json:"status"`
	RequestedAt time.Time      `json:"requested_at"`
}

// Decision is the inbound message from a human client resolving an
// approval.
type Decision struct {
	Action string `json:"action"` // "approve" or "deny"
	ID     string `json:"id"`
}

// decisionAck is sent back to the deciding client.
type decisionAck struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func approvalInfo(p *approval.Pending) *ApprovalInfo {
	return &ApprovalInfo{
		ID:          p.ID.String(),
		AgentID:     p.AgentID.String(),
		Tool:        p.Tool,
		Args:        p.Args,
		Status:      string(p.Status),
		RequestedAt: p.RequestedAt,
	}
}

// NotifyApproval broadcasts a new pending approval. Wire it into the gate
// with gate.SetNotifier(server.NotifyApproval).
func (s *Server) NotifyApproval(p *approval.Pending) {
	s.hub.Broadcast(&Message{
		Type:      MsgApprovalRequest,
		Timestamp: time.Now().UTC(),
		AgentID:   p.AgentID.String(),
		Approval:  approvalInfo(p),
	})
}

// PipelineNotifier returns a pipeline event sink that broadcasts progress
// to connected clients.
func (s *Server) PipelineNotifier() func(taskID uuid.UUID, event string) {
	return func(taskID uuid.UUID, event string) {
		s.hub.Broadcast(&Message{
			Type:      MsgPipelineEvent,
			Timestamp: time.Now().UTC(),
			TaskID:    taskID.String(),
			Event:     event,
		})
	}
}

// BroadcastTransition relays an agent state change to connected clients.
func (s *Server) BroadcastTransition(agentID uuid.UUID, from, event, to string) {
	s.hub.Broadcast(&Message{
		Type:      MsgStateTransition,
		Timestamp: time.Now().UTC(),
		AgentID:   agentID.String(),
		Event:     event,
		Extra:     map[string]any{"from": from, "to": to},
	})
}
