package dashboard

import (
	"time"

	"github.com/loomnotes/loom/internal/orchestrator"
	"github.com/loomnotes/loom/internal/reconcile"
)

// SyncStartedData is sent when a cycle begins.
type SyncStartedData struct {
	Trigger   orchestrator.Trigger `json:"trigger"`
	StartedAt time.Time            `json:"started_at"`
}

// SyncFinishedData summarizes a finished cycle. The full report is left to
// GET /status.
type SyncFinishedData struct {
	Status    orchestrator.Status  `json:"status"`
	Trigger   orchestrator.Trigger `json:"trigger"`
	RunID     string               `json:"run_id,omitempty"`
	Duration  string               `json:"duration"`
	Totals    reconcile.Counts     `json:"totals"`
	Failures  int                  `json:"failures"`
	Conflicts int                  `json:"conflicts"`
	Written   int                  `json:"written,omitempty"`
	Err       string               `json:"error,omitempty"`
}

// StatusFunc returns the current orchestrator status.
type StatusFunc func() orchestrator.Info

// Handler turns orchestrator events into dashboard broadcasts. It implements
// orchestrator.Sink.
type Handler struct {
	server *Server
	status StatusFunc
}

var _ orchestrator.Sink = (*Handler)(nil)

// NewHandler creates a handler broadcasting through server. When status is
// set, new clients and GET /status receive it.
func NewHandler(server *Server, status StatusFunc) *Handler {
	h := &Handler{server: server, status: status}
	if status != nil {
		server.welcome = h.statusMessage
		server.status = func() any { return status() }
	}
	return h
}

func (h *Handler) statusMessage() Message {
	msg, err := NewMessage(MessageTypeStatus, h.status())
	if err != nil {
		h.server.logger.Error("failed to build status message", "error", err)
		return Message{Type: MessageTypeStatus, Timestamp: time.Now()}
	}
	return msg
}

// Started broadcasts a sync_started message.
func (h *Handler) Started(trigger orchestrator.Trigger, at time.Time) {
	h.send(MessageTypeSyncStarted, SyncStartedData{Trigger: trigger, StartedAt: at})
}

// Progress broadcasts a sync_progress message.
func (h *Handler) Progress(p reconcile.Progress) {
	h.send(MessageTypeSyncProgress, p)
}

// Finished broadcasts a sync_finished message.
func (h *Handler) Finished(o orchestrator.Outcome) {
	data := SyncFinishedData{
		Status:   o.Status,
		Trigger:  o.Trigger,
		RunID:    o.RunID,
		Duration: o.Duration.Round(time.Millisecond).String(),
		Err:      o.Err,
	}
	if o.Report != nil {
		data.Totals = o.Report.Totals()
		data.Failures = len(o.Report.Failures)
		data.Conflicts = len(o.Report.Conflicts)
	}
	if o.Pull != nil {
		data.Written = o.Pull.FilesWritten
	}
	h.send(MessageTypeSyncFinished, data)
}

func (h *Handler) send(typ MessageType, data any) {
	msg, err := NewMessage(typ, data)
	if err != nil {
		h.server.logger.Error("failed to build message", "type", typ, "error", err)
		return
	}
	h.server.Broadcast(msg)
}
