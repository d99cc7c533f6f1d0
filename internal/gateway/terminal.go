package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/af-corp/pplx-bridge/internal/audit"
	"github.com/af-corp/pplx-bridge/internal/httputil"
	"github.com/af-corp/pplx-bridge/internal/relay"
	"github.com/af-corp/pplx-bridge/internal/sandbox"
)

type terminalRequest struct {
	Command string `json:"command"`
}

// Terminal handles POST /terminal. Output is streamed as sandbox events over
// SSE and always ends with one exit or error event.
func (h *Handler) Terminal(w http.ResponseWriter, r *http.Request) {
	reqID := httputil.RequestIDFrom(r.Context())
	if h.sandbox == nil {
		httputil.WriteNotFoundError(w, reqID, "Terminal is disabled")
		return
	}

	body, ok := h.readBody(w, r, reqID)
	if !ok {
		return
	}
	var req terminalRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httputil.WriteBadRequestError(w, reqID, "Invalid JSON format")
		return
	}

	client := clientOf(r)
	startedAt := time.Now()
	cmd, err := h.sandbox.Prepare(r.Context(), req.Command, client)
	if err != nil {
		h.rejectCommand(w, reqID, client, req.Command, startedAt, err)
		return
	}

	h.logger.Info("command started",
		"request_id", reqID,
		"client", client,
		"argv0", cmd.Argv[0],
		"args", len(cmd.Argv)-1,
	)

	sink := relay.NewSSESink(w, reqID, h.cfg.Server.StreamWriteTimeout)
	running := h.metrics.CommandStarted()
	res := h.sandbox.Run(r.Context(), cmd, func(ev sandbox.Event) error {
		return sink.WriteEvent(ev)
	})
	running()

	h.metrics.RecordSandboxRun(cmd.Argv[0], string(res.Outcome), res.OutputBytes)
	h.audit.Record(audit.Entry{
		RequestID:   reqID,
		Client:      client,
		Command:     cmd.Line,
		Argv:        cmd.Argv,
		Outcome:     string(res.Outcome),
		ExitCode:    res.ExitCode,
		OutputBytes: res.OutputBytes,
		Duration:    res.Duration,
		StartedAt:   startedAt,
	})
	h.logger.Info("command finished",
		"request_id", reqID,
		"client", client,
		"argv0", cmd.Argv[0],
		"outcome", string(res.Outcome),
		"exit_code", res.ExitCode,
		"output_bytes", res.OutputBytes,
		"duration_ms", res.Duration.Milliseconds(),
	)
}

func (h *Handler) rejectCommand(w http.ResponseWriter, reqID, client, command string, startedAt time.Time, err error) {
	if errors.Is(err, sandbox.ErrBusy) {
		h.metrics.RecordSandboxReject("busy")
		httputil.WriteRateLimitError(w, reqID, "Too many commands running, try again later")
		return
	}

	var verr *sandbox.ValidationError
	if !errors.As(err, &verr) {
		h.logger.Error("prepare command", "request_id", reqID, "error", err)
		httputil.WriteInternalError(w, reqID, "Internal server error")
		return
	}

	h.metrics.RecordSandboxReject(string(verr.Reason))
	h.audit.Record(audit.Entry{
		RequestID: reqID,
		Client:    client,
		Command:   command,
		Outcome:   "rejected:" + string(verr.Reason),
		ExitCode:  -1,
		StartedAt: startedAt,
	})
	h.logger.Warn("command rejected",
		"request_id", reqID,
		"client", client,
		"reason", string(verr.Reason),
	)
	if verr.Reason == sandbox.ReasonDenied {
		httputil.WriteForbiddenError(w, reqID, verr.Message)
		return
	}
	httputil.WriteBadRequestError(w, reqID, verr.Message)
}
