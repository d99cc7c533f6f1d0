package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/af-corp/pplx-bridge/internal/httputil"
	"github.com/af-corp/pplx-bridge/internal/relay"
	"github.com/af-corp/pplx-bridge/internal/router"
	"github.com/af-corp/pplx-bridge/internal/types"
	"github.com/af-corp/pplx-bridge/internal/upstream"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

// socketValidationError is the frame sent for a request that failed field
// validation.
type socketValidationError struct {
	Error  string             `json:"error"`
	Type   string             `json:"type"`
	Fields []types.FieldError `json:"fields"`
}

// ChatSocket handles GET /ws/chat. Each text frame is one chat request; the
// response is relayed as raw upstream chunks. Requests are served one at a
// time per connection.
func (h *Handler) ChatSocket(w http.ResponseWriter, r *http.Request) {
	reqID := httputil.RequestIDFrom(r.Context())
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		h.logger.Debug("websocket upgrade failed", "request_id", reqID, "error", err)
		return
	}
	defer conn.Close()

	closed := h.metrics.WebSocketOpened()
	defer closed()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadLimit(h.cfg.Server.MaxBodyBytes)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	sink := relay.NewWSSink(conn, wsWriteWait)
	client := clientOf(r)
	h.logger.Info("websocket connected", "request_id", reqID, "client", client)

	// The reader keeps draining frames while a stream runs so that pongs and
	// close frames are seen. A connection holds at most one queued request.
	queue := make(chan []byte, 1)
	go func() {
		defer cancel()
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					h.logger.Debug("websocket read failed", "request_id", reqID, "error", err)
				}
				return
			}
			if kind != websocket.TextMessage {
				continue
			}
			select {
			case queue <- data:
			default:
				sink.WriteError(0, "A request is already in progress")
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	served := 0
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("websocket closed", "request_id", reqID, "client", client, "requests", served)
			return
		case data := <-queue:
			served++
			if err := h.serveSocketRequest(ctx, sink, reqID, data); errors.Is(err, relay.ErrClientGone) {
				cancel()
			}
		}
	}
}

// serveSocketRequest handles one frame. Only a transport failure is returned;
// request errors are reported on the socket and the session continues.
func (h *Handler) serveSocketRequest(ctx context.Context, sink *relay.WSSink, reqID string, data []byte) error {
	start := time.Now()
	req, err := types.DecodeChatRequest(data)
	if err != nil {
		var verr *types.ValidationError
		if errors.As(err, &verr) {
			return clientGone(sink.WriteJSON(socketValidationError{
				Error:  "Request validation failed",
				Type:   "error",
				Fields: verr.Fields,
			}))
		}
		return clientGone(sink.WriteError(0, "Invalid JSON format"))
	}
	req.Stream = true

	provider, tag, err := h.registry.Resolve(req.Model)
	if err != nil {
		return h.failSocket(sink, reqID, tag, err, start)
	}
	stream, err := provider.Stream(ctx, req)
	if err != nil {
		return h.failSocket(sink, reqID, tag, err, start)
	}

	stats, err := relay.Run(ctx, stream, sink, relay.Options{
		Provider:    provider.DisplayName(),
		IdleTimeout: h.cfg.Routing.StreamChunkTimeout,
		OnChunk:     func(n int) { h.metrics.RecordChunk("websocket", string(tag), n) },
	})
	h.finishStream(reqID, "websocket", req.Model, tag, stats, err, start)
	if errors.Is(err, relay.ErrClientGone) {
		return err
	}
	return nil
}

func (h *Handler) failSocket(sink *relay.WSSink, reqID string, tag router.ProviderTag, err error, start time.Time) error {
	ue := upstream.AsError(err)
	h.logUpstreamError(reqID, tag, ue)
	h.metrics.RecordUpstreamError(string(tag), ue.Kind.String())
	h.recordRequest("websocket", tag, ue.Kind.HTTPStatus(), time.Since(start))
	return clientGone(relay.Fail(sink, ue))
}

// clientGone maps a failed socket write to relay.ErrClientGone.
func clientGone(err error) error {
	if err == nil || errors.Is(err, relay.ErrClientGone) {
		return err
	}
	return fmt.Errorf("%w: %v", relay.ErrClientGone, err)
}
