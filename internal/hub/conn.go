package hub

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/scrawl-dev/scrawl/internal/protocol"
	"github.com/scrawl-dev/scrawl/internal/session"
)

// HandleWebSocket upgrades the request and runs the connection until it
// dies. Each connection gets a fresh unauthenticated session; only a
// handshake frame can move it further.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if origin := r.Header.Get("Origin"); origin != "" && !h.originValidator.IsAllowedOrigin(origin) {
		h.logger.Warn(r.Context(), nil, "connection rejected: origin not allowed",
			"origin", origin,
			"remote_addr", r.RemoteAddr,
		)
		http.Error(w, "Origin not allowed", http.StatusForbidden)
		return
	}

	select {
	case <-h.ctx.Done():
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	default:
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Origin is validated above against the configured allow list.
		InsecureSkipVerify: true,
		CompressionMode:    websocket.CompressionDisabled,
	})
	if err != nil {
		h.logger.Warn(r.Context(), err, "websocket upgrade failed", "remote_addr", r.RemoteAddr)
		return
	}
	ws.SetReadLimit(h.cfg.MaxMessageBytes)

	p := &peer{
		sess: session.New(h.newSessionID(), h.cfg.SendBuffer),
		ws:   ws,
	}
	h.sessions.Add(p.sess)
	h.logger.Debug(h.ctx, "session connected",
		"session_id", p.sess.ID(),
		"remote_addr", r.RemoteAddr,
	)

	go h.writePump(p)
	h.readPump(p)
}

// readPump drains inbound frames until the connection dies. Closing the
// transport is the only cancellation signal: the read deadline doubles as
// the transport-liveness check, so a peer that produces no traffic within
// the window is presumptively dead.
func (h *Hub) readPump(p *peer) {
	defer h.disconnect(p, "connection closed")

	for {
		ctx, cancel := context.WithTimeout(h.ctx, h.cfg.ReadTimeout)
		_, data, err := p.ws.Read(ctx)
		cancel()
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				h.logger.Debug(h.ctx, "read ended", "session_id", p.sess.ID(), "error", err.Error())
			}
			return
		}

		env, err := protocol.Decode(data)
		if err != nil {
			if fatal := h.handleDecodeError(p, err); fatal {
				return
			}
			continue
		}

		if err := h.handleMessage(p, env); err != nil {
			h.logger.Warn(h.ctx, err, "closing session",
				"session_id", p.sess.ID(),
				"state", p.sess.State().String(),
			)
			return
		}
	}
}

// handleDecodeError applies the protocol error policy: a malformed frame
// costs only itself once the session is trusted, but before handshake it
// costs the connection. Identity errors always do.
func (h *Hub) handleDecodeError(p *peer, err error) (fatal bool) {
	if p.sess.State() == session.StateUnauthenticated {
		h.logger.Warn(h.ctx, err, "rejecting unauthenticated session", "session_id", p.sess.ID())
		return true
	}
	if perr, ok := err.(*protocol.ProtocolError); ok {
		_ = h.rejectMessage(p, perr)
		return false
	}
	// Identity errors mid-session should be impossible, but close anyway.
	h.logger.Warn(h.ctx, err, "closing session on identity error", "session_id", p.sess.ID())
	return true
}

// writePump drains the session's send channel onto the wire and keeps the
// transport-liveness ping going. It owns closing the websocket: every
// teardown path funnels through the session's done signal.
func (h *Hub) writePump(p *peer) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = p.ws.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case data := <-p.sess.Send():
			ctx, cancel := context.WithTimeout(h.ctx, h.cfg.WriteTimeout)
			err := p.ws.Write(ctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				// Abandoned, not retried. The read pump observes the close
				// and runs disconnect cleanup for this session only.
				h.logger.Debug(h.ctx, "write failed", "session_id", p.sess.ID(), "error", err.Error())
				return
			}

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(h.ctx, h.cfg.WriteTimeout)
			err := p.ws.Ping(ctx)
			cancel()
			if err != nil {
				h.logger.Debug(h.ctx, "transport ping failed", "session_id", p.sess.ID(), "error", err.Error())
				return
			}

		case <-p.sess.Done():
			return

		case <-h.ctx.Done():
			return
		}
	}
}
