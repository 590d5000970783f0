package server

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"live-subtitler/internal/hub"
	"live-subtitler/internal/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The UI is served from the same origin; admin auth is out of scope.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS handles GET /ws: upgrade, register with the hub as a spectator
// until an identify frame arrives, then pump inbound frames.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	conn := hub.NewWSConn(ws)
	h.hub.Add(conn, protocol.RoleSpectator, "")
	h.log.Info("client connected", slog.String("conn_id", conn.ID()))

	st := h.engine.RunStatus()
	conn.Send(protocol.Init{
		Type:         protocol.TypeInit,
		ConnID:       conn.ID(),
		Running:      st.Running,
		DelaySec:     st.DelaySec,
		Mode:         st.Mode,
		FragmentMode: st.FragmentMode,
	})

	go h.readLoop(conn)
}

func (h *Handler) readLoop(conn *hub.WSConn) {
	defer func() {
		if c, ok := h.hub.Get(conn.ID()); ok && c.Role == protocol.RoleSubtitler {
			h.engine.Leave(conn.ID())
		}
		h.hub.Remove(conn.ID())
		conn.Close()
		h.log.Info("client disconnected", slog.String("conn_id", conn.ID()))
	}()

	for {
		in, err := conn.ReadInbound()
		if err != nil {
			return
		}
		h.dispatch(conn, in)
	}
}

// dispatch routes one inbound frame. Unknown types are ignored so older
// clients stay compatible.
func (h *Handler) dispatch(conn *hub.WSConn, in protocol.Inbound) {
	switch in.Type {
	case protocol.TypeIdentify:
		role := protocol.Role(in.ClientType)
		if !role.Valid() {
			role = protocol.RoleSpectator
		}
		h.hub.Identify(conn.ID(), role, in.Name)
		// Subtitlers join the rotation roster right away.
		if role == protocol.RoleSubtitler {
			h.engine.Join(conn.ID(), in.Name)
		}

	case protocol.TypeFragmentJoin:
		h.hub.Identify(conn.ID(), protocol.RoleSubtitler, in.Name)
		h.engine.Join(conn.ID(), in.Name)

	case protocol.TypeFragmentLeave:
		h.engine.Leave(conn.ID())

	case protocol.TypeCaption:
		if err := h.engine.SubmitCaption(conn.ID(), in.Text, in.AutoSent); err != nil {
			// Rejections are expected near slot boundaries; not actionable
			// by the sender beyond what their own timers already show.
			h.log.Debug("caption rejected",
				slog.String("conn_id", conn.ID()),
				slog.String("reason", err.Error()),
			)
		}

	default:
		h.log.Debug("unknown message type", slog.String("type", in.Type))
	}
}
