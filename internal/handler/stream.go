package handler

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/mathieu-neron/DeFacto/defacto-go/internal/service"
	"github.com/mathieu-neron/DeFacto/defacto-go/pkg/hash"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMessage = 512
)

// StreamHub pushes protocol events to WebSocket clients at /ws. Clients may
// pass ?types=vote_cast,bet_placed to receive only some event types.
type StreamHub struct {
	bus      *service.EventBus
	upgrader websocket.Upgrader
	salt     string
	log      zerolog.Logger
}

// NewStreamHub creates a hub. corsOrigins has the same format as the CORS
// middleware: "*" or a comma-separated allow list.
func NewStreamHub(bus *service.EventBus, corsOrigins, ipSalt string, log zerolog.Logger) *StreamHub {
	allowed := make(map[string]bool)
	for _, o := range strings.Split(corsOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			allowed[o] = true
		}
	}
	return &StreamHub{
		bus:  bus,
		salt: ipSalt,
		log:  log.With().Str("component", "stream").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowed["*"] || allowed[origin]
			},
		},
	}
}

func (h *StreamHub) clientID(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	return hash.HashIP(ip, h.salt)[:12]
}

func parseTypes(raw string) map[string]bool {
	if raw == "" {
		return nil
	}
	types := make(map[string]bool)
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			types[t] = true
		}
	}
	return types
}

func (h *StreamHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer ws.Close()

	client := h.clientID(r)
	types := parseTypes(r.URL.Query().Get("types"))

	events, unsubscribe := h.bus.Subscribe()
	defer unsubscribe()
	Metrics.StreamSubscribers.Inc()
	defer Metrics.StreamSubscribers.Dec()
	h.log.Info().Str("client", client).Msg("stream client connected")

	// Reader: only control frames are expected. A read error means the
	// client went away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		ws.SetReadLimit(maxMessage)
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			h.log.Info().Str("client", client).Msg("stream client disconnected")
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if types != nil && !types[ev.Type] {
				continue
			}
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteJSON(ev); err != nil {
				h.log.Debug().Err(err).Str("client", client).Msg("stream write failed")
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
