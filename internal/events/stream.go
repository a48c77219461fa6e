package events

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// StreamServer serves committed events over websocket. Clients connect to
// the handler path (conventionally /events) and may narrow the stream with
// ?types=feed.price,rounds.settle.
type StreamServer struct {
	hub      *Broadcaster
	log      *zap.Logger
	upgrader websocket.Upgrader

	pingPeriod time.Duration
}

// StreamOption configures a StreamServer.
type StreamOption func(*StreamServer)

// WithAllowedOrigins lists the browser origins (scheme://host[:port]) that
// may open the stream in addition to the server's own. "*" admits any
// origin. Requests without an Origin header, as sent by non-browser
// clients, are always admitted.
func WithAllowedOrigins(origins ...string) StreamOption {
	return func(s *StreamServer) {
		if len(origins) == 0 {
			return
		}
		allowed := make(map[string]bool, len(origins))
		for _, o := range origins {
			if o == "*" {
				s.upgrader.CheckOrigin = func(*http.Request) bool { return true }
				return
			}
			allowed[strings.ToLower(strings.TrimSuffix(o, "/"))] = true
		}
		s.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || sameOrigin(r, origin) || allowed[strings.ToLower(origin)]
		}
	}
}

func sameOrigin(r *http.Request, origin string) bool {
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}

// NewStreamServer creates a websocket handler backed by hub. Without
// WithAllowedOrigins only same-origin browser pages may connect.
func NewStreamServer(hub *Broadcaster, log *zap.Logger, opts ...StreamOption) *StreamServer {
	if log == nil {
		log = zap.NewNop()
	}
	s := &StreamServer{
		hub: hub,
		log: log.Named("stream"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		pingPeriod: pingPeriod,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ServeHTTP upgrades the request and streams events until the peer goes away.
func (s *StreamServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("upgrade failed", zap.Error(err))
		return
	}

	types := parseTypes(r.URL.Query().Get("types"))
	sub := s.hub.Subscribe(types...)
	s.log.Debug("client connected", zap.String("remote", r.RemoteAddr), zap.Strings("types", types))

	gone := make(chan struct{})
	go s.readPump(conn, gone)
	s.writePump(conn, sub, gone)

	s.hub.Unsubscribe(sub)
	conn.Close()
	s.log.Debug("client disconnected", zap.String("remote", r.RemoteAddr))
}

// readPump discards inbound frames and keeps the read deadline fresh on pong.
func (s *StreamServer) readPump(conn *websocket.Conn, gone chan<- struct{}) {
	defer close(gone)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("read error", zap.Error(err))
			}
			return
		}
	}
}

func (s *StreamServer) writePump(conn *websocket.Conn, sub <-chan Event, gone <-chan struct{}) {
	ticker := time.NewTicker(s.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-gone:
			return
		case ev, ok := <-sub:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func parseTypes(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
