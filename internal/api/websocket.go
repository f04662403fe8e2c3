package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/MJE43/dice-duel/internal/games"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.originAllowed(origin)
		},
	}
}

// handleGameEvents streams the events of one game ("all" for every game)
// over a websocket until the client goes away.
func (s *Server) handleGameEvents(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetReqID(r.Context())
	if s.opts.Hub == nil {
		s.errorHandler.HandleError(w, r, NewError(ErrTypeServiceUnavailable, "Live events are disabled").
			WithRequestID(requestID).Build())
		return
	}

	var filter *games.GameID
	if raw := chi.URLParam(r, "id"); raw != "all" {
		id, err := ParseGameID(raw)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		filter = &id
	}

	// subscribe first so no event between handshake and subscription is lost
	sub := s.opts.Hub.Subscribe(filter)
	defer sub.Cancel()

	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		s.logger.Printf("websocket_upgrade_failed request_id=%s error=%v", requestID, err)
		return
	}
	defer conn.Close()
	s.logger.Printf("websocket_connected request_id=%s subscription=%s remote_addr=%s", requestID, sub.ID, r.RemoteAddr)

	// The read side only handles control frames; it ends when the client
	// closes the connection.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.Printf("websocket_read_error subscription=%s error=%v", sub.ID, err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				s.logger.Printf("websocket_write_failed subscription=%s error=%v", sub.ID, err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			s.logger.Printf("websocket_closed subscription=%s", sub.ID)
			return
		case <-r.Context().Done():
			return
		}
	}
}
