package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"territorywar.gg/internal/game/catalogs"
	"territorywar.gg/internal/game/leaderboard"
	"territorywar.gg/internal/game/resolver"
	"territorywar.gg/internal/protocol"
)

type Server struct {
	resolver *resolver.Resolver
	board    *leaderboard.Aggregator
	cats     *catalogs.Catalogs
	hub      *Hub
	log      *log.Logger

	upgrader  websocket.Upgrader
	nextID    atomic.Uint64
	onOutcome func(actorID, partyID string, out resolver.Outcome)
}

// SetOutcomeHook registers an observer called after every successful action.
// Must be set before the server handles traffic.
func (s *Server) SetOutcomeHook(fn func(actorID, partyID string, out resolver.Outcome)) {
	s.onOutcome = fn
}

func NewServer(r *resolver.Resolver, board *leaderboard.Aggregator, cats *catalogs.Catalogs, hub *Hub, logger *log.Logger) *Server {
	return &Server{
		resolver: r,
		board:    board,
		cats:     cats,
		hub:      hub,
		log:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// EventsHandler serves the push/subscribe surface: the client sends a
// SUBSCRIBE handshake and then receives TERRITORY_CHANGE, WORLD_STATE and
// PRESENCE events until it disconnects.
func (s *Server) EventsHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub protocol.SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err != nil {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad subscribe"), time.Now().Add(time.Second))
			return
		}
		if sub.Type != protocol.TypeSubscribe || sub.ProtocolVersion != protocol.Version {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		sess := &session{
			id:      fmt.Sprintf("S%d", s.nextID.Add(1)),
			actorID: sub.ActorID,
			out:     make(chan []byte, 256),
		}

		// Seed the new session before fan-out starts: full presence sync plus
		// the current world snapshot.
		sync := protocol.PresenceMsg{
			Type:            protocol.TypePresence,
			ProtocolVersion: protocol.Version,
			Event:           protocol.PresenceSync,
			ActorIDs:        s.hub.OnlineActors(),
		}
		if err := writeJSON(conn, sync); err != nil {
			return
		}
		if err := writeJSON(conn, worldStateMsg(s.resolver.World())); err != nil {
			return
		}

		s.hub.register(sess)
		defer s.hub.unregister(sess)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-sess.out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop: subscribers push nothing after the handshake, so this
		// only notices disconnects. Repeated SUBSCRIBE frames are tolerated.
		_ = conn.SetReadDeadline(time.Time{})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
