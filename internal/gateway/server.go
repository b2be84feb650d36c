package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"github.com/nimblegames/arena/internal/config"
	"github.com/nimblegames/arena/internal/ids"
	"github.com/nimblegames/arena/internal/middleware"
	"github.com/nimblegames/arena/internal/models"
	"github.com/nimblegames/arena/internal/store"
)

// Server is the gateway role: it accepts player connections, serves the
// HELLO/READY_UP/UNREADY/HEARTBEAT/LEAVE operations against the
// coordination store, and forwards events:match_found/events:match_ended
// to locally connected players.
type Server struct {
	st        *store.Store
	cfg       *config.Config
	logger    *logrus.Entry
	registry  *Registry
	playerTTL time.Duration
}

func NewServer(st *store.Store, cfg *config.Config, logger *logrus.Entry) *Server {
	return &Server{
		st:        st,
		cfg:       cfg,
		logger:    logger,
		registry:  NewRegistry(),
		playerTTL: time.Duration(cfg.PlayerTTLSeconds) * time.Second,
	}
}

// Handler upgrades the HTTP request to a websocket and blocks, serving
// that one connection: upgrade, then a blocking per-connection loop,
// cleanup on return.
func (s *Server) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{"arena"},
			OriginPatterns: []string{"*"},
		})
		if err != nil {
			s.logger.WithError(err).Warn("websocket accept failed")
			return
		}
		defer conn.Close(websocket.StatusInternalError, "handler exited")

		s.handleConnection(r.Context(), conn, r.RemoteAddr, r.URL.Path)
	}
}

// handleConnection runs one connection's entire lifecycle: HELLO
// handshake deadline, serialized message dispatch, and cleanup on close.
func (s *Server) handleConnection(parentCtx context.Context, wsConn *websocket.Conn, remoteAddr, path string) {
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	middleware.LogWebSocketConnect(s.logger.Logger, remoteAddr, path)
	var closeErr error
	defer func() { middleware.LogWebSocketDisconnect(s.logger.Logger, remoteAddr, path, closeErr) }()

	c := newConnection(wsConn)
	go c.writeLoop(ctx, s.logger)

	helloTimeout := time.Duration(s.cfg.HelloTimeoutMs) * time.Millisecond
	helloDeadline := time.AfterFunc(helloTimeout, func() {
		if c.playerID == "" {
			wsConn.Close(websocket.StatusPolicyViolation, "HELLO not received within deadline")
			cancel()
		}
	})
	defer helloDeadline.Stop()

	for {
		_, data, err := wsConn.Read(ctx)
		if err != nil {
			closeErr = err
			break
		}

		var msg InboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.send(ctx, OutboundMessage{Type: TypeError, Code: ErrCodeUnknown, Message: "malformed frame"})
			continue
		}

		if c.playerID == "" && msg.Type != TypeHello {
			c.send(ctx, OutboundMessage{Type: TypeError, Code: ErrCodeProtocol, Message: "HELLO required before any other message"})
			continue
		}

		switch msg.Type {
		case TypeHello:
			s.handleHello(ctx, c, msg.PlayerID)
			helloDeadline.Stop()
		case TypeReadyUp:
			s.handleReadyUp(ctx, c)
		case TypeUnready:
			s.handleUnready(ctx, c)
		case TypeHeartbeat:
			s.handleHeartbeat(ctx, c)
		case TypeLeave:
			s.handleLeave(ctx, c)
			cancel()
		default:
			c.send(ctx, OutboundMessage{Type: TypeError, Code: ErrCodeUnknown, Message: "unknown message type: " + msg.Type})
		}

		if msg.Type == TypeLeave {
			break
		}
	}

	s.cleanup(context.Background(), c)
}

// handleHello assigns identity, writes player:{id} respecting the
// monotone-state rule, registers the connection locally, and replies
// WELCOME then STATE.
func (s *Server) handleHello(ctx context.Context, c *Connection, requestedID string) {
	playerID := requestedID
	if playerID == "" {
		playerID = ids.NewPlayerID()
	}

	wroteLobby, err := s.st.SetPlayerInLobbyMonotone(ctx, playerID, s.playerTTL)
	if err != nil {
		s.logger.WithError(err).WithField("player_id", playerID).Warn("failed to write player record on HELLO")
	}

	c.playerID = playerID
	s.registry.Add(playerID, c)

	state := models.StateInLobby
	if !wroteLobby {
		if p, err := s.st.GetPlayer(ctx, playerID); err == nil {
			state = p.State
		}
	}

	c.send(ctx, OutboundMessage{Type: TypeWelcome, PlayerID: playerID})
	c.send(ctx, OutboundMessage{Type: TypeState, State: string(state)})
}

// handleReadyUp sets state=READY and appends the player ID to
// queue:ready. Repeated calls are allowed to produce duplicate queue
// entries; they collapse at consumption time.
func (s *Server) handleReadyUp(ctx context.Context, c *Connection) {
	if err := s.st.SetPlayerReady(ctx, c.playerID, s.playerTTL); err != nil {
		s.logger.WithError(err).WithField("player_id", c.playerID).Warn("READY_UP store write failed")
		return
	}
	if err := s.st.Enqueue(ctx, c.playerID); err != nil {
		s.logger.WithError(err).WithField("player_id", c.playerID).Warn("failed to enqueue ready player")
	}
}

// handleUnready sets state=IN_LOBBY without touching the queue (removal
// there is lazy). A concurrent IN_GAME transition always wins.
func (s *Server) handleUnready(ctx context.Context, c *Connection) {
	if _, err := s.st.SetPlayerUnready(ctx, c.playerID, s.playerTTL); err != nil {
		s.logger.WithError(err).WithField("player_id", c.playerID).Warn("UNREADY store write failed")
	}
}

// handleHeartbeat refreshes heartbeat_at, re-creating the record in
// IN_LOBBY if it was missing.
func (s *Server) handleHeartbeat(ctx context.Context, c *Connection) {
	if err := s.st.RefreshHeartbeat(ctx, c.playerID, s.playerTTL); err != nil {
		s.logger.WithError(err).WithField("player_id", c.playerID).Warn("HEARTBEAT store write failed")
	}
}

// handleLeave sets state=IN_LOBBY unconditionally — it is an explicit,
// authoritative action, not a background disconnect — and the caller
// closes the connection right after.
func (s *Server) handleLeave(ctx context.Context, c *Connection) {
	if err := s.st.SetPlayerInLobbyUnconditional(ctx, c.playerID, s.playerTTL); err != nil {
		s.logger.WithError(err).WithField("player_id", c.playerID).Warn("LEAVE store write failed")
	}
}

// cleanup runs whenever a connection's read loop exits, including after
// an explicit LEAVE (which has already written IN_LOBBY): it writes
// IN_LOBBY via the monotone path so a disconnect can never downgrade a
// READY or IN_GAME player, then drops the local identity mapping.
func (s *Server) cleanup(ctx context.Context, c *Connection) {
	if c.playerID == "" {
		return
	}
	if _, err := s.st.SetPlayerInLobbyMonotone(ctx, c.playerID, s.playerTTL); err != nil {
		s.logger.WithError(err).WithField("player_id", c.playerID).Warn("failed to write disconnect state")
	}
	s.registry.Remove(c.playerID)
}

// ForwardEvents subscribes to events:match_found and events:match_ended
// and forwards MATCH_FOUND/STATE or MATCH_ENDED/STATE to every player in
// the event's player_ids list that is connected to this gateway
// instance. Delivery is best-effort: players connected to a different
// gateway process are silently skipped. The two topics are subscribed
// separately rather than merged so each event's semantics (found vs.
// ended) are known from which subscription delivered it, instead of
// guessed from the player's current state. Blocks until ctx is
// canceled.
func (s *Server) ForwardEvents(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); s.forwardTopic(ctx, store.TopicMatchFound, TypeMatchFound, models.StateInGame) }()
	go func() { defer wg.Done(); s.forwardTopic(ctx, store.TopicMatchEnded, TypeMatchEnded, models.StateInLobby) }()
	wg.Wait()
}

func (s *Server) forwardTopic(ctx context.Context, topic, outboundType string, resultingState models.PlayerState) {
	events, closeFn := s.st.SubscribeMatchEvents(ctx, topic)
	defer closeFn()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			for _, playerID := range ev.PlayerIDs {
				c, found := s.registry.Get(playerID)
				if !found {
					continue
				}
				c.send(ctx, OutboundMessage{Type: outboundType, GameID: ev.GameID, SessionID: ev.SessionID})
				c.send(ctx, OutboundMessage{Type: TypeState, State: string(resultingState)})
			}
		}
	}
}
