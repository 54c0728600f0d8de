package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/livechess-gg/livechess/internal/engine"
	"github.com/livechess-gg/livechess/internal/events"
	"github.com/livechess-gg/livechess/internal/session"
	"github.com/livechess-gg/livechess/pkg/logging"
)

type server struct {
	address  string
	upgrader websocket.Upgrader

	config  Config
	store   *session.Store
	channel *events.RedisChannel
}

type payload struct {
	Type      string            `json:"type"`
	Data      map[string]string `json:"data"`
	CreatedAt time.Time         `json:"createdAt"`
}

func NewServer() *server {
	cfg := NewConfig()
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	channel := events.NewRedisChannel(rdb)
	store := session.NewStore(
		rdb,
		engine.New(),
		channel,
		clockwork.NewRealClock(),
		cfg.Policy,
	)
	return &server{
		address: "0.0.0.0:" + cfg.Port,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins
			},
		},
		config:  cfg,
		store:   store,
		channel: channel,
	}
}

// Start runs the game server until the listener fails.
func (s *server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /game", s.handleCreateSession)
	mux.HandleFunc("GET /game/{sessionId}/state", s.handleSessionState)
	mux.HandleFunc("GET /game/{sessionId}", s.handleGameSocket)

	go s.store.RunCleanup(context.Background(), s.config.CleanupInterval)

	logging.Info("websocket server started", zap.String("port", s.config.Port))
	return http.ListenAndServe(s.address, mux)
}

func (s *server) handleGameSocket(w http.ResponseWriter, r *http.Request) {
	playerId, err := s.auth(r)
	if err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(err.Error()))
		return
	}

	sessionId := r.PathValue("sessionId")
	sess, err := s.store.GetSession(r.Context(), sessionId)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(session.Code(err)))
		return
	}
	if _, ok := sess.PlayerById(playerId); !ok {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(session.CodeInvalidPlayerId))
		return
	}

	rawConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	conn := &wsConn{conn: rawConn}
	defer rawConn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Per-player push feed. Subscribing before MarkConnected means the
	// connected event below is observable by this client too.
	sub, err := s.channel.Subscribe(ctx, playerId)
	if err != nil {
		logging.Error("failed to subscribe player feed",
			zap.String("player_id", playerId),
			zap.Error(err),
		)
		return
	}
	defer sub.Close()
	go s.pushEvents(conn, sub, sessionId)

	if _, err := s.store.MarkConnected(ctx, sessionId, playerId); err != nil {
		logging.Error("failed to mark player connected",
			zap.String("session_id", sessionId),
			zap.String("player_id", playerId),
			zap.Error(err),
		)
		return
	}
	logging.Info("player connected",
		zap.String("player_id", playerId),
		zap.String("session_id", sessionId),
	)

	// The fresh snapshot lets the client reconcile immediately after
	// connect or reconnect, regardless of what events it missed.
	if snap, err := s.store.Snapshot(ctx, sessionId); err == nil {
		conn.WriteJSON(snapshotResponse{Type: "snapshot", Snapshot: snap})
	}

	for {
		_, message, err := rawConn.ReadMessage()
		if err != nil {
			if _, err := s.store.MarkDisconnected(ctx, sessionId, playerId); err != nil {
				logging.Error("failed to mark player disconnected",
					zap.String("session_id", sessionId),
					zap.String("player_id", playerId),
					zap.Error(err),
				)
			}
			logging.Info("connection closed",
				zap.String("remote_address", rawConn.RemoteAddr().String()),
				zap.Error(err),
			)
			return
		}

		var p payload
		if err := json.Unmarshal(message, &p); err != nil {
			conn.WriteJSON(errorResponse{
				Type:  "error",
				Code:  "BAD_PAYLOAD",
				Error: err.Error(),
			})
			continue
		}
		s.handleMessage(ctx, conn, sessionId, playerId, p)
	}
}

// pushEvents forwards the player's event feed onto the websocket, filtered
// to the session this connection is watching.
func (s *server) pushEvents(conn *wsConn, sub *events.Subscription, sessionId string) {
	for ev := range sub.Events() {
		if ev.SessionId != sessionId {
			continue
		}
		if err := conn.WriteJSON(eventResponse{Type: "event", Event: ev}); err != nil {
			logging.Error("failed to push event",
				zap.String("session_id", sessionId),
				zap.String("event_type", string(ev.Type)),
				zap.Error(err),
			)
			return
		}
	}
}

// wsConn serializes writes; gorilla connections do not allow concurrent
// writers and both the read loop and the push pump write here.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}
