package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/livechess-gg/livechess/internal/domains/dtos"
	"github.com/livechess-gg/livechess/internal/events"
	"github.com/livechess-gg/livechess/pkg/logging"
)

const (
	defaultPollInterval = 5 * time.Second
	// idlePollBackoff stretches the poll period while the push feed is
	// healthy; polling then only guards against silently dropped events.
	idlePollBackoff   = 4
	heartbeatInterval = 30 * time.Second
)

// envelope mirrors the server's typed responses on one wire shape.
type envelope struct {
	Type      string                `json:"type"`
	Snapshot  *dtos.SessionSnapshot `json:"snapshot"`
	Event     *events.Event         `json:"event"`
	Ack       *dtos.ResumeAck       `json:"ack"`
	Code      string                `json:"code"`
	Error     string                `json:"error"`
	Rejection *dtos.ResumeRejection `json:"rejection"`
}

// intent is the client-to-server message shape.
type intent struct {
	Type      string            `json:"type"`
	Data      map[string]string `json:"data"`
	CreatedAt time.Time         `json:"createdAt"`
}

// Client keeps one player's View reconciled with the server for one
// session: it owns the websocket subscription, the heartbeat, and the
// polling fallback. A subscription belongs to a (player, view) pair;
// remounting the view always tears the old one down and builds a fresh
// one, so a stale feed can never deliver into a new view.
type Client struct {
	baseURL   string
	sessionId string
	playerId  string
	token     string

	clock        clockwork.Clock
	view         *View
	httpc        *http.Client
	pollInterval time.Duration

	// Optional hooks, set before Mount.
	OnEvent     func(events.Event)
	OnResumeAck func(dtos.ResumeAck)
	OnError     func(code, message string, rejection *dtos.ResumeRejection)

	mu      sync.Mutex
	viewKey string
	conn    *websocket.Conn
	writeMu sync.Mutex
	cancel  context.CancelFunc
	healthy bool
}

func New(baseURL, sessionId, playerId, token string) *Client {
	clk := clockwork.NewRealClock()
	return &Client{
		baseURL:      baseURL,
		sessionId:    sessionId,
		playerId:     playerId,
		token:        token,
		clock:        clk,
		view:         NewView(clk),
		httpc:        &http.Client{Timeout: 10 * time.Second},
		pollInterval: defaultPollInterval,
	}
}

func (c *Client) View() *View {
	return c.view
}

// Mount binds the subscription to a view context. Any previous mount is
// torn down first, even for the same key.
func (c *Client) Mount(ctx context.Context, viewKey string) error {
	c.Unmount()

	ctx, cancel := context.WithCancel(ctx)

	conn, err := c.dial(ctx)
	if err != nil {
		cancel()
		// No push feed; the poll loop alone keeps the view honest.
		logging.Warn("websocket dial failed, falling back to polling",
			zap.String("session_id", c.sessionId),
			zap.Error(err),
		)
	}

	c.mu.Lock()
	c.viewKey = viewKey
	c.conn = conn
	c.cancel = cancel
	c.healthy = conn != nil
	c.mu.Unlock()

	if conn != nil {
		go c.readPump(ctx, conn, viewKey)
		go c.heartbeatLoop(ctx)
	}
	go c.pollLoop(ctx)

	if conn == nil {
		return c.Poll(ctx)
	}
	return nil
}

// Unmount releases the current subscription. Safe to call when nothing
// is mounted.
func (c *Client) Unmount() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.viewKey = ""
	c.healthy = false
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	u := fmt.Sprintf("ws://%s/game/%s", c.baseURL, c.sessionId)
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	} else {
		u += "?playerId=" + c.playerId
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, header)
	return conn, err
}

// readPump applies every server push to the view. Each message carrying a
// snapshot fully replaces the derived state, so the client needs no event
// ordering or gap detection of its own.
func (c *Client) readPump(ctx context.Context, conn *websocket.Conn, viewKey string) {
	defer c.markUnhealthy(viewKey)
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				logging.Info("push feed closed",
					zap.String("session_id", c.sessionId),
					zap.Error(err),
				)
			}
			return
		}
		var env envelope
		if err := json.Unmarshal(message, &env); err != nil {
			logging.Warn("undecodable server message", zap.Error(err))
			continue
		}
		if c.currentViewKey() != viewKey {
			// A stale pump racing its own teardown; drop everything.
			return
		}
		c.apply(env)
	}
}

func (c *Client) apply(env envelope) {
	switch env.Type {
	case "snapshot":
		if env.Snapshot != nil {
			c.view.ApplySnapshot(*env.Snapshot)
		}
	case "event":
		if env.Event != nil {
			if env.Event.Snapshot != nil {
				c.view.ApplySnapshot(*env.Event.Snapshot)
			}
			if c.OnEvent != nil {
				c.OnEvent(*env.Event)
			}
		}
	case "resume_ack":
		if env.Ack != nil && c.OnResumeAck != nil {
			c.OnResumeAck(*env.Ack)
		}
	case "error":
		if c.OnError != nil {
			c.OnError(env.Code, env.Error, env.Rejection)
		}
	}
}

func (c *Client) markUnhealthy(viewKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.viewKey == viewKey {
		c.healthy = false
	}
}

func (c *Client) currentViewKey() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewKey
}

// pollLoop is the bounded fallback: frequent while the push feed is down,
// backed off while it is healthy.
func (c *Client) pollLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.clock.After(c.nextPollDelay()):
		}
		if err := c.Poll(ctx); err != nil && ctx.Err() == nil {
			logging.Warn("poll failed",
				zap.String("session_id", c.sessionId),
				zap.Error(err),
			)
		}
	}
}

func (c *Client) nextPollDelay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.healthy {
		return c.pollInterval * idlePollBackoff
	}
	return c.pollInterval
}

// Poll fetches the authoritative snapshot over HTTP and reconciles the
// view with it.
func (c *Client) Poll(ctx context.Context) error {
	u := fmt.Sprintf("http://%s/game/%s/state", c.baseURL, c.sessionId)
	if c.token == "" {
		u += "?playerId=" + c.playerId
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("state poll: unexpected status %d", resp.StatusCode)
	}
	var snap dtos.SessionSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return err
	}
	c.view.ApplySnapshot(snap)
	return nil
}

func (c *Client) heartbeatLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.clock.After(heartbeatInterval):
		}
		if err := c.send("heartbeat", nil); err != nil {
			return
		}
	}
}

func (c *Client) send(msgType string, data map[string]string) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not mounted")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(intent{
		Type:      msgType,
		Data:      data,
		CreatedAt: c.clock.Now(),
	})
}

// SubmitMove sends a move stamped with the view's current ply, so a move
// decided against an outdated position is rejected rather than applied.
func (c *Client) SubmitMove(move string) error {
	snap, ok := c.view.Snapshot()
	if !ok {
		return fmt.Errorf("no session snapshot yet")
	}
	return c.send("move", map[string]string{
		"move": move,
		"ply":  strconv.Itoa(snap.Ply),
	})
}

func (c *Client) Pause(reason string) error {
	return c.send("pause", map[string]string{"reason": reason})
}

func (c *Client) RequestResume() error {
	return c.send("resume_request", nil)
}

func (c *Client) RespondResume(accept bool) error {
	decision := "decline"
	if accept {
		decision = "accept"
	}
	return c.send("resume_response", map[string]string{"decision": decision})
}

func (c *Client) Resign() error {
	return c.send("resign", nil)
}

func (c *Client) OfferDraw() error {
	return c.send("offer_draw", nil)
}
