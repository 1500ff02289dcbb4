package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"pawlink/pkg/config"
	"pawlink/pkg/logger"
	"pawlink/pkg/models"

	"github.com/qmuntal/stateless"
	"nhooyr.io/websocket"
)

// Connection lifecycle states. Exposed so hosts can render presence.
const (
	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateConnected    = "connected"
	StateReconnecting = "reconnecting"
)

const (
	triggerDial        = "dial"
	triggerEstablished = "established"
	triggerFailed      = "failed"
	triggerDropped     = "dropped"
	triggerClose       = "close"
)

// ConnConfig configures a live connection to the service's /ws endpoint.
type ConnConfig struct {
	URL   string
	Creds Credentials

	// ReconnectDelay between redial attempts after a drop. Zero means
	// config.DefaultReconnectDelay. The delay is fixed, not backed off;
	// redials continue until Disconnect.
	ReconnectDelay time.Duration
}

type inboundHandler struct {
	id int
	fn func(models.Message)
}

// Conn is the presence manager: it owns one websocket to the service,
// redials on drops, serializes inbound dispatch through a single read
// loop and rejects publishes while down.
type Conn struct {
	cfg ConnConfig
	fsm *stateless.StateMachine

	mu     sync.Mutex
	ws     *websocket.Conn
	closed bool

	hmu      sync.Mutex
	handlers []inboundHandler
	nextID   int
}

// NewConn builds a connection in the disconnected state. Connect starts it.
func NewConn(cfg ConnConfig) *Conn {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = config.DefaultReconnectDelay
	}
	c := &Conn{cfg: cfg}
	c.fsm = newConnFSM()
	return c
}

func newConnFSM() *stateless.StateMachine {
	fsm := stateless.NewStateMachine(StateDisconnected)
	fsm.Configure(StateDisconnected).
		Permit(triggerDial, StateConnecting)
	fsm.Configure(StateConnecting).
		Permit(triggerEstablished, StateConnected).
		Permit(triggerFailed, StateReconnecting).
		Permit(triggerClose, StateDisconnected)
	fsm.Configure(StateConnected).
		Permit(triggerDropped, StateReconnecting).
		Permit(triggerClose, StateDisconnected)
	fsm.Configure(StateReconnecting).
		Permit(triggerDial, StateConnecting).
		Permit(triggerClose, StateDisconnected)
	return fsm
}

func (c *Conn) fire(trigger string) {
	if err := c.fsm.Fire(trigger); err != nil {
		logger.Debug("conn_state_trigger_ignored", "trigger", trigger, "state", c.State())
	}
}

// State returns the current lifecycle state.
func (c *Conn) State() string {
	st, err := c.fsm.State(context.Background())
	if err != nil {
		return StateDisconnected
	}
	s, _ := st.(string)
	return s
}

// Connected reports whether a publish would currently be accepted.
func (c *Conn) Connected() bool {
	return c.State() == StateConnected
}

// Connect dials the service and starts the read loop. It returns once
// the connection is established or the first dial fails; a failed first
// dial still schedules redials in the background.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnClosed
	}
	if c.ws != nil {
		c.mu.Unlock()
		return nil
	}
	c.fire(triggerDial)
	ws, err := c.dial(ctx)
	if err != nil {
		c.fire(triggerFailed)
		c.mu.Unlock()
		logger.Warn("conn_dial_failed", "url", c.cfg.URL, "error", err.Error())
		go c.redialLoop()
		return err
	}
	c.ws = ws
	c.fire(triggerEstablished)
	c.mu.Unlock()
	logger.Info("conn_established", "url", c.cfg.URL, "user", c.cfg.Creds.UserID)
	go c.readLoop(ws)
	return nil
}

func (c *Conn) dial(ctx context.Context) (*websocket.Conn, error) {
	hdr := http.Header{}
	hdr.Set("X-API-Key", c.cfg.Creds.APIKey)
	hdr.Set("X-User-ID", c.cfg.Creds.UserID)
	hdr.Set("X-User-Role", string(c.cfg.Creds.Role))
	hdr.Set("X-User-Signature", c.cfg.Creds.Signature)
	ws, _, err := websocket.Dial(ctx, c.cfg.URL, &websocket.DialOptions{HTTPHeader: hdr})
	return ws, err
}

// readLoop owns inbound traffic for one websocket. Handler dispatch is
// serialized here; handlers never run concurrently with each other.
func (c *Conn) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.Read(context.Background())
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			if c.ws == ws {
				c.ws = nil
			}
			c.mu.Unlock()
			if closed {
				return
			}
			logger.Warn("conn_dropped", "user", c.cfg.Creds.UserID, "error", err.Error())
			c.fire(triggerDropped)
			c.redialLoop()
			return
		}
		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			logger.Warn("conn_bad_frame", "error", err.Error())
			continue
		}
		switch env.Type {
		case models.EnvMessageNew:
			var m models.Message
			if err := json.Unmarshal(env.Payload, &m); err != nil {
				logger.Warn("conn_bad_message_payload", "error", err.Error())
				continue
			}
			c.dispatch(m)
		case models.EnvError:
			logger.Warn("conn_server_error", "payload", string(env.Payload))
		default:
			logger.Debug("conn_frame_ignored", "type", env.Type)
		}
	}
}

// redialLoop retries at a fixed cadence until a dial succeeds or the
// connection is closed.
func (c *Conn) redialLoop() {
	for {
		time.Sleep(c.cfg.ReconnectDelay)
		c.mu.Lock()
		if c.closed || c.ws != nil {
			c.mu.Unlock()
			return
		}
		c.fire(triggerDial)
		ws, err := c.dial(context.Background())
		if err != nil {
			c.fire(triggerFailed)
			c.mu.Unlock()
			logger.Warn("conn_redial_failed", "url", c.cfg.URL, "error", err.Error())
			continue
		}
		c.ws = ws
		c.fire(triggerEstablished)
		c.mu.Unlock()
		logger.Info("conn_reestablished", "url", c.cfg.URL, "user", c.cfg.Creds.UserID)
		go c.readLoop(ws)
		return
	}
}

// OnInbound registers a handler for pushed messages and returns its
// unsubscribe func. Dispatch order follows registration order.
func (c *Conn) OnInbound(fn func(models.Message)) func() {
	c.hmu.Lock()
	c.nextID++
	id := c.nextID
	c.handlers = append(c.handlers, inboundHandler{id: id, fn: fn})
	c.hmu.Unlock()
	return func() {
		c.hmu.Lock()
		defer c.hmu.Unlock()
		for i, h := range c.handlers {
			if h.id == id {
				c.handlers = append(c.handlers[:i], c.handlers[i+1:]...)
				return
			}
		}
	}
}

func (c *Conn) dispatch(m models.Message) {
	c.hmu.Lock()
	hs := make([]inboundHandler, len(c.handlers))
	copy(hs, c.handlers)
	c.hmu.Unlock()
	for _, h := range hs {
		h.fn(m)
	}
}

// Publish sends a message over the live connection. Without one it
// returns ErrNotConnected; callers must not assume delivery.
func (c *Conn) Publish(m models.Message) error {
	c.mu.Lock()
	ws := c.ws
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrConnClosed
	}
	if ws == nil || !c.Connected() {
		return ErrNotConnected
	}
	env, err := models.WrapMessage(models.EnvMessageSend, m)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		return ErrNotConnected
	}
	return nil
}

// Disconnect tears the connection down and stops redials. Idempotent.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()
	if ws != nil {
		_ = ws.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	c.fire(triggerClose)
	logger.Info("conn_closed", "user", c.cfg.Creds.UserID)
}
