package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"

	"pawlink/pkg/auth"
	"pawlink/pkg/logger"
	"pawlink/pkg/models"
	"pawlink/pkg/store"
	"pawlink/pkg/utils"
	"pawlink/pkg/validation"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"nhooyr.io/websocket"
)

var activeSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "pawlink_broker_subscriptions",
	Help: "Currently registered live subscriptions.",
})

// Broker is the far end of the live channel: one websocket subscription
// per connected client, keyed by authenticated user id. Inbound
// message.send frames are persisted and forwarded to the RECIPIENT's
// subscriptions only; outbound frames are never looped back to the
// sender.
type Broker struct {
	mu             sync.Mutex
	subs           map[string]map[*subscriber]struct{}
	originPatterns []string
}

type subscriber struct {
	userID string
	out    chan models.Envelope
	cancel context.CancelFunc
}

// New returns an empty broker. allowedOrigins lists the browser origins
// accepted for websocket upgrades besides the server's own host; entries
// may be full origins or bare host patterns.
func New(allowedOrigins []string) *Broker {
	b := &Broker{subs: make(map[string]map[*subscriber]struct{})}
	for _, o := range allowedOrigins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			b.originPatterns = append(b.originPatterns, u.Host)
			continue
		}
		b.originPatterns = append(b.originPatterns, o)
	}
	return b
}

// Handler returns the websocket accept endpoint. The caller must have
// been authenticated already; the identity is read from the request
// context.
func (b *Broker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := auth.IdentityFromContext(r.Context())
		if !ok {
			utils.JSONError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: b.originPatterns})
		if err != nil {
			logger.Warn("ws_accept_failed", "user", id.ID, "error", err)
			return
		}
		b.serve(r.Context(), c, id)
	})
}

func (b *Broker) serve(ctx context.Context, c *websocket.Conn, id models.Identity) {
	ctx, cancel := context.WithCancel(ctx)
	sub := &subscriber{userID: id.ID, out: make(chan models.Envelope, 32), cancel: cancel}
	b.register(sub)
	defer b.unregister(sub)
	defer c.Close(websocket.StatusNormalClosure, "")

	logger.Info("subscription_opened", "user", id.ID, "role", id.Role)

	// writer: serializes all outbound frames for this subscription
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case env := <-sub.out:
				data, err := json.Marshal(env)
				if err != nil {
					continue
				}
				if err := c.Write(ctx, websocket.MessageText, data); err != nil {
					logger.Warn("subscription_write_failed", "user", sub.userID, "error", err)
					cancel()
					return
				}
			}
		}
	}()

	// reader: one frame at a time, in receipt order
	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			logger.Info("subscription_closed", "user", id.ID, "error", err)
			return
		}
		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			b.sendError(sub, "invalid envelope")
			continue
		}
		if env.Type != models.EnvMessageSend {
			b.sendError(sub, "unsupported envelope type: "+env.Type)
			continue
		}
		var m models.Message
		if err := json.Unmarshal(env.Payload, &m); err != nil {
			b.sendError(sub, "invalid message payload")
			continue
		}
		// the connection's identity is authoritative for the sender
		m.Sender = id.ID
		m.Read = false
		if err := validation.ValidateMessage(m); err != nil {
			b.sendError(sub, err.Error())
			continue
		}
		if err := store.Append(&m); err != nil {
			logger.Error("broker_append_failed", "sender", m.Sender, "recipient", m.Recipient, "error", err)
			b.sendError(sub, "persist failed")
			continue
		}
		b.forward(m)
	}
}

// forward delivers the persisted message to every live subscription of
// the recipient.
func (b *Broker) forward(m models.Message) {
	env, err := models.WrapMessage(models.EnvMessageNew, m)
	if err != nil {
		return
	}
	b.mu.Lock()
	targets := make([]*subscriber, 0, 2)
	for s := range b.subs[m.Recipient] {
		targets = append(targets, s)
	}
	b.mu.Unlock()
	for _, s := range targets {
		select {
		case s.out <- env:
		default:
			// slow consumer: drop the subscription rather than block the broker
			logger.Warn("subscription_backpressure_drop", "user", s.userID)
			s.cancel()
		}
	}
}

func (b *Broker) sendError(s *subscriber, msg string) {
	p, _ := json.Marshal(map[string]string{"message": msg})
	select {
	case s.out <- models.Envelope{Type: models.EnvError, Payload: p}:
	default:
	}
}

func (b *Broker) register(s *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[s.userID] == nil {
		b.subs[s.userID] = make(map[*subscriber]struct{})
	}
	b.subs[s.userID][s] = struct{}{}
	activeSubscriptions.Inc()
}

func (b *Broker) unregister(s *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.subs[s.userID]; ok {
		if _, present := set[s]; present {
			delete(set, s)
			activeSubscriptions.Dec()
		}
		if len(set) == 0 {
			delete(b.subs, s.userID)
		}
	}
}
