package chat

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"pawlink/pkg/logger"
	"pawlink/pkg/models"
)

// HistorySource is the REST surface the reconciler needs. *Client
// satisfies it.
type HistorySource interface {
	History(ctx context.Context, counterpartID string) ([]models.Message, error)
	MarkRead(ctx context.Context, counterpartID string) error
}

// Transport is the live-publish surface the reconciler needs. *Conn
// satisfies it.
type Transport interface {
	Publish(m models.Message) error
	Connected() bool
}

// ReconcilerConfig wires a reconciler to its collaborators.
type ReconcilerConfig struct {
	Self      models.Identity
	Source    HistorySource
	Transport Transport

	// OnForeign receives inbound messages that belong to a conversation
	// other than the active one. Typically Aggregator.Bump. Invoked on
	// its own goroutine so slow hooks cannot stall the reconciler.
	OnForeign func(models.Message)

	// OnOpened fires after a conversation's history has been fetched and
	// marked read. Typically a refresh of the unread aggregate.
	OnOpened func(counterpartID string)
}

// Reconciler merges fetched history with live pushed messages into one
// ordered view of the active conversation. All state is owned by a
// single goroutine; public methods post commands to it, so callers never
// race and the loop never blocks on I/O.
type Reconciler struct {
	cfg ReconcilerConfig

	cmds chan func()
	done chan struct{}
	once sync.Once

	// Owned by the run loop.
	active  string
	epoch   uint64
	fetched bool
	msgs    []models.Message
	pending *models.PetContext
}

// NewReconciler starts the reconciler's command loop.
func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	r := &Reconciler{
		cfg:  cfg,
		cmds: make(chan func(), 64),
		done: make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Reconciler) run() {
	for {
		select {
		case f := <-r.cmds:
			f()
		case <-r.done:
			return
		}
	}
}

func (r *Reconciler) post(f func()) {
	select {
	case r.cmds <- f:
	case <-r.done:
	}
}

// Close stops the command loop. Idempotent.
func (r *Reconciler) Close() {
	r.once.Do(func() { close(r.done) })
}

// Open activates the conversation with the counterpart and kicks off the
// history fetch. Switching conversations invalidates any fetch still in
// flight: a response that arrives for a previously active counterpart is
// dropped, never merged into the current view.
func (r *Reconciler) Open(counterpartID string) {
	r.post(func() {
		r.epoch++
		e := r.epoch
		r.active = counterpartID
		r.fetched = false
		r.msgs = nil
		go r.fetch(e, counterpartID)
	})
}

func (r *Reconciler) fetch(epoch uint64, counterpartID string) {
	msgs, err := r.cfg.Source.History(context.Background(), counterpartID)
	merged := make(chan bool, 1)
	r.post(func() {
		if r.epoch != epoch || r.active != counterpartID {
			logger.Debug("stale_history_dropped", "counterpart", counterpartID)
			merged <- false
			return
		}
		if err != nil {
			logger.Warn("history_fetch_failed", "counterpart", counterpartID, "error", err.Error())
		} else {
			// anything in r.msgs was sent or pushed after this Open; the
			// fetched history becomes the base and those stay behind it
			r.msgs = append(append([]models.Message(nil), msgs...), r.msgs...)
		}
		r.fetched = true
		r.anchorContext()
		merged <- true
	})
	var current bool
	select {
	case current = <-merged:
	case <-r.done:
		return
	}
	// a fetch abandoned by a newer Open must not zero that conversation's
	// unread count
	if !current || err != nil {
		return
	}
	if err := r.cfg.Source.MarkRead(context.Background(), counterpartID); err != nil {
		logger.Warn("mark_read_failed", "counterpart", counterpartID, "error", err.Error())
		return
	}
	if r.cfg.OnOpened != nil {
		r.cfg.OnOpened(counterpartID)
	}
}

// Send publishes a text message to the active conversation. The message
// is appended to the local view before the publish so the sender sees it
// immediately; the broker never echoes it back. A failed publish still
// returns the error to the caller.
func (r *Reconciler) Send(body string) error {
	errCh := make(chan error, 1)
	r.post(func() {
		if r.active == "" {
			errCh <- ErrNoActiveConversation
			return
		}
		m := models.Message{
			Sender:    r.cfg.Self.ID,
			Recipient: r.active,
			Body:      body,
			TS:        time.Now().UTC(),
		}
		r.msgs = append(r.msgs, m)
		errCh <- r.cfg.Transport.Publish(m)
	})
	select {
	case err := <-errCh:
		return err
	case <-r.done:
		return ErrConnClosed
	}
}

// Inbound routes a pushed message: appended if it belongs to the active
// conversation, handed to the foreign hook otherwise. Wire this to
// Conn.OnInbound.
func (r *Reconciler) Inbound(m models.Message) {
	r.post(func() {
		if r.active != "" && m.Sender == r.active && m.Recipient == r.cfg.Self.ID {
			r.msgs = append(r.msgs, m)
			return
		}
		if r.cfg.OnForeign != nil {
			go r.cfg.OnForeign(m)
		}
	})
}

// SetContext records the pet context the next conversation should be
// anchored to. If a conversation is active and its history has landed
// the anchor is attempted immediately; otherwise it happens when
// history for the current or next Open lands.
func (r *Reconciler) SetContext(pc *models.PetContext) {
	r.post(func() {
		r.pending = pc
		if r.active != "" && r.fetched {
			r.anchorContext()
		}
	})
}

// SetContextJSON parses a raw context payload. A payload that does not
// parse or names no pet is discarded and reported as malformed; the
// conversation proceeds without an anchor.
func (r *Reconciler) SetContextJSON(raw []byte) error {
	var pc models.PetContext
	if err := json.Unmarshal(raw, &pc); err != nil || pc.Name == "" {
		logger.Warn("context_payload_discarded", "size", len(raw))
		return ErrMalformedContext
	}
	r.SetContext(&pc)
	return nil
}

// anchorContext publishes the pending context into the active
// conversation unless the most recent context-bearing message already
// carries an equal one. Runs on the loop goroutine only, and never
// before the active conversation's history has landed: the dedup scan
// needs the fetched base, not an empty view.
func (r *Reconciler) anchorContext() {
	if r.pending == nil || r.active == "" || !r.fetched {
		return
	}
	for i := len(r.msgs) - 1; i >= 0; i-- {
		if r.msgs[i].Context == nil {
			continue
		}
		if r.msgs[i].Context.Equal(r.pending) {
			logger.Debug("context_anchor_deduped", "counterpart", r.active, "pet", r.pending.Name)
			r.pending = nil
			return
		}
		break
	}
	if !r.cfg.Transport.Connected() {
		logger.Debug("context_anchor_deferred", "counterpart", r.active)
		return
	}
	m := models.Message{
		Sender:    r.cfg.Self.ID,
		Recipient: r.active,
		TS:        time.Now().UTC(),
		Context:   r.pending,
	}
	if err := r.cfg.Transport.Publish(m); err != nil {
		logger.Warn("context_anchor_publish_failed", "counterpart", r.active, "error", err.Error())
		return
	}
	r.msgs = append(r.msgs, m)
	r.pending = nil
	logger.Info("context_anchored", "counterpart", r.active, "pet", m.Context.Name)
}

// Active returns the counterpart of the active conversation, empty if
// none.
func (r *Reconciler) Active() string {
	ch := make(chan string, 1)
	r.post(func() { ch <- r.active })
	select {
	case s := <-ch:
		return s
	case <-r.done:
		return ""
	}
}

// Snapshot returns a copy of the active conversation's merged view,
// oldest first.
func (r *Reconciler) Snapshot() []models.Message {
	ch := make(chan []models.Message, 1)
	r.post(func() {
		ch <- append([]models.Message(nil), r.msgs...)
	})
	select {
	case m := <-ch:
		return m
	case <-r.done:
		return nil
	}
}
