package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"pawlink/pkg/models"
)

func TestConnStartsDisconnected(t *testing.T) {
	c := NewConn(ConnConfig{URL: "ws://127.0.0.1:1/v1/ws"})
	assert.Equal(t, StateDisconnected, c.State())
	assert.False(t, c.Connected())
}

func TestPublishWithoutConnection(t *testing.T) {
	c := NewConn(ConnConfig{URL: "ws://127.0.0.1:1/v1/ws"})
	err := c.Publish(models.Message{Sender: "alice", Recipient: "shelter-1", Body: "hi"})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestDisconnectIdempotent(t *testing.T) {
	c := NewConn(ConnConfig{URL: "ws://127.0.0.1:1/v1/ws"})
	c.Disconnect()
	c.Disconnect()
	assert.ErrorIs(t, c.Publish(models.Message{Sender: "a", Recipient: "b", Body: "x"}), ErrConnClosed)
}

func TestOnInboundUnsubscribe(t *testing.T) {
	c := NewConn(ConnConfig{URL: "ws://127.0.0.1:1/v1/ws"})
	var mu sync.Mutex
	var got []string
	off1 := c.OnInbound(func(m models.Message) {
		mu.Lock()
		got = append(got, "h1:"+m.Body)
		mu.Unlock()
	})
	c.OnInbound(func(m models.Message) {
		mu.Lock()
		got = append(got, "h2:"+m.Body)
		mu.Unlock()
	})

	c.dispatch(models.Message{Body: "first"})
	off1()
	c.dispatch(models.Message{Body: "second"})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"h1:first", "h2:first", "h2:second"}, got)
}

// wsTestServer accepts one websocket, pushes a message.new frame and then
// records every frame the client sends.
type wsTestServer struct {
	mu     sync.Mutex
	frames []models.Envelope
	hdr    http.Header
}

func (s *wsTestServer) handler(push models.Message) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hdr = r.Header.Clone()
		s.mu.Unlock()
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")

		env, _ := models.WrapMessage(models.EnvMessageNew, push)
		data, _ := json.Marshal(env)
		if err := c.Write(r.Context(), websocket.MessageText, data); err != nil {
			return
		}
		for {
			_, b, err := c.Read(r.Context())
			if err != nil {
				return
			}
			var e models.Envelope
			if json.Unmarshal(b, &e) == nil {
				s.mu.Lock()
				s.frames = append(s.frames, e)
				s.mu.Unlock()
			}
		}
	})
}

func (s *wsTestServer) received() []models.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Envelope(nil), s.frames...)
}

func TestConnRoundTrip(t *testing.T) {
	push := models.Message{Sender: "shelter-1", Recipient: "alice", Body: "Biscuit says hi", TS: time.Now().UTC()}
	ws := &wsTestServer{}
	srv := httptest.NewServer(ws.handler(push))
	defer srv.Close()

	c := NewConn(ConnConfig{
		URL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws",
		Creds: Credentials{
			APIKey:    "fk",
			UserID:    "alice",
			Role:      models.RoleAdopter,
			Signature: "sig",
		},
		ReconnectDelay: 50 * time.Millisecond,
	})
	defer c.Disconnect()

	inbound := make(chan models.Message, 1)
	off := c.OnInbound(func(m models.Message) { inbound <- m })
	defer off()

	require.NoError(t, c.Connect(context.Background()))
	assert.True(t, c.Connected())

	// identity headers travel with the websocket handshake
	ws.mu.Lock()
	hdr := ws.hdr
	ws.mu.Unlock()
	assert.Equal(t, "alice", hdr.Get("X-User-ID"))
	assert.Equal(t, "adopter", hdr.Get("X-User-Role"))

	select {
	case m := <-inbound:
		assert.Equal(t, "Biscuit says hi", m.Body)
	case <-time.After(2 * time.Second):
		t.Fatal("pushed message never dispatched")
	}

	require.NoError(t, c.Publish(models.Message{Sender: "alice", Recipient: "shelter-1", Body: "on my way"}))
	require.Eventually(t, func() bool {
		return len(ws.received()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	got := ws.received()[0]
	assert.Equal(t, models.EnvMessageSend, got.Type)
	var m models.Message
	require.NoError(t, json.Unmarshal(got.Payload, &m))
	assert.Equal(t, "on my way", m.Body)
}

func TestConnReconnectsAfterDrop(t *testing.T) {
	var mu sync.Mutex
	accepts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		mu.Lock()
		accepts++
		n := accepts
		mu.Unlock()
		if n == 1 {
			// drop the first connection immediately
			c.Close(websocket.StatusInternalError, "going away")
			return
		}
		// hold the second connection open
		<-r.Context().Done()
		c.Close(websocket.StatusNormalClosure, "")
	}))
	defer srv.Close()

	c := NewConn(ConnConfig{
		URL:            "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws",
		ReconnectDelay: 20 * time.Millisecond,
	})
	defer c.Disconnect()

	require.NoError(t, c.Connect(context.Background()))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return accepts >= 2
	}, 3*time.Second, 10*time.Millisecond, "connection never redialed")
	require.Eventually(t, func() bool {
		return c.Connected()
	}, 3*time.Second, 10*time.Millisecond)
}
