package live

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/usba/internal/domain"
	"github.com/ashureev/usba/internal/gateway"
	"github.com/ashureev/usba/internal/identity"
	"github.com/ashureev/usba/internal/wizard"
	"github.com/coder/websocket"
)

func recv(t *testing.T, c *Client) envelope {
	t.Helper()
	select {
	case data := <-c.send:
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return env
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}
	return envelope{}
}

func TestHub_PublishFansOutPerDevice(t *testing.T) {
	t.Parallel()

	h := NewHub()
	a1 := h.Register("anon_a", "tab-1")
	a2 := h.Register("anon_a", "tab-2")
	b := h.Register("anon_b", "tab-1")

	h.Publish("anon_a", 1, map[string]string{"phase": "setup"})

	for _, c := range []*Client{a1, a2} {
		if env := recv(t, c); env.Type != "state" {
			t.Errorf("type = %q", env.Type)
		}
	}
	select {
	case <-b.send:
		t.Fatal("update leaked to another device")
	default:
	}
}

func TestHub_DropsOlderVersions(t *testing.T) {
	t.Parallel()

	h := NewHub()
	c := h.Register("anon_a", "tab-1")

	h.Publish("anon_a", 5, "v5")
	h.Publish("anon_a", 4, "v4")
	h.Publish("anon_a", 5, "v5 again")

	if env := recv(t, c); env.Data != "v5" {
		t.Errorf("data = %v", env.Data)
	}
	select {
	case data := <-c.send:
		t.Fatalf("unexpected extra message %s", data)
	default:
	}
}

type emptySlot struct{}

func (emptySlot) Load(context.Context) (domain.Session, bool) { return domain.Session{}, false }
func (emptySlot) Save(context.Context, domain.Session) {}
func (emptySlot) Clear(context.Context) {}

func drain(c *Client) int {
	n := 0
	for {
		select {
		case <-c.send:
			n++
		default:
			return n
		}
	}
}

func TestHub_OpenTabHearsRecreatedMachine(t *testing.T) {
	t.Parallel()

	h := NewHub()
	c := h.Register("anon_a", "tab-1")
	r := wizard.NewRegistry(gateway.Disabled{}, func(string) wizard.Slot { return emptySlot{} }, func(s wizard.Snapshot) {
		h.Publish(s.UserID, s.Version, s.Phase)
	})

	ctx := context.Background()
	m := r.Get(ctx, "anon_a")
	if err := m.AcceptDisclaimer(ctx); err != nil {
		t.Fatal(err)
	}
	if err := m.SetJurisdiction(ctx, "Nevada"); err != nil {
		t.Fatal(err)
	}
	if n := drain(c); n == 0 {
		t.Fatal("no updates before eviction")
	}

	if n := r.EvictIdle(time.Now().Add(2*time.Hour), time.Hour); n != 1 {
		t.Fatalf("evicted %d, want 1", n)
	}
	m = r.Get(ctx, "anon_a")
	if err := m.AcceptDisclaimer(ctx); err != nil {
		t.Fatal(err)
	}
	if n := drain(c); n == 0 {
		t.Error("open tab received nothing from the recreated machine")
	}
}

func TestHub_UnregisterStaleKeepsReplacement(t *testing.T) {
	t.Parallel()

	h := NewHub()
	old := h.Register("anon_a", "tab-1")
	replacement := h.Register("anon_a", "tab-1")

	select {
	case <-old.done:
	default:
		t.Fatal("replaced client not closed")
	}

	h.Unregister("anon_a", "tab-1", old)
	if h.Connections("anon_a") != 1 {
		t.Fatalf("connections = %d, want 1", h.Connections("anon_a"))
	}
	h.Unregister("anon_a", "tab-1", replacement)
	if h.Connections("anon_a") != 0 {
		t.Fatalf("connections = %d, want 0", h.Connections("anon_a"))
	}
}

func TestHub_FullQueueDoesNotBlock(t *testing.T) {
	t.Parallel()

	h := NewHub()
	h.Register("anon_a", "tab-1")

	done := make(chan struct{})
	go func() {
		for v := uint64(1); v <= sendBuffer*3; v++ {
			h.Publish("anon_a", v, v)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow client")
	}
}

func withUser(userID string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(identity.WithUser(r.Context(), userID)))
	})
}

func TestWebSocketHandler_StreamsState(t *testing.T) {
	t.Parallel()

	hub := NewHub()
	state := func(context.Context, string) (uint64, any) {
		return 1, map[string]string{"phase": "disclaimer"}
	}
	srv := httptest.NewServer(withUser("anon_ws", NewWebSocketHandler(hub, state, "", true)))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	read := func() map[string]any {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return msg
	}

	initial := read()
	if initial["type"] != "state" || initial["data"].(map[string]any)["phase"] != "disclaimer" {
		t.Fatalf("initial = %v", initial)
	}

	hub.Publish("anon_ws", 2, map[string]string{"phase": "setup"})
	update := read()
	if update["data"].(map[string]any)["phase"] != "setup" {
		t.Fatalf("update = %v", update)
	}

	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if pong := read(); pong["type"] != "pong" {
		t.Fatalf("pong = %v", pong)
	}
}

func TestWebSocketHandler_RejectsForeignOrigin(t *testing.T) {
	t.Parallel()

	h := NewWebSocketHandler(NewHub(), nil, "https://usba.example", false)
	req := httptest.NewRequest(http.MethodGet, "/ws/session", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}
