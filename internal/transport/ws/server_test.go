package ws

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"gridhold.gg/internal/admission"
	"gridhold.gg/internal/engine"
	"gridhold.gg/internal/game"
	"gridhold.gg/internal/master"
	"gridhold.gg/internal/protocol"
	"gridhold.gg/internal/store"
)

const testToken = "5f4dcc3b5aa765d61d83"

type testEnv struct {
	ts     *httptest.Server
	store  *store.Store
	engine *engine.Engine
	server *Server
}

func newTestEnv(t *testing.T, clock *game.Clock, tune ...func(*game.Tuning)) *testEnv {
	t.Helper()

	s := store.New()
	s.Update(func(tx *store.Tx) {
		tx.Data.Tokens[testToken] = "team01"
		tx.Data.Period = 600000
	})

	md := master.New([]master.Resource{
		{ID: 1, X: 5, Y: 5, T0: 0, T1: 120000, Type: "A", Weight: 10},
	}, 600000)

	tuning := game.Defaults()
	tuning.StreamTimeLimit = 1
	tuning.StreamSettleDelay = 10
	tuning.StreamIdleTimeout = 60000
	for _, fn := range tune {
		fn(&tuning)
	}

	logger := log.New(io.Discard, "", 0)
	eng := engine.New(s, nil)
	adm := admission.New(s, clock)
	srv := NewServer(s, md, clock, tuning, eng, adm, logger)

	mux := http.NewServeMux()
	srv.Register(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return &testEnv{ts: ts, store: s, engine: eng, server: srv}
}

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

func dial(t *testing.T, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, path), nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var v map[string]any
	if err := json.Unmarshal(msg, &v); err != nil {
		t.Fatalf("decode %q: %v", msg, err)
	}
	return v
}

func TestSessionSnapshotAndMove(t *testing.T) {
	clock := game.NewClock(time.Now().UnixMilli())
	env := newTestEnv(t, clock)

	conn := dial(t, env.ts, "/event/"+testToken)
	ev := readEvent(t, conn)
	if ev["type"] != protocol.EventGame {
		t.Fatalf("first event = %v", ev)
	}
	if ev["userId"] != "team01" {
		t.Errorf("userId = %v", ev["userId"])
	}
	if agents, ok := ev["agent"].([]any); !ok || len(agents) != engine.NumAgents {
		t.Errorf("agent = %v", ev["agent"])
	}

	// A committed move after the snapshot streams as a move event.
	now := clock.Now()
	if _, err := env.engine.Move("team01", 1, 3, 4, now, now); err != nil {
		t.Fatalf("move: %v", err)
	}
	ev = readEvent(t, conn)
	if ev["type"] != protocol.EventMove {
		t.Fatalf("event = %v", ev)
	}
	if ev["idx"] != float64(1) {
		t.Errorf("idx = %v", ev["idx"])
	}
	move, ok := ev["move"].([]any)
	if !ok || len(move) != 2 {
		t.Fatalf("move = %v", ev["move"])
	}
}

func TestSessionTakeover(t *testing.T) {
	clock := game.NewClock(time.Now().UnixMilli())
	env := newTestEnv(t, clock)

	first := dial(t, env.ts, "/event/"+testToken)
	if ev := readEvent(t, first); ev["type"] != protocol.EventGame {
		t.Fatalf("first event = %v", ev)
	}

	// A second session for the same user bumps the first.
	second := dial(t, env.ts, "/event/"+testToken)
	if ev := readEvent(t, second); ev["type"] != protocol.EventGame {
		t.Fatalf("second session event = %v", ev)
	}
	if ev := readEvent(t, first); ev["type"] != protocol.EventDisconnected {
		t.Fatalf("first session event = %v, want disconnected", ev)
	}
}

func TestSessionRejectsBeforeStart(t *testing.T) {
	clock := game.NewClock(time.Now().Add(time.Hour).UnixMilli())
	env := newTestEnv(t, clock)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(env.ts, "/event/"+testToken), nil)
	if err == nil {
		t.Fatal("dial succeeded before game start")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("resp = %v", resp)
	}
	resp.Body.Close()
}

func TestSessionRejectsUnknownToken(t *testing.T) {
	clock := game.NewClock(time.Now().UnixMilli())
	env := newTestEnv(t, clock)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(env.ts, "/event/ffffffffffffffffffff"), nil)
	if err == nil {
		t.Fatal("dial succeeded with unknown token")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("resp = %v", resp)
	}
	resp.Body.Close()
}

func TestSessionGameFinished(t *testing.T) {
	clock := game.NewClock(time.Now().Add(-time.Hour).UnixMilli())
	env := newTestEnv(t, clock)

	conn := dial(t, env.ts, "/event/"+testToken)
	if ev := readEvent(t, conn); ev["type"] != protocol.EventGameFinished {
		t.Fatalf("event = %v, want game_finished", ev)
	}
}

func TestSpectatorSession(t *testing.T) {
	clock := game.NewClock(time.Now().Add(-time.Minute).UnixMilli())
	env := newTestEnv(t, clock)

	conn := dial(t, env.ts, AdminPath)
	ev := readEvent(t, conn)
	if ev["type"] != protocol.EventGame {
		t.Fatalf("event = %v", ev)
	}
	if ev["userId"] != "admin" {
		t.Errorf("userId = %v", ev["userId"])
	}
	if agents, ok := ev["agent"].([]any); !ok || len(agents) != 0 {
		t.Errorf("agent = %v, want empty for spectator", ev["agent"])
	}

	// Ranking payloads pass through verbatim; an update frame becomes the
	// update signal.
	payload, _ := json.Marshal(protocol.RankingEvent{
		Type:          protocol.EventRanking,
		Ranking:       []protocol.RankingEntry{{Point: 1.5, UserID: "team01", Rank: 1}},
		OwnedResource: []protocol.TypeAmount{},
	})
	env.store.Publish(protocol.SpectatorTopic, protocol.RankingFrame(payload))
	env.store.Publish(protocol.SpectatorTopic, protocol.UpdateFrame())

	ev = readEvent(t, conn)
	if ev["type"] != protocol.EventRanking {
		t.Fatalf("event = %v", ev)
	}
	ev = readEvent(t, conn)
	if ev["type"] != protocol.EventUpdate {
		t.Fatalf("event = %v", ev)
	}
}

func TestSpectatorSessionZeroDelay(t *testing.T) {
	clock := game.NewClock(time.Now().Add(-time.Minute).UnixMilli())
	env := newTestEnv(t, clock, func(tn *game.Tuning) { tn.SpectatorDelay = 0 })

	conn := dial(t, env.ts, AdminPath)
	if ev := readEvent(t, conn); ev["userId"] != "admin" {
		t.Fatalf("userId = %v", ev["userId"])
	}

	// The session stays a spectator even with no replay delay: update frames
	// become update signals instead of killing the stream.
	env.store.Publish(protocol.SpectatorTopic, protocol.UpdateFrame())
	if ev := readEvent(t, conn); ev["type"] != protocol.EventUpdate {
		t.Fatalf("event = %v, want update", ev)
	}
}

func TestActiveSessionsGauge(t *testing.T) {
	clock := game.NewClock(time.Now().UnixMilli())
	env := newTestEnv(t, clock)

	conn := dial(t, env.ts, "/event/"+testToken)
	readEvent(t, conn)
	if n := env.server.ActiveSessions(); n != 1 {
		t.Errorf("active = %d, want 1", n)
	}
	conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for env.server.ActiveSessions() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("session never closed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
