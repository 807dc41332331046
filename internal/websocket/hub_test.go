package websocket

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pismenka-api/internal/domain"
)

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewHub(logger)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, logger, w, r)
	}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForConnections(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Connections() != want {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d connections, have %d", want, hub.Connections())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return msg
}

func TestPingIsAnsweredWithPong(t *testing.T) {
	_, srv := startHub(t)
	conn := dial(t, srv)

	if err := conn.WriteJSON(ClientMessage{Type: MessageTypePing}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != MessageTypePong {
		t.Fatalf("expected pong, got %q", msg.Type)
	}
}

func TestUnknownMessageGetsError(t *testing.T) {
	_, srv := startHub(t)
	conn := dial(t, srv)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != MessageTypeError {
		t.Fatalf("expected error, got %q", msg.Type)
	}

	if err := conn.WriteJSON(ClientMessage{Type: "subscribe"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != MessageTypeError {
		t.Fatalf("expected error, got %q", msg.Type)
	}
}

func TestBroadcastReachesEveryClient(t *testing.T) {
	hub, srv := startHub(t)
	first := dial(t, srv)
	second := dial(t, srv)
	waitForConnections(t, hub, 2)

	hub.BroadcastLeaderboard(domain.Leaderboard{
		Entries:      []domain.LeaderboardEntry{{Rank: 1, PlayerName: "Eva", Moves: 4, TimeSeconds: 30}},
		Date:         "2024-01-01",
		TotalPlayers: 1,
	})

	for _, conn := range []*websocket.Conn{first, second} {
		msg := readMessage(t, conn)
		if msg.Type != MessageTypeLeaderboardUpdate {
			t.Fatalf("expected leaderboard update, got %q", msg.Type)
		}
		data, _ := json.Marshal(msg.Data)
		var board domain.Leaderboard
		if err := json.Unmarshal(data, &board); err != nil {
			t.Fatalf("decode board: %v", err)
		}
		if board.TotalPlayers != 1 || board.Entries[0].PlayerName != "Eva" {
			t.Fatalf("unexpected board %+v", board)
		}
	}
}

func TestWordChangedOmitsWord(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv)
	waitForConnections(t, hub, 1)

	hub.BroadcastWordChanged(domain.DailyGame{Word: "PRAVOPIS", Date: "2024-01-02"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if strings.Contains(string(raw), "PRAVOPIS") {
		t.Fatalf("word leaked in broadcast: %s", raw)
	}
	if !strings.Contains(string(raw), MessageTypeWordChanged) || !strings.Contains(string(raw), "2024-01-02") {
		t.Fatalf("unexpected frame %s", raw)
	}
}

func TestDisconnectUnregisters(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv)
	waitForConnections(t, hub, 1)

	conn.Close()
	waitForConnections(t, hub, 0)
}

func TestShutdownStopsClientPumps(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewHub(logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, logger, w, r)
	}))
	defer srv.Close()

	conn := dial(t, srv)
	waitForConnections(t, hub, 1)

	hub.mu.RLock()
	var client *Client
	for c := range hub.clients {
		client = c
	}
	hub.mu.RUnlock()

	cancel()

	select {
	case <-client.stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("write pump still running after hub shutdown")
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("expected going away close, got %v", err)
	}
}
