package observer

import (
	"context"
	"io"
	"log"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"boiding.ai/internal/sim/authority"
	"boiding.ai/internal/sim/mailbox"
)

type fixture struct {
	srv   *Server
	http  *httptest.Server
	snaps *mailbox.Mailbox[[]byte]
	inbox *mailbox.Mailbox[authority.Message]
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	cfg.Logger = log.New(io.Discard, "", 0)
	f := &fixture{
		snaps: mailbox.New[[]byte](8),
		inbox: mailbox.New[authority.Message](8),
	}
	f.srv = NewServer(f.snaps, f.inbox, cfg)
	f.http = httptest.NewServer(f.srv.WSHandler())

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = f.srv.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		f.http.Close()
	})
	return f
}

func (f *fixture) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/" + query
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.Eventually(t, func() bool { return f.srv.Stats().Subscribers > 0 }, time.Second, 5*time.Millisecond)
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) (int, []byte) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, b, err := conn.ReadMessage()
	require.NoError(t, err)
	return kind, b
}

const snap = `{"teams":{"Alpha":{"name":"Alpha","ip_address":"10.0.0.1","port":8000,"connected":false,"flock":{"boids":{}}}}}`

func TestSubscriberReceivesSnapshots(t *testing.T) {
	f := newFixture(t, Config{})
	conn := f.dial(t, "")

	require.NoError(t, f.snaps.Send([]byte(snap), time.Second))
	kind, b := readFrame(t, conn)
	require.Equal(t, websocket.TextMessage, kind)
	require.JSONEq(t, snap, string(b))
}

func TestLateSubscriberGetsLatest(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, f.snaps.Send([]byte(`{"teams":{}}`), time.Second))
	require.NoError(t, f.snaps.Send([]byte(snap), time.Second))
	require.Eventually(t, func() bool { return f.srv.Stats().Snapshots == 2 }, time.Second, 5*time.Millisecond)

	conn := f.dial(t, "")
	_, b := readFrame(t, conn)
	require.JSONEq(t, snap, string(b))
}

func TestMsgpackSubscriber(t *testing.T) {
	f := newFixture(t, Config{})
	conn := f.dial(t, "?encoding=msgpack")

	require.NoError(t, f.snaps.Send([]byte(snap), time.Second))
	kind, b := readFrame(t, conn)
	require.Equal(t, websocket.BinaryMessage, kind)

	var v map[string]any
	require.NoError(t, msgpack.Unmarshal(b, &v))
	teams, ok := v["teams"].(map[string]any)
	require.True(t, ok)
	require.Contains(t, teams, "Alpha")
}

func TestSpawnCommandForwarded(t *testing.T) {
	f := newFixture(t, Config{SpawnCount: 2})
	conn := f.dial(t, "")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"Spawn":{"team":"Alpha"}}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"Spawn":{"team":"Beta","count":7}}`)))

	for _, want := range []authority.Spawn{{Name: "Alpha", Count: 2}, {Name: "Beta", Count: 7}} {
		select {
		case m := <-f.inbox.C():
			require.Equal(t, want, m)
		case <-time.After(2 * time.Second):
			t.Fatalf("command not forwarded: %+v", want)
		}
	}
}

func TestBadAndExcessCommands(t *testing.T) {
	f := newFixture(t, Config{CommandRate: 0.001, CommandBurst: 1})
	conn := f.dial(t, "")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"Despawn":{}}`)))
	for i := 0; i < 3; i++ {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"Spawn":{"team":"Alpha"}}`)))
	}

	require.Eventually(t, func() bool {
		st := f.srv.Stats()
		return st.RejectedCommands == 1 && st.Commands == 1 && st.LimitedCommands == 2
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, 1, f.inbox.Len())
}

func TestPublishDropsForSlowSubscriber(t *testing.T) {
	s := NewServer(mailbox.New[[]byte](1), mailbox.New[authority.Message](1), Config{Logger: log.New(io.Discard, "", 0)})
	sub := &subscriber{id: "slow", out: make(chan *frame, 1)}
	s.join(sub)

	s.publish([]byte(`{"teams":{}}`))
	s.publish([]byte(snap))
	require.Equal(t, uint64(1), s.Stats().DroppedFrames)
	require.Equal(t, `{"teams":{}}`, string((<-sub.out).text))

	s.leave("slow")
	require.Equal(t, 0, s.Stats().Subscribers)
}
