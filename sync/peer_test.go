package sync

import (
	"context"
	"encoding/json"
	"fmt"
	gosync "sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/statesync/state"
)

// chanConn implements Conn over a pair of channels for in-process testing.
// Messages are JSON-serialized through the channels to match real WebSocket behavior.
type chanConn struct {
	in     chan json.RawMessage
	out    chan json.RawMessage
	closed chan struct{}
	remote *chanConn
	once   gosync.Once
}

func (c *chanConn) ReadJSON(v interface{}) error {
	select {
	case raw := <-c.in:
		return json.Unmarshal(raw, v)
	case <-c.closed:
		return fmt.Errorf("connection closed")
	case <-c.remote.closed:
		return fmt.Errorf("connection closed by remote")
	}
}

func (c *chanConn) WriteJSON(v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case c.out <- raw:
		return nil
	case <-c.closed:
		return fmt.Errorf("connection closed")
	}
}

func (c *chanConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// connPair creates two connected Conn implementations for testing.
func connPair() (*chanConn, *chanConn) {
	ab := make(chan json.RawMessage, 256)
	ba := make(chan json.RawMessage, 256)
	a := &chanConn{in: ba, out: ab, closed: make(chan struct{})}
	b := &chanConn{in: ab, out: ba, closed: make(chan struct{})}
	a.remote, b.remote = b, a
	return a, b
}

// readMsg reads the next message of the given type from the raw side of a
// pair, skipping others.
func readMsg(t *testing.T, conn *chanConn, want MsgType) Msg {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case raw := <-conn.in:
			var msg Msg
			require.NoError(t, json.Unmarshal(raw, &msg))
			if msg.Type == want {
				return msg
			}
		case <-deadline:
			t.Fatalf("no %s message received", want)
		}
	}
}

func runPeer(t *testing.T, p *Peer) (stop func() error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	return func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(waitFor):
			t.Fatal("peer did not stop")
			return nil
		}
	}
}

func TestPeer_ConvergesBothWays(t *testing.T) {
	clock := clockwork.NewFakeClock()
	seeded, err := state.NewStore(state.Map{"seed": state.Map{"v": 1}})
	require.NoError(t, err)

	a := newTestChannel(t, clock, WithID("a"), WithWritable(seeded))
	b := newTestChannel(t, clock, WithID("b"))
	connA, connB := connPair()

	peerA := NewPeer(connA, a, testLogger(), WithName("alpha"))
	peerB := NewPeer(connB, b, testLogger(), WithName("beta"))
	stopA := runPeer(t, peerA)
	stopB := runPeer(t, peerB)

	// The hello exchange shows b holds nothing of a; a full sync follows
	advanceUntil(t, clock, 200*time.Millisecond, func() bool {
		return b.ReadOnly().Hash() == a.Writable().Hash()
	})
	assert.Equal(t, state.Map{"seed": state.Map{"v": 1.0}}, b.ReadOnly().State())

	require.NoError(t, a.Writable().Merge(state.Map{"seed": state.Map{"v": state.Absent, "w": "x"}}))
	require.NoError(t, b.Writable().Merge(state.Map{"from_b": true}))

	require.Eventually(t, func() bool {
		return b.ReadOnly().Hash() == a.Writable().Hash() && a.ReadOnly().Hash() == b.Writable().Hash()
	}, waitFor, tick)
	assert.Equal(t, state.Map{"seed": state.Map{"w": "x"}}, b.ReadOnly().State())

	require.Eventually(t, func() bool {
		return a.Phase() == PhaseIdle && b.Phase() == PhaseIdle
	}, waitFor, tick)

	assert.Equal(t, "beta", peerA.RemoteName())
	assert.Equal(t, "alpha", peerB.RemoteName())

	assert.NoError(t, stopA())
	// b sees a's connection go away, which may win over its own cancellation
	_ = stopB()

	sent, received := peerA.Stats()
	assert.Positive(t, sent)
	assert.Positive(t, received)
}

func TestPeer_ReplaceTravelsAsReplace(t *testing.T) {
	clock := clockwork.NewFakeClock()
	a := newTestChannel(t, clock)
	local, remote := connPair()

	stop := runPeer(t, NewPeer(local, a, testLogger()))
	defer stop()
	readMsg(t, remote, MsgHello)

	require.NoError(t, a.Writable().Merge(state.Map{"old": 1}))
	readMsg(t, remote, MsgPartial)

	require.NoError(t, a.Writable().Replace(state.Map{"new": 2}))
	msg := readMsg(t, remote, MsgPartial)
	assert.False(t, msg.Merge)
	assert.Equal(t, map[string]any{"new": 2.0}, msg.State)
	assert.Empty(t, msg.Removed)
}

func TestPeer_DeletionsTravelAsRemovedPaths(t *testing.T) {
	clock := clockwork.NewFakeClock()
	seeded, err := state.NewStore(state.Map{"a": state.Map{"x": 1, "y": 2}})
	require.NoError(t, err)
	c := newTestChannel(t, clock, WithWritable(seeded))
	local, remote := connPair()

	stop := runPeer(t, NewPeer(local, c, testLogger()))
	defer stop()
	readMsg(t, remote, MsgHello)

	require.NoError(t, seeded.Merge(state.Map{"a": state.Map{"x": state.Absent}}))
	msg := readMsg(t, remote, MsgPartial)

	assert.True(t, msg.Merge)
	assert.Empty(t, msg.State)
	assert.Equal(t, [][]string{{"a", "x"}}, msg.Removed)
}

func TestPeer_MalformedStateIsDropped(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := newTestChannel(t, clock)
	local, remote := connPair()

	stop := runPeer(t, NewPeer(local, c, testLogger()))
	readMsg(t, remote, MsgHello)

	require.NoError(t, remote.WriteJSON(map[string]any{
		"type":  MsgPartial,
		"merge": true,
		"state": map[string]any{"list": []int{1, 2, 3}},
	}))
	require.NoError(t, remote.WriteJSON(Msg{Type: MsgPartial, Merge: true, State: map[string]any{"ok": true}}))

	msg := readMsg(t, remote, MsgFingerprint)
	assert.Equal(t, c.ReadOnly().Hash(), msg.Hash)
	assert.Equal(t, state.Map{"ok": true}, c.ReadOnly().State())

	assert.NoError(t, stop(), "a malformed message must not end the session")
}

func TestPeer_FullSyncReplacesMirror(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := newTestChannel(t, clock)
	require.NoError(t, c.ReceiveRemoteState(state.Map{"stale": 1}, true))
	local, remote := connPair()

	stop := runPeer(t, NewPeer(local, c, testLogger()))
	defer stop()
	readMsg(t, remote, MsgHello)

	require.NoError(t, remote.WriteJSON(Msg{Type: MsgFull, State: map[string]any{"fresh": 1}, Reason: ReasonTimeout}))

	readMsg(t, remote, MsgFingerprint)
	assert.Equal(t, state.Map{"fresh": 1.0}, c.ReadOnly().State())
}

func TestPeer_RateLimitDropsExcess(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := newTestChannel(t, clock)
	local, remote := connPair()

	p := NewPeer(local, c, testLogger(), WithRateLimit(0.001, 1))
	stop := runPeer(t, p)
	defer stop()
	readMsg(t, remote, MsgHello)

	require.NoError(t, remote.WriteJSON(Msg{Type: MsgPartial, Merge: true, State: map[string]any{"first": 1}}))
	readMsg(t, remote, MsgFingerprint)

	require.NoError(t, remote.WriteJSON(Msg{Type: MsgPartial, Merge: true, State: map[string]any{"second": 1}}))
	assert.Never(t, func() bool {
		_, ok := c.ReadOnly().Get("second")
		return ok
	}, quiet, tick)
	assert.Equal(t, state.Map{"first": 1.0}, c.ReadOnly().State())
}

func TestPeer_StopsWhenChannelDestroyed(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := newTestChannel(t, clock)
	local, remote := connPair()

	done := make(chan error, 1)
	go func() { done <- NewPeer(local, c, testLogger()).Run(context.Background()) }()
	readMsg(t, remote, MsgHello)

	c.Destroy()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("peer kept running after its channel was destroyed")
	}
}

func TestPeer_RemoteCloseEndsSession(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := newTestChannel(t, clock)
	local, remote := connPair()

	done := make(chan error, 1)
	go func() { done <- NewPeer(local, c, testLogger()).Run(context.Background()) }()
	readMsg(t, remote, MsgHello)

	require.NoError(t, remote.Close())

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(waitFor):
		t.Fatal("peer kept running after the remote closed")
	}
}

func TestEncodeDiff(t *testing.T) {
	diff := state.Map{
		"a": state.Map{"x": state.Absent, "y": 1.0},
		"b": state.Absent,
		"c": state.Map{"d": state.Absent},
		"e": state.Map{},
		"n": nil,
	}

	wire, removed := encodeDiff(diff)

	assert.Equal(t, state.Map{"a": state.Map{"y": 1.0}, "e": state.Map{}, "n": nil}, wire)
	assert.ElementsMatch(t, [][]string{{"a", "x"}, {"b"}, {"c", "d"}}, removed)

	update := decodeUpdate(wire, removed)
	assert.True(t, state.Equal(diff, update), "decoded update should equal the original diff: %v", update)
}

func TestDecodeUpdate_IgnoresPathThroughLeaf(t *testing.T) {
	update := decodeUpdate(map[string]any{"a": "leaf"}, [][]string{{"a", "b"}, {}})
	assert.Equal(t, state.Map{"a": "leaf"}, update)
}
