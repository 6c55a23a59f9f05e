package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeed_DeliversInSubscriptionOrder(t *testing.T) {
	var f Feed[int]
	var got []string

	f.Subscribe(func(v int) { got = append(got, "a") })
	f.Subscribe(func(v int) { got = append(got, "b") })

	n := f.Emit(1)

	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestFeed_Unsubscribe(t *testing.T) {
	var f Feed[string]
	calls := 0

	unsubscribe := f.Subscribe(func(string) { calls++ })
	f.Emit("x")
	unsubscribe()
	unsubscribe() // idempotent
	f.Emit("y")

	assert.Equal(t, 1, calls)
	assert.Zero(t, f.Len())
}

type counter struct{ n int }

func (c *counter) observe(int) { c.n++ }

func TestFeed_UnsubscribeMethodValuePerReceiver(t *testing.T) {
	var f Feed[int]
	first, second := &counter{}, &counter{}

	unsubscribeFirst := f.Subscribe(first.observe)
	f.Subscribe(second.observe)

	unsubscribeFirst()
	f.Emit(1)

	assert.Zero(t, first.n)
	assert.Equal(t, 1, second.n)
	assert.Equal(t, 1, f.Len())
}

func TestFeed_UnsubscribeDuringEmit(t *testing.T) {
	var f Feed[int]
	var second int

	var unsubscribeSecond func()
	f.Subscribe(func(int) { unsubscribeSecond() })
	unsubscribeSecond = f.Subscribe(func(v int) { second += v })

	// The snapshot taken by Emit still includes the second subscriber
	f.Emit(1)
	f.Emit(1)

	assert.Equal(t, 1, second)
}

func TestFeed_PanicIsolated(t *testing.T) {
	var f Feed[int]
	var recovered []any
	delivered := false

	f.SetPanicHandler(func(r any) { recovered = append(recovered, r) })
	f.Subscribe(func(int) { panic("transport exploded") })
	f.Subscribe(func(int) { delivered = true })

	require.NotPanics(t, func() { f.Emit(1) })
	assert.True(t, delivered)
	assert.Equal(t, []any{"transport exploded"}, recovered)
}

func TestFeed_Close(t *testing.T) {
	var f Feed[int]
	calls := 0
	f.Subscribe(func(int) { calls++ })

	f.Close()

	assert.Zero(t, f.Emit(1))
	f.Subscribe(func(int) { calls++ })()
	assert.Zero(t, f.Emit(2))
	assert.Zero(t, calls)
}

func TestFeed_NilSubscriber(t *testing.T) {
	var f Feed[int]
	f.Subscribe(nil)()
	assert.Zero(t, f.Len())
}
