package cdp

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func TestBus_PanicDoesNotStopDelivery(t *testing.T) {
	b := NewBus(zaptest.NewLogger(t))

	var calls []string
	b.On("Runtime.consoleAPICalled", func(json.RawMessage) { panic("boom") })
	b.On("Runtime.consoleAPICalled", func(json.RawMessage) { calls = append(calls, "after") })

	assert.Equal(t, 2, b.Emit("Runtime.consoleAPICalled", nil))
	assert.Equal(t, []string{"after"}, calls)
}

func TestBus_Off(t *testing.T) {
	b := NewBus(nil)

	var n int
	sub := b.On("Network.requestWillBeSent", func(json.RawMessage) { n++ })
	b.Emit("Network.requestWillBeSent", nil)
	assert.True(t, b.Off(sub))
	assert.False(t, b.Off(sub))
	b.Emit("Network.requestWillBeSent", nil)

	assert.Equal(t, 1, n)
	assert.Zero(t, b.Len("Network.requestWillBeSent"))
	assert.Equal(t, "Network.requestWillBeSent", sub.Name())
}

func TestBus_OnceUnderConcurrentEmit(t *testing.T) {
	b := NewBus(nil)

	var fired atomic.Int32
	b.Once("Page.domContentEventFired", func(json.RawMessage) { fired.Add(1) })

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Emit("Page.domContentEventFired", nil)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), fired.Load())
}

func TestBus_HandlerMayUnsubscribeItself(t *testing.T) {
	b := NewBus(nil)

	var sub Subscription
	var n int
	sub = b.On("Page.frameNavigated", func(json.RawMessage) {
		n++
		b.Off(sub)
	})
	b.Emit("Page.frameNavigated", nil)
	b.Emit("Page.frameNavigated", nil)
	assert.Equal(t, 1, n)
}

func TestBus_Clear(t *testing.T) {
	b := NewBus(nil)
	b.On("A", func(json.RawMessage) {})
	b.Once("B", func(json.RawMessage) {})
	b.Clear()
	assert.Zero(t, b.Emit("A", nil))
	assert.Zero(t, b.Emit("B", nil))
}
