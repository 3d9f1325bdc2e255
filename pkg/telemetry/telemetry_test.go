package telemetry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHub(t *testing.T) {
	hub := NewHub()
	require.NotNil(t, hub)
	assert.NotNil(t, hub.subscribers)
	assert.False(t, hub.closed)
}

func TestHub_PublishSubscribe(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	ch, unsub := hub.Subscribe()
	defer unsub()

	hub.Publish(Event{
		Type:      EventStageChanged,
		SessionID: "test-session",
		Data:      map[string]any{"from": "downloading", "to": "extracting"},
	})

	select {
	case received := <-ch:
		assert.Equal(t, EventStageChanged, received.Type)
		assert.Equal(t, "test-session", received.SessionID)
		assert.Equal(t, "extracting", received.Data["to"])
		assert.False(t, received.Timestamp.IsZero())
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
}

func TestHub_SubscribeSessionFilters(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	mine, unsub := hub.SubscribeSession("a")
	defer unsub()
	all, unsubAll := hub.Subscribe()
	defer unsubAll()

	hub.Publish(Event{Type: EventDownloadProgress, SessionID: "b"})
	hub.Publish(Event{Type: EventExtractProgress, SessionID: "a"})

	select {
	case ev := <-mine:
		assert.Equal(t, EventExtractProgress, ev.Type)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("session subscriber missed its event")
	}
	assert.Len(t, mine, 0)
	assert.Len(t, all, 2)
}

func TestHub_MultipleSubscribers(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	ch1, unsub1 := hub.Subscribe()
	defer unsub1()
	ch2, unsub2 := hub.Subscribe()
	defer unsub2()

	hub.Publish(Event{Type: EventSurfaceLoaded})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case received := <-ch:
			assert.Equal(t, EventSurfaceLoaded, received.Type)
		case <-time.After(100 * time.Millisecond):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestHub_Unsubscribe(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	ch, unsub := hub.Subscribe()
	unsub()
	unsub()

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after unsubscribe")
}

func TestHub_Close(t *testing.T) {
	hub := NewHub()
	ch, _ := hub.Subscribe()

	hub.Close()
	hub.Close()

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after hub close")

	hub.Publish(Event{Type: EventLoadFailed}) // Should not panic

	late, _ := hub.Subscribe()
	_, ok = <-late
	assert.False(t, ok, "subscribing after close yields a closed channel")
}

func TestHub_DropsWhenBufferFull(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	ch, unsub := hub.Subscribe()
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			hub.Publish(Event{Type: EventDownloadProgress, Data: map[string]any{"percent": i}})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	assert.Len(t, ch, 64)
}

func TestHub_PublishWithPresetTimestamp(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	ch, unsub := hub.Subscribe()
	defer unsub()

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	hub.Publish(Event{Type: EventRuntimeCommit, Timestamp: at})

	received := <-ch
	assert.Equal(t, at, received.Timestamp)
}

func TestHub_ConcurrentPublishSubscribe(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, unsub := hub.Subscribe()
			unsub()
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				hub.Publish(Event{Type: EventNavigation})
			}
		}()
	}
	wg.Wait()
}
