package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeReceivesMatchingTopic(t *testing.T) {
	bus := New(DefaultConfig(), nil)
	bus.Start()
	defer bus.Stop()

	sub := bus.Subscribe(TopicIndexStatus)
	bus.Publish(Event{Topic: TopicIndexStatus, Path: "docs"})
	bus.Publish(Event{Topic: TopicSyncStatus, Path: "docs"})

	select {
	case evt := <-sub.Events():
		assert.Equal(t, TopicIndexStatus, evt.Topic)
	case <-time.After(time.Second):
		t.Fatal("expected an event")
	}

	select {
	case evt := <-sub.Events():
		t.Fatalf("unexpected second event: %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPerSubscriberBufferDropsOldest(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SubscriberBuffer = 2
	bus := New(cfg, nil)
	bus.Start()
	defer bus.Stop()

	sub := bus.Subscribe()
	bus.Publish(Event{Topic: TopicModified, Path: "a"})
	bus.Publish(Event{Topic: TopicModified, Path: "b"})
	bus.Publish(Event{Topic: TopicModified, Path: "c"})

	require.Equal(t, int64(1), sub.DropCount())

	first := <-sub.Events()
	second := <-sub.Events()
	assert.Equal(t, "b", first.Path)
	assert.Equal(t, "c", second.Path)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := New(DefaultConfig(), nil)
	bus.Start()
	defer bus.Stop()

	sub := bus.Subscribe()
	bus.Unsubscribe(sub.ID)

	_, ok := <-sub.Events()
	assert.False(t, ok)
}

func TestPerTopicOrderingPreserved(t *testing.T) {
	bus := New(DefaultConfig(), nil)
	bus.Start()
	defer bus.Stop()

	sub := bus.Subscribe(TopicModified)
	for i := 0; i < 5; i++ {
		bus.Publish(Event{Topic: TopicModified, Path: string(rune('a' + i))})
	}

	for i := 0; i < 5; i++ {
		evt := <-sub.Events()
		assert.Equal(t, string(rune('a'+i)), evt.Path)
	}
}
