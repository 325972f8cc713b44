package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wilsonge/no8s-operator/internal/model"
)

func sampleEvent(name string) ResourceEvent {
	return FromResource(EventCreated, &model.Resource{
		ID:                  1,
		Name:                name,
		ResourceTypeName:    "widget",
		ResourceTypeVersion: "v1",
		Status:              model.StatusPending,
	}, time.Unix(0, 0).UTC())
}

func TestSubscribePublishDeliversToMatchingSubscriber(t *testing.T) {
	bus := New()
	_, ch := bus.Subscribe(nil)

	bus.Publish(sampleEvent("res-a"))

	select {
	case ev := <-ch:
		assert.Equal(t, "res-a", ev.ResourceName)
	case <-time.After(time.Second):
		t.Fatal("expected event delivery")
	}
}

func TestFilterExcludesNonMatchingEvents(t *testing.T) {
	bus := New()
	_, ch := bus.Subscribe(func(e ResourceEvent) bool {
		return e.ResourceTypeName == "gizmo"
	})

	bus.Publish(sampleEvent("res-a"))

	select {
	case <-ch:
		t.Fatal("did not expect event delivery for non-matching filter")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishDropsWhenQueueFull(t *testing.T) {
	bus := New()
	_, ch := bus.SubscribeWithQueueSize(nil, 1)

	bus.Publish(sampleEvent("first"))
	bus.Publish(sampleEvent("second")) // dropped, queue capacity 1

	ev := <-ch
	assert.Equal(t, "first", ev.ResourceName)

	select {
	case <-ch:
		t.Fatal("second event should have been dropped, not delivered")
	default:
	}
}

func TestUnsubscribeClosesChannelAndStopsDelivery(t *testing.T) {
	bus := New()
	id, ch := bus.Subscribe(nil)
	bus.Unsubscribe(id)

	_, open := <-ch
	assert.False(t, open)

	assert.Equal(t, 0, bus.SubscriberCount())

	// Publishing after unsubscribe must not panic.
	bus.Publish(sampleEvent("after-unsub"))
}

func TestUnsubscribeUnknownIDIsNoOp(t *testing.T) {
	bus := New()
	assert.NotPanics(t, func() { bus.Unsubscribe("does-not-exist") })
}

func TestSubscriberCount(t *testing.T) {
	bus := New()
	id1, _ := bus.Subscribe(nil)
	_, _ = bus.Subscribe(nil)
	assert.Equal(t, 2, bus.SubscriberCount())
	bus.Unsubscribe(id1)
	assert.Equal(t, 1, bus.SubscriberCount())
}

func TestToSSEFormat(t *testing.T) {
	ev := sampleEvent("res-a")
	sse, err := ev.ToSSE()
	require.NoError(t, err)
	assert.Contains(t, sse, "event: CREATED\n")
	assert.Contains(t, sse, `"resource_name":"res-a"`)
	assert.True(t, len(sse) > 0 && sse[len(sse)-2:] == "\n\n")
}
