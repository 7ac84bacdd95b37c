package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForNotify(t *testing.T, sub *Subscriber) {
	t.Helper()
	select {
	case <-sub.Notify():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscriber notification")
	}
}

func TestSubscribePublishDeliversPayload(t *testing.T) {
	b := New()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe("topic-a", Identity{UserID: "u1"})
	defer b.Unsubscribe(sub)

	b.Publish("topic-a", "hello")

	waitForNotify(t, sub)
	payload, ok := sub.Take()
	require.True(t, ok)
	assert.Equal(t, "hello", payload)
}

func TestSubscriberCoalescesMostRecentWins(t *testing.T) {
	sub := newSubscriber("topic-a", Identity{})
	sub.offer(1)
	sub.offer(2)
	sub.offer(3)

	payload, ok := sub.Take()
	require.True(t, ok)
	assert.Equal(t, 3, payload)

	_, ok = sub.Take()
	assert.False(t, ok)
}

func TestSubscriberOfferAfterCloseIsNoop(t *testing.T) {
	sub := newSubscriber("topic-a", Identity{})
	sub.close()
	sub.offer("ignored")

	_, ok := sub.Take()
	assert.False(t, ok)
}

func TestUnsubscribeStopsFurtherDelivery(t *testing.T) {
	b := New()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe("topic-a", Identity{})
	b.Unsubscribe(sub)

	b.Publish("topic-a", "after-unsubscribe")

	select {
	case _, ok := <-sub.Notify():
		assert.False(t, ok)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRegisterFilterNarrowsPayloadForNonAdmin(t *testing.T) {
	b := New()
	b.Start()
	defer b.Stop()

	b.RegisterFilter("topic-a", func(identity Identity, payload interface{}) interface{} {
		if identity.UserID == "owner" {
			return payload
		}
		return nil
	})

	ownerSub := b.Subscribe("topic-a", Identity{UserID: "owner"})
	defer b.Unsubscribe(ownerSub)
	otherSub := b.Subscribe("topic-a", Identity{UserID: "stranger"})
	defer b.Unsubscribe(otherSub)

	b.Publish("topic-a", "secret")

	waitForNotify(t, ownerSub)
	payload, ok := ownerSub.Take()
	require.True(t, ok)
	assert.Equal(t, "secret", payload)

	select {
	case <-otherSub.Notify():
		t.Fatal("non-owner subscriber should not have been notified")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestAdminBypassesFilter(t *testing.T) {
	b := New()
	b.Start()
	defer b.Stop()

	b.RegisterFilter("topic-a", func(identity Identity, payload interface{}) interface{} {
		return nil
	})

	adminSub := b.Subscribe("topic-a", Identity{UserID: "admin", IsAdmin: true})
	defer b.Unsubscribe(adminSub)

	b.Publish("topic-a", "visible-to-admin")

	waitForNotify(t, adminSub)
	payload, ok := adminSub.Take()
	require.True(t, ok)
	assert.Equal(t, "visible-to-admin", payload)
}
