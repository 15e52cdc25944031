package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/quotestream/internal/reducer"
	"github.com/rmacdonaldsmith/quotestream/internal/transporttest"
	"github.com/rmacdonaldsmith/quotestream/pkg/subscription"
	"github.com/rmacdonaldsmith/quotestream/pkg/transport"
)

type harness struct {
	state  reducer.State
	events []reducer.Event
	fake   *transporttest.Fake
	reg    *Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{state: reducer.New(), fake: transporttest.NewFake()}
	require.NoError(t, h.fake.Activate(context.Background(), nil))

	reg, err := New(Config{
		Transport:         h.fake,
		View:              func() subscription.Table { return h.state.Subscriptions },
		Dispatch:          func(e reducer.Event) { h.events = append(h.events, e); h.state = reducer.Apply(h.state, e) },
		DestinationPrefix: "/topic/",
		Now:               func() time.Time { return time.Unix(1700000000, 0) },
	})
	require.NoError(t, err)
	h.reg = reg
	return h
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrNilTransport)

	_, err = New(Config{Transport: transporttest.NewFake()})
	assert.Error(t, err)
}

func TestSubscribe(t *testing.T) {
	t.Run("creates_active_entry", func(t *testing.T) {
		h := newHarness(t)

		created, err := h.reg.Subscribe("SPLK")
		require.NoError(t, err)
		assert.True(t, created)

		sub, ok := h.state.Subscriptions.Get("SPLK")
		require.True(t, ok)
		assert.Equal(t, "/topic/SPLK", sub.Destination)
		assert.Equal(t, subscription.Active, sub.State)
		assert.Equal(t, transport.Handle("sub-1"), sub.Handle)
		assert.Equal(t, time.Unix(1700000000, 0), sub.SubscribedAt)
	})

	t.Run("second_call_is_idempotent", func(t *testing.T) {
		h := newHarness(t)

		_, err := h.reg.Subscribe("SPLK")
		require.NoError(t, err)
		once := h.state.Subscriptions.List()

		created, err := h.reg.Subscribe("SPLK")
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, once, h.state.Subscriptions.List())
		assert.Equal(t, []string{"/topic/SPLK"}, h.fake.Subscribed())
	})

	t.Run("blank_topic", func(t *testing.T) {
		h := newHarness(t)

		_, err := h.reg.Subscribe("  ")
		assert.ErrorIs(t, err, ErrEmptyTopic)
	})

	t.Run("transport_failure_leaves_no_entry", func(t *testing.T) {
		h := newHarness(t)
		boom := errors.New("boom")
		h.fake.SubscribeErr["/topic/SPLK"] = boom

		created, err := h.reg.Subscribe("SPLK")
		assert.ErrorIs(t, err, boom)
		assert.False(t, created)
		assert.Zero(t, h.state.Subscriptions.Len())
	})
}

func TestSubscribeAll(t *testing.T) {
	t.Run("skips_blanks_and_repeats", func(t *testing.T) {
		h := newHarness(t)

		require.NoError(t, h.reg.SubscribeAll([]string{"SPLK", "", "CSCO", "SPLK", " CSCO "}))

		assert.Equal(t, []string{"/topic/SPLK", "/topic/CSCO"}, h.fake.Subscribed())
		assert.Equal(t, []string{"CSCO", "SPLK"}, h.state.Subscriptions.Topics())
	})

	t.Run("continues_after_failure", func(t *testing.T) {
		h := newHarness(t)
		h.fake.SubscribeErr["/topic/BAD"] = errors.New("rejected")

		err := h.reg.SubscribeAll([]string{"SPLK", "BAD", "CSCO"})

		assert.Error(t, err)
		assert.Equal(t, []string{"CSCO", "SPLK"}, h.state.Subscriptions.Topics())
	})
}

func TestUnsubscribe(t *testing.T) {
	t.Run("unknown_topic_is_safe", func(t *testing.T) {
		h := newHarness(t)
		before := h.state

		assert.False(t, h.reg.Unsubscribe("ZZZ"))
		assert.Equal(t, before, h.state)
		assert.Empty(t, h.fake.Released())
		assert.Empty(t, h.events)
	})

	t.Run("releases_handle_once_then_removes", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.reg.Subscribe("SPLK")
		require.NoError(t, err)
		h.events = nil

		assert.True(t, h.reg.Unsubscribe("SPLK"))
		assert.False(t, h.reg.Unsubscribe("SPLK"))

		assert.Equal(t, []transport.Handle{"sub-1"}, h.fake.Released())
		assert.Zero(t, h.state.Subscriptions.Len())
		assert.Equal(t, []reducer.Event{
			reducer.Releasing{Topic: "SPLK"},
			reducer.Unsubscribed{Topic: "SPLK"},
		}, h.events)
	})

	t.Run("release_error_still_removes_entry", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.reg.Subscribe("SPLK")
		require.NoError(t, err)
		h.fake.UnsubscribeErr = transport.ErrNotConnected

		assert.True(t, h.reg.Unsubscribe("SPLK"))
		assert.Zero(t, h.state.Subscriptions.Len())
	})

	t.Run("releasing_entry_is_not_released_again", func(t *testing.T) {
		h := newHarness(t)
		h.state = reducer.Apply(h.state, reducer.Subscribed{Subscription: subscription.Subscription{Topic: "SPLK", Handle: "sub-9"}})
		h.state = reducer.Apply(h.state, reducer.Releasing{Topic: "SPLK"})

		assert.False(t, h.reg.Unsubscribe("SPLK"))
		assert.Empty(t, h.fake.Released())
	})
}

func TestReleaseAll(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.reg.SubscribeAll([]string{"SPLK", "CSCO"}))

	h.reg.ReleaseAll()

	assert.Zero(t, h.state.Subscriptions.Len())
	assert.ElementsMatch(t, []transport.Handle{"sub-1", "sub-2"}, h.fake.Released())
	assert.Zero(t, h.fake.Live())
}

func TestTopics(t *testing.T) {
	assert.Equal(t, []string{"A", "B"}, Topics([]string{" A", "B", "", "A"}))
	assert.Empty(t, Topics(nil))
}
