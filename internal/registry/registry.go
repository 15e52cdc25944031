// Package registry implements subscription.Registry on top of a transport.
//
// The registry keeps no table of its own. It reads the current table through
// a view function and records every change by dispatching reducer events, so
// the stream state stays the single source of truth. All methods must be
// called from the goroutine that owns that state.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rmacdonaldsmith/quotestream/internal/reducer"
	"github.com/rmacdonaldsmith/quotestream/pkg/subscription"
	"github.com/rmacdonaldsmith/quotestream/pkg/transport"
)

var (
	// ErrEmptyTopic is returned when a topic key is blank
	ErrEmptyTopic = errors.New("topic cannot be empty")
	// ErrNilTransport is returned when no transport is supplied
	ErrNilTransport = errors.New("transport cannot be nil")
)

// Config holds the collaborators of a Registry.
type Config struct {
	// Transport performs the subscribe and release side effects
	Transport transport.Transport

	// View returns the current subscription table
	View func() subscription.Table

	// Dispatch records a state change
	Dispatch func(reducer.Event)

	// DestinationPrefix is prepended to a topic key to form its destination
	DestinationPrefix string

	Logger *slog.Logger
	Now    func() time.Time
}

// SetDefaults fills in optional fields.
func (c *Config) SetDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Validate checks the required fields.
func (c *Config) Validate() error {
	if c.Transport == nil {
		return ErrNilTransport
	}
	if c.View == nil {
		return errors.New("view cannot be nil")
	}
	if c.Dispatch == nil {
		return errors.New("dispatch cannot be nil")
	}
	return nil
}

// Registry tracks topic subscriptions for one transport.
type Registry struct {
	cfg    Config
	logger *slog.Logger
}

var _ subscription.Registry = (*Registry)(nil)

// New creates a Registry.
func New(cfg Config) (*Registry, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid registry config: %w", err)
	}
	return &Registry{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "registry"),
	}, nil
}

// Destination maps a topic key to its broker destination.
func (r *Registry) Destination(topic string) string {
	return r.cfg.DestinationPrefix + topic
}

// Subscribe attaches topic unless a subscription for it already exists.
func (r *Registry) Subscribe(topic string) (bool, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return false, ErrEmptyTopic
	}
	if _, ok := r.cfg.View().Get(topic); ok {
		return false, nil
	}

	dest := r.Destination(topic)
	handle, err := r.cfg.Transport.Subscribe(dest)
	if err != nil {
		return false, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	r.cfg.Dispatch(reducer.Subscribed{Subscription: subscription.Subscription{
		Topic:        topic,
		Destination:  dest,
		Handle:       handle,
		State:        subscription.Active,
		SubscribedAt: r.cfg.Now(),
	}})
	r.logger.Debug("subscribed", "topic", topic, "destination", dest, "handle", handle)
	return true, nil
}

// SubscribeAll subscribes each topic in order. Blank and repeated keys are
// skipped. A failure does not stop the remaining topics; all failures are
// returned joined.
func (r *Registry) SubscribeAll(topics []string) error {
	var errs []error
	for _, topic := range Topics(topics) {
		if _, err := r.Subscribe(topic); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Unsubscribe releases the handle of topic exactly once and removes the
// entry. It returns false when there is no entry or it is already being
// released.
func (r *Registry) Unsubscribe(topic string) bool {
	topic = strings.TrimSpace(topic)
	sub, ok := r.cfg.View().Get(topic)
	if !ok || sub.State == subscription.Releasing {
		return false
	}
	r.release(sub)
	return true
}

// ReleaseAll releases and removes every entry. Release failures are logged
// and do not keep entries alive.
func (r *Registry) ReleaseAll() {
	for _, sub := range r.cfg.View().List() {
		if sub.State == subscription.Releasing {
			continue
		}
		r.release(sub)
	}
}

func (r *Registry) release(sub subscription.Subscription) {
	r.cfg.Dispatch(reducer.Releasing{Topic: sub.Topic})
	if err := r.cfg.Transport.Unsubscribe(sub.Handle); err != nil {
		r.logger.Debug("release failed", "topic", sub.Topic, "handle", sub.Handle, "error", err)
	}
	r.cfg.Dispatch(reducer.Unsubscribed{Topic: sub.Topic})
	r.logger.Debug("unsubscribed", "topic", sub.Topic, "handle", sub.Handle)
}

// Topics returns the non-blank keys of topics, trimmed, in first-seen order
// and without repeats.
func Topics(topics []string) []string {
	seen := make(map[string]struct{}, len(topics))
	out := make([]string, 0, len(topics))
	for _, topic := range topics {
		topic = strings.TrimSpace(topic)
		if topic == "" {
			continue
		}
		if _, ok := seen[topic]; ok {
			continue
		}
		seen[topic] = struct{}{}
		out = append(out, topic)
	}
	return out
}
