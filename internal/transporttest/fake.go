// Package transporttest provides an in-memory transport for tests.
package transporttest

import (
	"context"
	"fmt"
	"sync"

	"github.com/rmacdonaldsmith/quotestream/pkg/transport"
)

// Publication is one message sent through Publish.
type Publication struct {
	Destination string
	Body        []byte
}

// Fake is a transport.Transport that records every call and lets the test
// drive the listener callbacks by hand.
type Fake struct {
	mu sync.Mutex

	// ActivateErr is returned by the next calls to Activate when set
	ActivateErr error
	// SubscribeErr maps a destination to the error Subscribe returns for it
	SubscribeErr map[string]error
	// UnsubscribeErr is returned by every Unsubscribe when set
	UnsubscribeErr error

	listener      transport.Listener
	active        bool
	activations   int
	deactivations int
	nextID        int
	live          map[transport.Handle]string
	subscribed    []string
	released      []transport.Handle
	published     []Publication
}

var _ transport.Transport = (*Fake)(nil)

// NewFake returns an inactive fake.
func NewFake() *Fake {
	return &Fake{
		SubscribeErr: make(map[string]error),
		live:         make(map[transport.Handle]string),
	}
}

// Activate records the listener. It does not report a connection; call
// Connect for that.
func (f *Fake) Activate(ctx context.Context, l transport.Listener) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.activations++
	if f.ActivateErr != nil {
		return f.ActivateErr
	}
	if f.active {
		return transport.ErrAlreadyActive
	}
	f.listener = l
	f.active = true
	return nil
}

// Deactivate drops the session and every live handle.
func (f *Fake) Deactivate(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.deactivations++
	f.active = false
	f.live = make(map[transport.Handle]string)
	return nil
}

// Subscribe returns a new handle for destination.
func (f *Fake) Subscribe(destination string) (transport.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.SubscribeErr[destination]; err != nil {
		return "", err
	}
	if !f.active {
		return "", transport.ErrNotConnected
	}
	f.nextID++
	h := transport.Handle(fmt.Sprintf("sub-%d", f.nextID))
	f.live[h] = destination
	f.subscribed = append(f.subscribed, destination)
	return h, nil
}

// Unsubscribe records the release of h. Unknown handles are accepted.
func (f *Fake) Unsubscribe(h transport.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.released = append(f.released, h)
	delete(f.live, h)
	return f.UnsubscribeErr
}

// Publish records the message.
func (f *Fake) Publish(destination string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.active {
		return transport.ErrNotConnected
	}
	f.published = append(f.published, Publication{Destination: destination, Body: append([]byte(nil), body...)})
	return nil
}

// SetActivateErr sets the error returned by Activate while the fake is in
// use by another goroutine.
func (f *Fake) SetActivateErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ActivateErr = err
}

// Listener returns the listener of the most recent activation.
func (f *Fake) Listener() transport.Listener {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listener
}

// Connect reports a successful connection to the current listener.
func (f *Fake) Connect() {
	if l := f.Listener(); l != nil {
		l.OnConnect()
	}
}

// Drop reports a lost connection and forgets all live handles.
func (f *Fake) Drop(err error) {
	f.mu.Lock()
	l := f.listener
	f.active = false
	f.live = make(map[transport.Handle]string)
	f.mu.Unlock()

	if l != nil {
		l.OnDisconnect(err)
	}
}

// Fail reports a protocol error frame.
func (f *Fake) Fail(detail string) {
	if l := f.Listener(); l != nil {
		l.OnError(detail)
	}
}

// Deliver hands body to the listener as if it arrived on destination.
func (f *Fake) Deliver(destination string, body []byte) {
	if l := f.Listener(); l != nil {
		l.OnMessage(destination, body)
	}
}

// Active reports whether the fake has an open session.
func (f *Fake) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

// Activations returns how many times Activate was called.
func (f *Fake) Activations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.activations
}

// Deactivations returns how many times Deactivate was called.
func (f *Fake) Deactivations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deactivations
}

// Subscribed returns the destinations subscribed so far, in call order.
func (f *Fake) Subscribed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.subscribed...)
}

// Released returns the handles released so far, in call order.
func (f *Fake) Released() []transport.Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transport.Handle(nil), f.released...)
}

// Live returns the number of handles currently subscribed.
func (f *Fake) Live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.live)
}

// Published returns every message published so far.
func (f *Fake) Published() []Publication {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Publication(nil), f.published...)
}
