package controller

import "github.com/rmacdonaldsmith/quotestream/internal/metrics"

// sessionListener forwards transport callbacks of one activation to the
// controller loop.
type sessionListener struct {
	c       *Controller
	session uint64
}

func (l *sessionListener) OnConnect() {
	l.run(l.c.onConnect)
}

func (l *sessionListener) OnDisconnect(err error) {
	l.run(func() { l.c.onDisconnect(err) })
}

func (l *sessionListener) OnError(detail string) {
	l.run(func() { l.c.onError(detail) })
}

func (l *sessionListener) OnMessage(destination string, body []byte) {
	l.run(func() { l.c.onMessage(destination, body) })
}

func (l *sessionListener) run(fn func()) {
	l.c.enqueue(func() {
		if l.session != l.c.session {
			l.c.metrics.RecordMessageDropped(metrics.DropStale)
			return
		}
		fn()
	})
}
