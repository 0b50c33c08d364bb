package sdk

import "sync"

// dispatcher serializes listener callbacks onto a single goroutine.
//
// Embedders register listeners from UI threads; delivering every callback
// from one goroutine spares them re-entrancy and ordering surprises when
// network events and store changes fire close together.
type dispatcher struct {
	once    sync.Once
	stopped sync.Once
	q       chan func()
	done    chan struct{}
}

func newDispatcher(queueSize int) *dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	d := &dispatcher{
		q:    make(chan func(), queueSize),
		done: make(chan struct{}),
	}
	d.once.Do(func() {
		go func() {
			defer close(d.done)
			for fn := range d.q {
				if fn != nil {
					fn()
				}
			}
		}()
	})
	return d
}

// do enqueues fn for serialized execution. Dropped when the queue is full
// or the dispatcher is stopped; callbacks are best-effort notifications.
func (d *dispatcher) do(fn func()) {
	if d == nil || fn == nil {
		return
	}
	defer func() { recover() }() // send on closed queue after stop
	select {
	case d.q <- fn:
	default:
	}
}

// stop drains and terminates the callback goroutine.
func (d *dispatcher) stop() {
	d.stopped.Do(func() { close(d.q) })
	<-d.done
}
