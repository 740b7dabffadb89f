package roomchat

import "sync"

type notificationKind int

const (
	notifyMessage notificationKind = iota
	notifyConfirmed
	notifyRejected
	notifyLogReset
	notifyState
	notifyError
)

type notification struct {
	kind  notificationKind
	msg   Message
	room  RoomID
	state StateEvent
	err   error
}

// dispatcher delivers manager notifications to registered callbacks.
// Notifications are delivered in the order they were produced, on a single
// goroutine separate from the manager's event loop, so callbacks may call
// back into the manager.
type dispatcher struct {
	mu             sync.Mutex
	onMessage      func(Message)
	onConfirmed    func(Message)
	onRejected     func(Message)
	onLogReset     func(RoomID)
	onStateChanged func(StateEvent)
	onError        func(error)

	queue  []notification
	wake   chan struct{}
	closed bool
	done   chan struct{}
}

func newDispatcher() *dispatcher {
	d := &dispatcher{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) setOnMessage(fn func(Message)) {
	d.mu.Lock()
	d.onMessage = fn
	d.mu.Unlock()
}

func (d *dispatcher) setOnConfirmed(fn func(Message)) {
	d.mu.Lock()
	d.onConfirmed = fn
	d.mu.Unlock()
}

func (d *dispatcher) setOnRejected(fn func(Message)) {
	d.mu.Lock()
	d.onRejected = fn
	d.mu.Unlock()
}

func (d *dispatcher) setOnLogReset(fn func(RoomID)) {
	d.mu.Lock()
	d.onLogReset = fn
	d.mu.Unlock()
}

func (d *dispatcher) setOnStateChanged(fn func(StateEvent)) {
	d.mu.Lock()
	d.onStateChanged = fn
	d.mu.Unlock()
}

func (d *dispatcher) setOnError(fn func(error)) {
	d.mu.Lock()
	d.onError = fn
	d.mu.Unlock()
}

// enqueue never blocks.
func (d *dispatcher) enqueue(n notification) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, n)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// close stops the dispatcher after pending notifications are delivered.
func (d *dispatcher) close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()
	close(d.done)
}

func (d *dispatcher) run() {
	for {
		select {
		case <-d.wake:
			d.drain()
		case <-d.done:
			d.drain()
			return
		}
	}
}

func (d *dispatcher) drain() {
	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		n := d.queue[0]
		d.queue[0] = notification{}
		d.queue = d.queue[1:]
		d.mu.Unlock()

		d.deliver(n)
	}
}

func (d *dispatcher) deliver(n notification) {
	d.mu.Lock()
	onMessage, onConfirmed, onRejected := d.onMessage, d.onConfirmed, d.onRejected
	onLogReset, onStateChanged, onError := d.onLogReset, d.onStateChanged, d.onError
	d.mu.Unlock()

	switch n.kind {
	case notifyMessage:
		if onMessage != nil {
			onMessage(n.msg)
		}
	case notifyConfirmed:
		if onConfirmed != nil {
			onConfirmed(n.msg)
		}
	case notifyRejected:
		if onRejected != nil {
			onRejected(n.msg)
		}
	case notifyLogReset:
		if onLogReset != nil {
			onLogReset(n.room)
		}
	case notifyState:
		if onStateChanged != nil {
			onStateChanged(n.state)
		}
	case notifyError:
		if onError != nil && n.err != nil {
			onError(n.err)
		}
	}
}
