package roomchat

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"
)

// Manager owns the realtime session for the room the user is viewing.
//
// All state lives on a single event loop goroutine. SetRoom, Send and the
// transport's open, message and close outcomes are events on that loop.
// Every SetRoom starts a new binding with a new generation; events carrying
// an older generation are stale and never touch current state.
type Manager struct {
	cfg        Config
	transport  Transport
	logger     Logger
	identity   string
	now        func() time.Time
	newID      func() string
	dispatcher *dispatcher

	events    chan event
	stopped   chan struct{}
	closeOnce sync.Once

	snapMu sync.RWMutex
	snap   snapshot

	// Owned by the event loop.
	gen     uint64
	room    RoomID
	state   ConnectionState
	current *binding
	log     []Message
}

type snapshot struct {
	room  RoomID
	state ConnectionState
	log   []Message
}

// binding is one connection attempt for one room selection.
type binding struct {
	gen     uint64
	room    RoomID
	state   ConnectionState
	conn    Conn
	ctx     context.Context
	cancel  context.CancelFunc
	writeCh chan []byte
}

type event any

type setRoomEvent struct {
	room RoomID
	done chan struct{}
}

type sendEvent struct {
	body string
	done chan struct{}
}

type stopEvent struct {
	done chan struct{}
}

type openedEvent struct {
	gen  uint64
	conn Conn
}

type dialFailedEvent struct {
	gen uint64
	err error
}

type inboundEvent struct {
	gen     uint64
	payload []byte
}

type closedEvent struct {
	gen uint64
	err error
}

// Option customizes a Manager.
type Option func(*Manager)

// WithTransport replaces the default WebSocket transport.
func WithTransport(t Transport) Option {
	return func(m *Manager) {
		if t != nil {
			m.transport = t
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithIdentity fixes the session identity instead of generating one.
func WithIdentity(id string) Option {
	return func(m *Manager) {
		if id != "" {
			m.identity = id
		}
	}
}

// WithClock sets the clock used for display timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager validates cfg and starts a manager with no room selected.
func NewManager(cfg Config, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		cfg:      cfg,
		logger:   noopLogger{},
		identity: NewIdentity(),
		now:      time.Now,
		newID:    newMessageID,
		events:   make(chan event, 64),
		stopped:  make(chan struct{}),
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.transport == nil {
		m.transport = NewWebSocketTransport(cfg)
	}
	m.dispatcher = newDispatcher()
	m.publish()
	go m.run()
	return m, nil
}

// Identity returns the session identity used as sender of every outbound message.
func (m *Manager) Identity() string { return m.identity }

// OnMessage registers callback for entries appended to the log.
func (m *Manager) OnMessage(fn func(Message)) { m.dispatcher.setOnMessage(fn) }

// OnConfirmed registers callback for local messages confirmed by a server echo.
func (m *Manager) OnConfirmed(fn func(Message)) { m.dispatcher.setOnConfirmed(fn) }

// OnRejected registers callback for payloads the server marked as errors.
// Rejected payloads are never added to the log.
func (m *Manager) OnRejected(fn func(Message)) { m.dispatcher.setOnRejected(fn) }

// OnLogReset registers callback for when the log is emptied.
func (m *Manager) OnLogReset(fn func(RoomID)) { m.dispatcher.setOnLogReset(fn) }

// OnStateChanged registers callback for binding state changes.
func (m *Manager) OnStateChanged(fn func(StateEvent)) { m.dispatcher.setOnStateChanged(fn) }

// OnError registers callback for errors.
func (m *Manager) OnError(fn func(error)) { m.dispatcher.setOnError(fn) }

// Room returns the most recently requested room, or "" when none.
func (m *Manager) Room() RoomID {
	m.snapMu.RLock()
	defer m.snapMu.RUnlock()
	return m.snap.room
}

// State returns the state of the current binding.
func (m *Manager) State() ConnectionState {
	m.snapMu.RLock()
	defer m.snapMu.RUnlock()
	return m.snap.state
}

// Messages returns a copy of the log in display order.
func (m *Manager) Messages() []Message {
	m.snapMu.RLock()
	defer m.snapMu.RUnlock()
	return slices.Clone(m.snap.log)
}

// SetRoom binds the session to room. Any live binding is closed and the log
// cleared, then a connection for room is opened in the background. An empty
// room only tears down. Selecting the current room again reconnects.
//
// SetRoom returns once the transition has started; the outcome is reported
// through OnStateChanged and OnError.
func (m *Manager) SetRoom(ctx context.Context, room RoomID) error {
	done := make(chan struct{})
	return m.post(ctx, setRoomEvent{room: room, done: done}, done)
}

// Leave tears down the current binding without joining another room.
func (m *Manager) Leave(ctx context.Context) error {
	return m.SetRoom(ctx, "")
}

// Send publishes body to the current room and appends it to the log.
// It does nothing unless the binding is open and body is not blank.
func (m *Manager) Send(ctx context.Context, body string) error {
	done := make(chan struct{})
	return m.post(ctx, sendEvent{body: body, done: done}, done)
}

// Close tears down the current binding and stops the manager.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		done := make(chan struct{})
		select {
		case m.events <- stopEvent{done: done}:
			<-done
		case <-m.stopped:
		}
		m.dispatcher.close()
	})
	return nil
}

func (m *Manager) post(ctx context.Context, ev event, done chan struct{}) error {
	select {
	case m.events <- ev:
	case <-m.stopped:
		return ErrManagerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-m.stopped:
		select {
		case <-done:
			return nil
		default:
			return ErrManagerClosed
		}
	}
}

// emit hands a transport outcome to the loop. It reports false once the
// manager has stopped.
func (m *Manager) emit(ev event) bool {
	select {
	case m.events <- ev:
		return true
	case <-m.stopped:
		return false
	}
}

func (m *Manager) run() {
	defer close(m.stopped)
	for {
		switch ev := (<-m.events).(type) {
		case setRoomEvent:
			m.handleSetRoom(ev.room)
			m.publish()
			close(ev.done)
		case sendEvent:
			m.handleSend(ev.body)
			m.publish()
			close(ev.done)
		case openedEvent:
			m.handleOpened(ev)
			m.publish()
		case dialFailedEvent:
			m.handleDialFailed(ev)
			m.publish()
		case inboundEvent:
			m.handleInbound(ev)
			m.publish()
		case closedEvent:
			m.handleClosed(ev)
			m.publish()
		case stopEvent:
			if m.current != nil {
				m.teardown(m.current, reasonClientClose, nil)
			}
			m.publish()
			close(ev.done)
			return
		}
	}
}

func (m *Manager) publish() {
	m.snapMu.Lock()
	m.snap = snapshot{room: m.room, state: m.state, log: m.log[:len(m.log):len(m.log)]}
	m.snapMu.Unlock()
}

func (m *Manager) handleSetRoom(room RoomID) {
	m.gen++
	if m.current != nil {
		reason := reasonRoomSwitch
		if room == "" {
			reason = reasonLeave
		}
		m.teardown(m.current, reason, nil)
	}
	m.resetLog(room)
	m.room = room
	if room == "" {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &binding{gen: m.gen, room: room, state: StateIdle, ctx: ctx, cancel: cancel}
	m.current = b
	m.transition(b, StateConnecting, nil)
	m.logger.Debug("binding connecting", map[string]any{"room": string(room), "gen": b.gen})

	go m.dial(b)
}

func (m *Manager) dial(b *binding) {
	conn, err := m.transport.Dial(b.ctx, m.cfg.URL)
	if err != nil {
		m.emit(dialFailedEvent{gen: b.gen, err: err})
		return
	}
	if !m.emit(openedEvent{gen: b.gen, conn: conn}) {
		_ = conn.Close(StatusNormalClosure, reasonClientClose)
	}
}

func (m *Manager) handleOpened(ev openedEvent) {
	b := m.current
	if b == nil || b.gen != ev.gen {
		m.logger.Info("closing stale binding", map[string]any{"gen": ev.gen})
		go func() { _ = ev.conn.Close(StatusNormalClosure, reasonStale) }()
		return
	}

	b.conn = ev.conn
	b.writeCh = make(chan []byte, m.cfg.SendBuffer)
	m.transition(b, StateOpen, nil)
	m.resetLog(b.room)

	join, err := Encode(Message{Kind: KindJoin, RoomID: b.room, Sender: m.identity})
	if err != nil {
		m.notifyError(err)
	} else {
		b.writeCh <- join
	}
	m.logger.Info("joined room", map[string]any{"room": string(b.room), "gen": b.gen})

	go m.readLoop(b)
	go m.writeLoop(b)
}

func (m *Manager) handleDialFailed(ev dialFailedEvent) {
	b := m.current
	if b == nil || b.gen != ev.gen {
		return
	}
	err := roomError(classifyConnError(ev.err), b.room, "failed to open connection", ev.err)
	m.logger.Warn("connection failed", map[string]any{"room": string(b.room), "error": ev.err.Error()})
	b.cancel()
	m.current = nil
	m.transition(b, StateClosed, err)
	m.notifyError(err)
}

func (m *Manager) handleInbound(ev inboundEvent) {
	b := m.current
	if b == nil || b.gen != ev.gen || b.state != StateOpen {
		return
	}
	msg, result := normalizeInbound(ev.payload, b.room, m.now())
	switch result {
	case inboundRejected:
		m.logger.Info("server rejected message", map[string]any{"room": string(b.room), "kind": string(msg.Kind)})
		m.dispatcher.enqueue(notification{kind: notifyRejected, msg: msg})
		return
	case inboundForeign:
		m.logger.Debug("dropping message for another room", map[string]any{"room": string(msg.RoomID)})
		return
	case inboundFallback:
		m.logger.Warn("undecodable payload", map[string]any{"room": string(b.room), "size": len(ev.payload)})
	case inboundAccepted:
		if m.cfg.ReconcileEcho && m.confirmLocal(msg) {
			return
		}
	}
	m.appendLog(msg)
}

// confirmLocal marks the local entry echoed by msg as confirmed.
func (m *Manager) confirmLocal(msg Message) bool {
	if msg.ID == "" {
		return false
	}
	for i := len(m.log) - 1; i >= 0; i-- {
		e := m.log[i]
		if e.Origin != OriginLocal || e.ID != msg.ID || e.Sender != msg.Sender {
			continue
		}
		if e.Confirmed {
			return false
		}
		// The published snapshot shares the backing array.
		m.log = slices.Clone(m.log)
		m.log[i].Confirmed = true
		m.dispatcher.enqueue(notification{kind: notifyConfirmed, msg: m.log[i]})
		return true
	}
	return false
}

func (m *Manager) handleClosed(ev closedEvent) {
	b := m.current
	if b == nil || b.gen != ev.gen {
		return
	}
	var err error
	if !isExpectedDisconnect(b.ctx, ev.err) {
		err = roomError(ErrorDisconnected, b.room, "connection lost", ev.err)
	}
	if err != nil {
		m.logger.Warn("binding lost", map[string]any{"room": string(b.room), "error": err.Error()})
	} else {
		m.logger.Info("binding closed by peer", map[string]any{"room": string(b.room), "gen": b.gen})
	}
	m.teardown(b, reasonClientClose, err)
	if err != nil {
		m.notifyError(err)
	}
}

func (m *Manager) handleSend(body string) {
	b := m.current
	if b == nil || b.state != StateOpen {
		return
	}
	text := strings.TrimSpace(body)
	if text == "" {
		return
	}

	msg := Message{
		ID:        m.newID(),
		Kind:      KindTalk,
		RoomID:    b.room,
		Sender:    m.identity,
		Body:      text,
		Timestamp: m.now().UTC().Format(TimestampLayout),
		Origin:    OriginLocal,
	}
	payload, err := Encode(msg)
	if err != nil {
		m.notifyError(err)
		return
	}
	select {
	case b.writeCh <- payload:
	default:
		m.logger.Warn("send buffer full", map[string]any{"room": string(b.room)})
		m.notifyError(roomError(ErrorConnection, b.room, "send buffer full", nil))
		return
	}
	m.appendLog(msg)
}

// teardown ends b: the transport, if any, is asked to close with a normal
// closure and the binding moves to Closed. cause is attached to the final
// state change.
func (m *Manager) teardown(b *binding, reason string, cause error) {
	if m.current == b {
		m.current = nil
	}
	if b.conn == nil {
		b.cancel()
		m.transition(b, StateClosed, cause)
		return
	}
	m.transition(b, StateClosing, nil)
	conn, cancel := b.conn, b.cancel
	go func() {
		_ = conn.Close(StatusNormalClosure, reason)
		cancel()
	}()
	m.transition(b, StateClosed, cause)
	m.logger.Debug("binding closed", map[string]any{"room": string(b.room), "gen": b.gen, "reason": reason})
}

func (m *Manager) transition(b *binding, next ConnectionState, err error) {
	if !b.state.canTransition(next) {
		return
	}
	old := b.state
	b.state = next
	m.state = next
	m.dispatcher.enqueue(notification{
		kind:  notifyState,
		state: StateEvent{Room: b.room, OldState: old, NewState: next, Error: err},
	})
}

func (m *Manager) resetLog(room RoomID) {
	m.log = nil
	m.dispatcher.enqueue(notification{kind: notifyLogReset, room: room})
}

func (m *Manager) appendLog(msg Message) {
	m.log = append(m.log, msg)
	m.dispatcher.enqueue(notification{kind: notifyMessage, msg: msg})
}

func (m *Manager) notifyError(err error) {
	m.dispatcher.enqueue(notification{kind: notifyError, err: err})
}

func (m *Manager) readLoop(b *binding) {
	for {
		payload, err := b.conn.Read(b.ctx)
		if err != nil {
			if b.ctx.Err() == nil {
				m.emit(closedEvent{gen: b.gen, err: err})
			}
			return
		}
		if !m.emit(inboundEvent{gen: b.gen, payload: payload}) {
			return
		}
	}
}

func (m *Manager) writeLoop(b *binding) {
	for {
		select {
		case payload := <-b.writeCh:
			if err := b.conn.Write(b.ctx, payload); err != nil {
				if b.ctx.Err() == nil {
					m.emit(closedEvent{gen: b.gen, err: err})
				}
				return
			}
		case <-b.ctx.Done():
			return
		}
	}
}
