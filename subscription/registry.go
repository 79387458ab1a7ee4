package subscription

import (
	"context"
	"fmt"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"taskboard/domain"
)

// EventTasksUpdated is the name of the outbound view frame.
const EventTasksUpdated = "tasksUpdated"

// Mode selects which connections receive a tasksUpdated frame.
type Mode string

const (
	// ModeScoped delivers an owner's view only to connections that asked for
	// that owner.
	ModeScoped Mode = "scoped"
	// ModeGlobal delivers every view to every connection.
	ModeGlobal Mode = "global"
)

func (m Mode) Valid() bool {
	return m == ModeScoped || m == ModeGlobal
}

// UpdateFrame is the wire form of a tasksUpdated event.
type UpdateFrame struct {
	Event string             `json:"event"`
	Owner string             `json:"owner"`
	Data  domain.GroupedView `json:"data"`
}

// EncodeUpdate renders upd as a tasksUpdated frame.
func EncodeUpdate(upd domain.ViewUpdate) ([]byte, error) {
	return sonic.Marshal(UpdateFrame{Event: EventTasksUpdated, Owner: upd.Owner, Data: upd.View})
}

// Conn is one live client connection. Frames queued with Registry.Enqueue or
// delivered by Publish are read from Send by the connection's writer.
type Conn struct {
	ID string

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu    sync.Mutex
	owner string
}

// Send yields frames to write to the client.
func (c *Conn) Send() <-chan []byte { return c.send }

// Done is closed when the connection was disconnected or dropped as a slow
// consumer.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Owner returns the owner this connection last requested, if any.
func (c *Conn) Owner() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.owner
}

func (c *Conn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Registry tracks live connections and the owner each one watches.
type Registry struct {
	mode   Mode
	buffer int
	logger *logrus.Logger

	mu    sync.RWMutex
	conns map[*Conn]struct{}
}

func NewRegistry(mode Mode, sendBuffer int, logger *logrus.Logger) *Registry {
	if !mode.Valid() {
		mode = ModeScoped
	}
	if sendBuffer <= 0 {
		sendBuffer = 1
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Registry{mode: mode, buffer: sendBuffer, logger: logger, conns: make(map[*Conn]struct{})}
}

// Connect registers a new connection with no owner scope.
func (r *Registry) Connect() *Conn {
	c := &Conn{
		ID:   uuid.NewString(),
		send: make(chan []byte, r.buffer),
		done: make(chan struct{}),
	}
	r.mu.Lock()
	r.conns[c] = struct{}{}
	n := len(r.conns)
	r.mu.Unlock()
	r.logger.WithFields(logrus.Fields{"conn": c.ID, "connections": n}).Debug("client connected")
	return c
}

// Disconnect removes c. Calling it more than once is safe.
func (r *Registry) Disconnect(c *Conn) {
	r.mu.Lock()
	_, ok := r.conns[c]
	delete(r.conns, c)
	n := len(r.conns)
	r.mu.Unlock()
	c.close()
	if ok {
		r.logger.WithFields(logrus.Fields{"conn": c.ID, "connections": n}).Debug("client disconnected")
	}
}

// Scope records owner as the board c is watching.
func (r *Registry) Scope(c *Conn, owner string) {
	c.mu.Lock()
	c.owner = owner
	c.mu.Unlock()
}

// Len reports the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Enqueue queues frame for c without blocking. A connection whose queue is
// full is dropped.
func (r *Registry) Enqueue(c *Conn, frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
	}
	r.logger.WithField("conn", c.ID).Warn("send queue full, dropping slow consumer")
	r.Disconnect(c)
	return false
}

// Publish implements domain.Publisher by delivering upd to local connections.
func (r *Registry) Publish(ctx context.Context, upd domain.ViewUpdate) error {
	frame, err := EncodeUpdate(upd)
	if err != nil {
		return fmt.Errorf("encode update: %w", err)
	}
	r.Deliver(upd.Owner, frame)
	return nil
}

// Deliver sends an encoded frame for owner to every matching connection and
// returns how many received it.
func (r *Registry) Deliver(owner string, frame []byte) int {
	r.mu.RLock()
	targets := make([]*Conn, 0, len(r.conns))
	for c := range r.conns {
		if r.mode == ModeGlobal || c.Owner() == owner {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()

	sent := 0
	for _, c := range targets {
		if r.Enqueue(c, frame) {
			sent++
		}
	}
	return sent
}
