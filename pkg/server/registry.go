package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"

	appevents "github.com/rescp17/lanDrive/internal/app_events"
	"github.com/rescp17/lanDrive/pkg/protocol"
	"github.com/rescp17/lanDrive/pkg/sandbox"
)

// Registry accepts connections and tracks the live sessions. The session
// set is mutated concurrently (add on accept, remove on disconnect,
// iterate on shutdown), so every access goes through the mutex.
type Registry struct {
	cfg    Config
	box    *sandbox.Sandbox
	events chan<- appevents.Msg
	log    *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	sessions map[string]*Session
	closed   bool

	wg sync.WaitGroup
}

// NewRegistry validates cfg, prepares the storage root and returns a
// Registry ready to Start. Events may be nil when no interface layer is
// attached.
func NewRegistry(cfg Config, events chan<- appevents.Msg) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("server: invalid config: %w", err)
	}
	box, err := sandbox.New(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	return &Registry{
		cfg:      cfg,
		box:      box,
		events:   events,
		log:      slog.With("component", "registry"),
		sessions: make(map[string]*Session),
	}, nil
}

// Root returns the canonical storage root, for collaborators such as the
// HTTP mirror.
func (r *Registry) Root() string {
	return r.box.Root()
}

// Sandbox returns the path sandbox the registry serves, so collaborators
// resolve paths under the exact same confinement.
func (r *Registry) Sandbox() *sandbox.Sandbox {
	return r.box
}

// Addr returns the bound listener address, or nil before Start.
func (r *Registry) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener == nil {
		return nil
	}
	return r.listener.Addr()
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Start binds the protocol port and runs the accept loop in the
// background.
func (r *Registry) Start() error {
	listener, err := net.Listen("tcp", r.cfg.Addr)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", r.cfg.Addr, err)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		if cerr := listener.Close(); cerr != nil {
			r.log.Warn("close listener after shutdown failed", "error", cerr)
		}
		return errors.New("server: registry already shut down")
	}
	r.listener = listener
	r.mu.Unlock()

	r.log.Info("server started", "addr", listener.Addr().String(), "root", r.box.Root())
	appevents.Emit(r.events, appevents.LogMsg{
		Level: appevents.LevelSuccess,
		Text:  fmt.Sprintf("Server started on %s", listener.Addr().String()),
	})

	r.wg.Add(1)
	go r.acceptLoop(listener)
	return nil
}

func (r *Registry) acceptLoop(listener net.Listener) {
	defer r.wg.Done()
	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			r.log.Warn("accept failed", "error", err)
			appevents.Emit(r.events, appevents.LogMsg{Level: appevents.LevelError, Text: "Accept error"})
			return
		}
		r.register(conn)
	}
}

// register adds the connection to the live set and spawns its session.
func (r *Registry) register(conn net.Conn) {
	session := &Session{
		id:          uuid.NewString(),
		conn:        conn,
		reader:      protocol.NewFrameReader(conn),
		box:         r.box,
		remote:      conn.RemoteAddr().String(),
		idleTimeout: r.cfg.IdleTimeout,
		events:      r.events,
		onClose:     r.unregister,
	}
	session.log = slog.With("component", "session", "id", session.id, "remote", session.remote)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		if err := conn.Close(); err != nil {
			r.log.Warn("close connection after shutdown failed", "error", err)
		}
		return
	}
	r.sessions[session.id] = session
	count := len(r.sessions)
	r.mu.Unlock()

	session.log.Info("client connected")
	appevents.Emit(r.events, appevents.LogMsg{
		Level: appevents.LevelClient,
		Text:  fmt.Sprintf("Client connected: %s", session.remote),
	})
	appevents.Emit(r.events, appevents.ClientCountMsg{Count: count})

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		session.run()
	}()
}

// unregister removes a session from the live set. Called on every session
// exit path.
func (r *Registry) unregister(s *Session) {
	r.mu.Lock()
	if _, ok := r.sessions[s.id]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, s.id)
	count := len(r.sessions)
	r.mu.Unlock()

	appevents.Emit(r.events, appevents.ClientCountMsg{Count: count})
}

// Shutdown stops accepting, force-closes every live connection to unblock
// sessions stuck in reads, and waits for them to drain before releasing
// the port for good.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	listener := r.listener
	open := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		open = append(open, s)
	}
	r.mu.Unlock()

	if listener != nil {
		if err := listener.Close(); err != nil {
			r.log.Warn("close listener failed", "error", err)
		}
	}
	for _, s := range open {
		if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			r.log.Warn("force-close session failed", "id", s.id, "error", err)
		}
	}

	r.wg.Wait()
	r.log.Info("server stopped")
	appevents.Emit(r.events, appevents.LogMsg{Level: appevents.LevelWarning, Text: "Server stopped"})
	appevents.Emit(r.events, appevents.ClientCountMsg{Count: 0})
}
