// Package mirror serves the storage root over plain HTTP so browsers and
// phones can download shared files without the protocol client. Share
// URLs printed by the client point here.
package mirror

import (
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	appevents "github.com/rescp17/lanDrive/internal/app_events"
	"github.com/rescp17/lanDrive/pkg/sandbox"
)

// Mirror is a read-only static file server confined to the same sandbox
// as the protocol server. Request lines are forwarded into the same
// event feed as protocol activity.
type Mirror struct {
	box    *sandbox.Sandbox
	addr   string
	events chan<- appevents.Msg
	log    *slog.Logger

	listener net.Listener
	server   *http.Server
}

// New returns a Mirror for root, listening on addr once started.
func New(box *sandbox.Sandbox, addr string, events chan<- appevents.Msg) *Mirror {
	m := &Mirror{
		box:    box,
		addr:   addr,
		events: events,
		log:    slog.With("component", "mirror"),
	}
	m.server = &http.Server{Handler: m}
	return m
}

// Start binds the mirror port and serves in the background.
func (m *Mirror) Start() error {
	listener, err := net.Listen("tcp", m.addr)
	if err != nil {
		return fmt.Errorf("mirror: listen on %s: %w", m.addr, err)
	}
	m.listener = listener

	m.log.Info("mirror started", "addr", listener.Addr().String(), "root", m.box.Root())
	appevents.Emit(m.events, appevents.LogMsg{
		Level: appevents.LevelSuccess,
		Text:  fmt.Sprintf("Web share active at http://%s", listener.Addr().String()),
	})

	go func() {
		if err := m.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.log.Warn("mirror stopped", "error", err)
			appevents.Emit(m.events, appevents.LogMsg{
				Level: appevents.LevelWarning,
				Text:  fmt.Sprintf("Web share failed: %v", err),
			})
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (m *Mirror) Addr() net.Addr {
	if m.listener == nil {
		return nil
	}
	return m.listener.Addr()
}

// Shutdown closes the mirror listener.
func (m *Mirror) Shutdown() {
	if err := m.server.Close(); err != nil {
		m.log.Warn("close mirror failed", "error", err)
	}
}

// ServeHTTP serves one file or directory listing below the root. Paths
// resolve through the sandbox; escapes and misses both read as 404.
func (m *Mirror) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	appevents.Emit(m.events, appevents.LogMsg{
		Level: appevents.LevelClient,
		Text:  fmt.Sprintf("Mobile request: %s %s", r.Method, r.URL.Path),
	})

	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rel, err := url.PathUnescape(r.URL.Path)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	full, err := m.box.Resolve(rel)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	info, err := os.Stat(full)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	if info.IsDir() {
		m.serveIndex(w, full, rel)
		return
	}

	// Shared files often have no extension; sniff the content instead of
	// trusting the name.
	if mime, err := mimetype.DetectFile(full); err == nil {
		w.Header().Set("Content-Type", mime.String())
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}

	file, err := os.Open(full)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer func() {
		if err := file.Close(); err != nil {
			m.log.Warn("close served file failed", "error", err)
		}
	}()
	http.ServeContent(w, r, info.Name(), info.ModTime(), file)
}

// serveIndex renders a minimal link list so a phone can browse folders.
func (m *Mirror) serveIndex(w http.ResponseWriter, full, rel string) {
	children, err := os.ReadDir(full)
	if err != nil {
		http.Error(w, "cannot list directory", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	var b strings.Builder
	b.WriteString("<!doctype html><meta name=\"viewport\" content=\"width=device-width\"><ul>\n")
	base := strings.Trim(rel, "/")
	for _, child := range children {
		name := child.Name()
		href := "/" + name
		if base != "" {
			href = "/" + base + "/" + name
		}
		href = (&url.URL{Path: href}).EscapedPath()
		if child.IsDir() {
			name += "/"
		}
		fmt.Fprintf(&b, "<li><a href=%q>%s</a></li>\n", href, html.EscapeString(name))
	}
	b.WriteString("</ul>\n")
	if _, err := fmt.Fprint(w, b.String()); err != nil {
		m.log.Warn("write index failed", "error", err)
	}
}
