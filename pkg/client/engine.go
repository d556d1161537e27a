// Package client implements the network engine behind the lanDrive user
// interface: one outbound connection, a background listener surfacing
// asynchronous server responses as events, and synchronous upload and
// download calls that temporarily take exclusive ownership of the socket.
package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	appevents "github.com/rescp17/lanDrive/internal/app_events"
	"github.com/rescp17/lanDrive/pkg/concurrency"
	"github.com/rescp17/lanDrive/pkg/protocol"
)

// ErrNotConnected is returned by operations that need a live connection.
var ErrNotConnected = errors.New("client: not connected")

// Engine owns the single connection to a server. The background listener
// and at most one foreground transfer compete for the socket; ownership
// is arbitrated by a single-slot guard, so the two byte streams can never
// corrupt each other.
type Engine struct {
	cfg    Config
	guard  *concurrency.Guard
	events chan appevents.Msg
	log    *slog.Logger

	mu        sync.Mutex
	conn      net.Conn
	reader    *protocol.FrameReader
	connected bool

	listenerWG sync.WaitGroup
}

// NewEngine returns a disconnected engine. Events are delivered on the
// channel returned by Events.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("client: invalid config: %w", err)
	}
	return &Engine{
		cfg:    cfg,
		guard:  concurrency.NewGuard(),
		events: make(chan appevents.Msg, cfg.EventBufferSize),
		log:    slog.With("component", "engine"),
	}, nil
}

// Events returns the channel the engine reports on: connection changes,
// listings, log lines, progress and errors.
func (e *Engine) Events() <-chan appevents.Msg {
	return e.events
}

// Connected reports whether the engine currently holds a live connection.
func (e *Engine) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connected
}

// Connect dials addr (host or host:port) and starts the background
// listener. A failed attempt raises an error event and retains nothing;
// the caller supplies a fresh address to retry. On success the engine
// immediately requests the root listing.
func (e *Engine) Connect(addr string) error {
	e.mu.Lock()
	if e.connected {
		e.mu.Unlock()
		return errors.New("client: already connected")
	}
	e.mu.Unlock()

	if !strings.Contains(addr, ":") {
		addr = fmt.Sprintf("%s:%d", addr, e.cfg.Port)
	}
	conn, err := net.DialTimeout("tcp", addr, e.cfg.ConnectTimeout)
	if err != nil {
		err = fmt.Errorf("connection failed: %w", err)
		appevents.Emit(e.events, appevents.ErrorMsg{Err: err})
		return err
	}

	e.mu.Lock()
	e.conn = conn
	e.reader = protocol.NewFrameReader(conn)
	e.connected = true
	e.mu.Unlock()

	e.log.Info("connected", "addr", addr)
	appevents.Emit(e.events, appevents.ConnectionMsg{Connected: true, Addr: addr})
	appevents.Emit(e.events, appevents.LogMsg{
		Level: appevents.LevelSuccess,
		Text:  fmt.Sprintf("Connected to %s", addr),
	})

	e.listenerWG.Add(1)
	go e.listen(conn)

	return e.List("")
}

// Disconnect closes the connection explicitly and waits for the listener
// to stop.
func (e *Engine) Disconnect() {
	e.dropConnection("Disconnected")
	e.listenerWG.Wait()
}

// dropConnection tears the connection down once, whatever triggered it.
func (e *Engine) dropConnection(reason string) {
	e.mu.Lock()
	if !e.connected {
		e.mu.Unlock()
		return
	}
	e.connected = false
	conn := e.conn
	e.mu.Unlock()

	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		e.log.Warn("close connection failed", "error", err)
	}
	e.log.Info("disconnected", "reason", reason)
	appevents.Emit(e.events, appevents.ConnectionMsg{Connected: false})
	appevents.Emit(e.events, appevents.LogMsg{Level: appevents.LevelWarning, Text: reason})
}

// listen is the default owner of the socket: whenever no transfer holds
// the guard it attempts a short-deadline read, accumulates bytes into the
// frame buffer, and dispatches each complete line as a decoded response.
func (e *Engine) listen(conn net.Conn) {
	defer e.listenerWG.Done()
	for {
		if err := e.guard.TryAcquire(); err != nil {
			// A transfer owns the socket; yield and check back.
			time.Sleep(e.cfg.PollInterval)
			continue
		}

		e.mu.Lock()
		alive := e.connected && e.conn == conn
		reader := e.reader
		e.mu.Unlock()
		if !alive {
			e.guard.Release()
			return
		}

		if err := conn.SetReadDeadline(time.Now().Add(e.cfg.PollInterval)); err != nil {
			e.guard.Release()
			e.dropConnection(fmt.Sprintf("Socket error: %v", err))
			return
		}
		line, err := reader.ReadLine()
		e.guard.Release()

		switch {
		case err == nil:
			e.dispatch(line)
		case isTimeout(err):
			// No complete line yet; partial bytes stay buffered.
		default:
			e.dropConnection(fmt.Sprintf("Receive error: %v", err))
			return
		}
	}
}

// dispatch interprets one response line by field presence and fans it out
// as events. A line that fails to decode is logged and skipped; outside a
// transfer handshake that never tears the connection down.
func (e *Engine) dispatch(line []byte) {
	var resp protocol.Response
	if err := json.Unmarshal(line, &resp); err != nil {
		e.log.Warn("invalid response line", "error", err)
		return
	}

	if resp.IsListing() {
		path := ""
		if resp.CurrentPath != nil {
			path = *resp.CurrentPath
		}
		appevents.Emit(e.events, appevents.ListingMsg{Entries: resp.Entries(), Path: path})
	}

	switch {
	case resp.Status == protocol.StatusError:
		msg := resp.Message
		if msg == "" {
			msg = "Unknown error"
		}
		appevents.Emit(e.events, appevents.ErrorMsg{Err: errors.New(msg)})
	case resp.Status == protocol.StatusSuccess && resp.Message != "":
		appevents.Emit(e.events, appevents.LogMsg{Level: appevents.LevelSuccess, Text: resp.Message})
	}
}

// Send writes one command line. It waits for socket ownership, so a send
// issued during a transfer goes out after the transfer completes instead
// of interleaving with payload bytes.
func (e *Engine) Send(cmd protocol.Command) error {
	e.guard.Acquire()
	defer e.guard.Release()
	return e.sendOwned(cmd)
}

// sendOwned writes a command while the caller already owns the socket.
func (e *Engine) sendOwned(cmd protocol.Command) error {
	e.mu.Lock()
	conn, connected := e.conn, e.connected
	e.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}
	if err := protocol.WriteMessage(conn, cmd); err != nil {
		e.dropConnection(fmt.Sprintf("Send error: %v", err))
		return err
	}
	return nil
}

// List requests the listing of a logical path; the result arrives
// asynchronously as a ListingMsg.
func (e *Engine) List(path string) error {
	return e.Send(protocol.Command{Command: protocol.CmdList, Path: path})
}

// Mkdir requests creation of a folder under the logical path.
func (e *Engine) Mkdir(path, dirname string) error {
	return e.Send(protocol.Command{Command: protocol.CmdMkdir, Dirname: dirname, Path: path})
}

// Delete requests removal of a file or directory under the logical path.
func (e *Engine) Delete(path, filename string) error {
	return e.Send(protocol.Command{Command: protocol.CmdDelete, Filename: filename, Path: path})
}

// Upload synchronously sends a local file to the server's logical path.
// It blocks its caller (run it off the interface goroutine), emits
// progress events, and refreshes the target listing on success.
func (e *Engine) Upload(localPath, remotePath string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return e.transferFailed("upload", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			e.log.Warn("close upload source failed", "error", err)
		}
	}()
	info, err := file.Stat()
	if err != nil {
		return e.transferFailed("upload", err)
	}
	filename := filepath.Base(localPath)
	size := info.Size()

	e.guard.Acquire()
	defer e.guard.Release()

	conn, reader, err := e.ownedConn()
	if err != nil {
		return e.transferFailed("upload", err)
	}
	reader.Discard()

	if err := e.sendOwned(protocol.UploadCommand(filename, size, remotePath)); err != nil {
		return e.transferFailed("upload", err)
	}

	resp, err := e.readHandshake(conn, reader)
	if err != nil {
		return e.transferFailed("upload", err)
	}
	if resp.Status != protocol.StatusReady {
		return e.transferFailed("upload", fmt.Errorf("unexpected response: %s %s", resp.Status, resp.Message))
	}

	if err := e.streamOut(conn, file, filename, size); err != nil {
		return e.transferFailed("upload", err)
	}

	// The completion response arrives asynchronously; the listener picks
	// it up together with this refreshed listing.
	return e.sendOwned(protocol.Command{Command: protocol.CmdList, Path: remotePath})
}

// Download synchronously fetches a remote file into savePath. A failed or
// short transfer removes the partial local file.
func (e *Engine) Download(filename, remotePath, savePath string) error {
	e.guard.Acquire()
	defer e.guard.Release()

	conn, reader, err := e.ownedConn()
	if err != nil {
		return e.transferFailed("download", err)
	}
	reader.Discard()

	if err := e.sendOwned(protocol.Command{Command: protocol.CmdDownload, Filename: filename, Path: remotePath}); err != nil {
		return e.transferFailed("download", err)
	}

	resp, err := e.readHandshake(conn, reader)
	if err != nil {
		return e.transferFailed("download", err)
	}
	if resp.Status != protocol.StatusSuccess || resp.Size == nil {
		msg := resp.Message
		if msg == "" {
			msg = "File not found"
		}
		return e.transferFailed("download", errors.New(msg))
	}
	size := *resp.Size

	file, err := os.Create(savePath)
	if err != nil {
		return e.transferFailed("download", err)
	}

	received, copyErr := e.streamIn(conn, reader, file, filename, size)
	if err := file.Close(); err != nil {
		e.log.Warn("close download target failed", "error", err)
	}
	if copyErr != nil || received != size {
		if err := os.Remove(savePath); err != nil && !os.IsNotExist(err) {
			e.log.Warn("remove partial download failed", "path", savePath, "error", err)
		}
		if copyErr == nil {
			copyErr = io.ErrUnexpectedEOF
		}
		return e.transferFailed("download", fmt.Errorf("received %d of %d bytes: %w", received, size, copyErr))
	}

	appevents.Emit(e.events, appevents.LogMsg{
		Level: appevents.LevelSuccess,
		Text:  fmt.Sprintf("Downloaded %s", filename),
	})
	return nil
}

// ownedConn snapshots the connection for a caller holding the guard.
func (e *Engine) ownedConn() (net.Conn, *protocol.FrameReader, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.connected {
		return nil, nil, ErrNotConnected
	}
	return e.conn, e.reader, nil
}

// readHandshake reads exactly one response line in blocking mode. A
// malformed line here is fatal: mid-handshake the stream alignment is
// unknown, so the connection is torn down.
func (e *Engine) readHandshake(conn net.Conn, reader *protocol.FrameReader) (protocol.Response, error) {
	if err := conn.SetReadDeadline(time.Now().Add(e.cfg.HandshakeTimeout)); err != nil {
		return protocol.Response{}, err
	}
	line, err := reader.ReadLine()
	if err != nil {
		e.dropConnection(fmt.Sprintf("Receive error: %v", err))
		return protocol.Response{}, err
	}
	var resp protocol.Response
	if err := json.Unmarshal(line, &resp); err != nil {
		e.dropConnection(fmt.Sprintf("Protocol error: %v", err))
		return protocol.Response{}, fmt.Errorf("decode handshake: %w", err)
	}
	return resp, nil
}

// streamOut writes size bytes from r to the socket in bounded chunks,
// emitting progress after each one.
func (e *Engine) streamOut(conn net.Conn, r io.Reader, filename string, size int64) error {
	if size == 0 {
		appevents.Emit(e.events, appevents.ProgressMsg{Filename: filename, Percent: 100})
		return nil
	}
	buf := make([]byte, protocol.ChunkSize)
	var sent int64
	for sent < size {
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := conn.Write(buf[:n]); werr != nil {
				e.dropConnection(fmt.Sprintf("Send error: %v", werr))
				return werr
			}
			sent += int64(n)
			appevents.Emit(e.events, appevents.ProgressMsg{
				Filename: filename,
				Percent:  int(sent * 100 / size),
			})
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
	}
	if sent != size {
		return fmt.Errorf("local file shrank: sent %d of %d bytes", sent, size)
	}
	return nil
}

// streamIn reads exactly size bytes from the socket into w in bounded
// chunks, emitting progress after each one.
func (e *Engine) streamIn(conn net.Conn, reader *protocol.FrameReader, w io.Writer, filename string, size int64) (int64, error) {
	if size == 0 {
		appevents.Emit(e.events, appevents.ProgressMsg{Filename: filename, Percent: 100})
		return 0, nil
	}
	buf := make([]byte, protocol.ChunkSize)
	var received int64
	for received < size {
		if err := conn.SetReadDeadline(time.Now().Add(e.cfg.HandshakeTimeout)); err != nil {
			return received, err
		}
		chunk := buf
		if remaining := size - received; remaining < int64(len(chunk)) {
			chunk = buf[:remaining]
		}
		n, err := reader.ReadFull(chunk)
		if n > 0 {
			if _, werr := w.Write(chunk[:n]); werr != nil {
				return received, werr
			}
			received += int64(n)
			appevents.Emit(e.events, appevents.ProgressMsg{
				Filename: filename,
				Percent:  int(received * 100 / size),
			})
		}
		if err != nil {
			return received, err
		}
	}
	return received, nil
}

// transferFailed surfaces a transfer failure as a notification and
// returns it. The connection stays open unless the socket itself failed.
func (e *Engine) transferFailed(op string, err error) error {
	wrapped := fmt.Errorf("%s failed: %w", op, err)
	e.log.Warn("transfer failed", "op", op, "error", err)
	appevents.Emit(e.events, appevents.ErrorMsg{Err: wrapped})
	return wrapped
}

func isTimeout(err error) bool {
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
