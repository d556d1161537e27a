package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	appevents "github.com/rescp17/lanDrive/internal/app_events"
	"github.com/rescp17/lanDrive/pkg/protocol"
	"github.com/rescp17/lanDrive/pkg/sandbox"
)

// Error messages sent to the requester. Sandbox escapes reuse the
// not-found wording so the protocol boundary never distinguishes the two.
const (
	msgNotFound       = "File not found"
	msgDeleteNotFound = "Not found"
	msgMissingInfo    = "Missing info"
	msgIncomplete     = "Transfer incomplete"
	msgUnknownCommand = "Unknown command"
	msgListFailed     = "Could not list directory"
	msgUploadFailed   = "Upload failed"
	msgMkdirFailed    = "Could not create folder"
	msgDeleteFailed   = "Could not delete"
)

// Session handles one accepted connection from accept to close. It owns
// the socket and a FrameReader for partial lines; command dispatch is
// strictly sequential within a session.
type Session struct {
	id     string
	conn   net.Conn
	reader *protocol.FrameReader
	box    *sandbox.Sandbox
	remote string

	idleTimeout time.Duration
	events      chan<- appevents.Msg
	log         *slog.Logger
	onClose     func(*Session)
}

// run is the session loop: read one line, dispatch, repeat until the peer
// closes, the idle timeout fires, or an unrecoverable I/O error occurs.
// Registry removal happens on every exit path via onClose.
func (s *Session) run() {
	defer s.close()

	for {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.idleTimeout)); err != nil {
			s.log.Warn("set read deadline failed", "error", err)
			return
		}
		line, err := s.reader.ReadLine()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				s.log.Info("peer closed connection")
			case isTimeout(err):
				s.log.Warn("session idle timeout")
				s.emitLog(appevents.LevelWarning, fmt.Sprintf("Timeout: %s", s.remote))
			default:
				s.log.Warn("read failed", "error", err)
			}
			return
		}

		var cmd protocol.Command
		if err := json.Unmarshal(line, &cmd); err != nil {
			// Malformed framing outside a transfer handshake is tolerated.
			s.log.Warn("invalid command line", "error", err)
			s.emitLog(appevents.LevelError, fmt.Sprintf("Invalid JSON from %s", s.remote))
			continue
		}

		s.log.Info("command received", "command", cmd.Command, "path", cmd.Path)
		s.emitLog(appevents.LevelInfo, fmt.Sprintf("Command from %s: %s", s.remote, cmd.Command))

		if err := s.dispatch(cmd); err != nil {
			s.log.Warn("session terminating", "command", cmd.Command, "error", err)
			return
		}
	}
}

// dispatch executes one command. A returned error is fatal to the
// session; per-command failures are converted to error responses instead.
func (s *Session) dispatch(cmd protocol.Command) error {
	switch cmd.Command {
	case protocol.CmdList:
		return s.handleList(cmd)
	case protocol.CmdUpload:
		return s.handleUpload(cmd)
	case protocol.CmdDownload:
		return s.handleDownload(cmd)
	case protocol.CmdDelete:
		return s.handleDelete(cmd)
	case protocol.CmdMkdir:
		return s.handleMkdir(cmd)
	default:
		return s.send(protocol.ErrorResponse(msgUnknownCommand))
	}
}

// handleList enumerates the immediate children of the requested
// directory, creating it first if absent so the root and any listed
// subfolder always exists after a LIST.
func (s *Session) handleList(cmd protocol.Command) error {
	dir, err := s.box.Resolve(cmd.Path)
	if err != nil {
		return s.sendError(msgNotFound, "list", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return s.sendError(msgListFailed, "list", err)
	}

	children, err := os.ReadDir(dir)
	if err != nil {
		return s.sendError(msgListFailed, "list", err)
	}

	items := make([]protocol.Entry, 0, len(children))
	for _, child := range children {
		info, err := child.Info()
		if err != nil {
			// Entry vanished between ReadDir and Stat.
			s.log.Warn("skipping unreadable entry", "name", child.Name(), "error", err)
			continue
		}
		size := info.Size()
		if info.IsDir() {
			size = 0
		}
		items = append(items, protocol.Entry{
			Name:  child.Name(),
			IsDir: info.IsDir(),
			Size:  size,
			Mtime: info.ModTime().Unix(),
		})
	}

	s.emitLog(appevents.LevelSuccess, fmt.Sprintf("Listed %d items in %s", len(items), orRoot(cmd.Path)))
	return s.send(protocol.ListingResponse(items, cmd.Path))
}

// handleUpload performs the ready handshake and then reads exactly the
// declared number of payload bytes straight into the target file. Exact
// byte count is the sole completion criterion; a short stream deletes the
// partial file.
func (s *Session) handleUpload(cmd protocol.Command) error {
	if cmd.Filename == "" || cmd.Size == nil || *cmd.Size < 0 {
		return s.send(protocol.ErrorResponse(msgMissingInfo))
	}
	size := *cmd.Size

	target, err := s.box.ResolveChild(cmd.Path, cmd.Filename)
	if err != nil {
		return s.sendError(msgNotFound, "upload", err)
	}

	file, err := os.Create(target)
	if err != nil {
		return s.sendError(msgUploadFailed, "upload", err)
	}

	s.emitLog(appevents.LevelInfo, fmt.Sprintf("Receiving: %s (%d bytes)", cmd.Filename, size))
	if err := s.send(protocol.ReadyResponse()); err != nil {
		file.Close()
		s.removePartial(target)
		return err
	}

	received, copyErr := s.receivePayload(file, size)
	if err := file.Close(); err != nil {
		s.log.Warn("close upload target failed", "path", target, "error", err)
	}

	if copyErr != nil || received != size {
		s.removePartial(target)
		s.emitLog(appevents.LevelError, fmt.Sprintf("Upload incomplete: %s", cmd.Filename))
		if sendErr := s.send(protocol.ErrorResponse(msgIncomplete)); sendErr != nil {
			return sendErr
		}
		// A short payload means the stream is no longer aligned with the
		// protocol; inside a transfer this is fatal to the session.
		return fmt.Errorf("upload of %s incomplete: %d of %d bytes: %w",
			cmd.Filename, received, size, copyErr)
	}

	s.emitLog(appevents.LevelSuccess, fmt.Sprintf("Upload complete: %s", cmd.Filename))
	return s.send(protocol.SuccessResponse("Upload complete"))
}

// receivePayload reads exactly size raw bytes from the connection into w,
// never requesting more than the chunk ceiling per read.
func (s *Session) receivePayload(w io.Writer, size int64) (int64, error) {
	buf := make([]byte, protocol.ChunkSize)
	var received int64
	for received < size {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.idleTimeout)); err != nil {
			return received, err
		}
		chunk := buf
		if remaining := size - received; remaining < int64(len(chunk)) {
			chunk = buf[:remaining]
		}
		n, err := s.reader.ReadFull(chunk)
		if n > 0 {
			if _, werr := w.Write(chunk[:n]); werr != nil {
				return received, werr
			}
			received += int64(n)
		}
		if err != nil {
			return received, err
		}
	}
	return received, nil
}

// handleDownload streams a regular file to the peer after announcing its
// size. Directories are never streamed.
func (s *Session) handleDownload(cmd protocol.Command) error {
	target, err := s.box.ResolveChild(cmd.Path, cmd.Filename)
	if err != nil {
		return s.sendError(msgNotFound, "download", err)
	}
	info, err := os.Stat(target)
	if err != nil || info.IsDir() {
		s.emitLog(appevents.LevelError, fmt.Sprintf("Download failed: %s not found", cmd.Filename))
		return s.send(protocol.ErrorResponse(msgNotFound))
	}

	file, err := os.Open(target)
	if err != nil {
		return s.sendError(msgNotFound, "download", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			s.log.Warn("close download source failed", "path", target, "error", err)
		}
	}()

	if err := s.send(protocol.DownloadResponse(info.Size())); err != nil {
		return err
	}

	buf := make([]byte, protocol.ChunkSize)
	var sent int64
	for sent < info.Size() {
		n, err := file.Read(buf)
		if n > 0 {
			if _, werr := s.conn.Write(buf[:n]); werr != nil {
				return fmt.Errorf("stream %s: %w", cmd.Filename, werr)
			}
			sent += int64(n)
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("read %s: %w", cmd.Filename, err)
		}
	}

	s.emitLog(appevents.LevelSuccess, fmt.Sprintf("Download: %s to %s", cmd.Filename, s.remote))
	return nil
}

// handleDelete removes a file, or a directory with all of its contents.
func (s *Session) handleDelete(cmd protocol.Command) error {
	target, err := s.box.ResolveChild(cmd.Path, cmd.Filename)
	if err != nil {
		return s.sendError(msgDeleteNotFound, "delete", err)
	}
	info, err := os.Stat(target)
	if err != nil {
		return s.send(protocol.ErrorResponse(msgDeleteNotFound))
	}

	if info.IsDir() {
		err = os.RemoveAll(target)
	} else {
		err = os.Remove(target)
	}
	if err != nil {
		return s.sendError(msgDeleteFailed, "delete", err)
	}

	s.emitLog(appevents.LevelSuccess, fmt.Sprintf("Deleted: %s", cmd.Filename))
	return s.send(protocol.SuccessResponse(fmt.Sprintf("Deleted %s", cmd.Filename)))
}

// handleMkdir creates the named child directory; pre-existing directories
// are not an error.
func (s *Session) handleMkdir(cmd protocol.Command) error {
	if cmd.Dirname == "" {
		return s.send(protocol.ErrorResponse(msgMissingInfo))
	}
	target, err := s.box.ResolveChild(cmd.Path, cmd.Dirname)
	if err != nil {
		return s.sendError(msgNotFound, "mkdir", err)
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		return s.sendError(msgMkdirFailed, "mkdir", err)
	}

	s.emitLog(appevents.LevelSuccess, fmt.Sprintf("Created folder: %s", cmd.Dirname))
	return s.send(protocol.SuccessResponse(fmt.Sprintf("Folder %s created", cmd.Dirname)))
}

// send writes one response line. A write failure is fatal to the session.
func (s *Session) send(resp protocol.Response) error {
	return protocol.WriteMessage(s.conn, resp)
}

// sendError logs the real failure locally and replies with a generic
// message that reveals nothing about the root layout.
func (s *Session) sendError(message, op string, err error) error {
	s.log.Warn(op+" failed", "error", err)
	s.emitLog(appevents.LevelError, fmt.Sprintf("%s error: %s", op, message))
	return s.send(protocol.ErrorResponse(message))
}

func (s *Session) removePartial(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.log.Warn("remove partial upload failed", "path", path, "error", err)
	}
}

func (s *Session) emitLog(level, text string) {
	appevents.Emit(s.events, appevents.LogMsg{Level: level, Text: text})
}

func (s *Session) close() {
	if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.log.Warn("close connection failed", "error", err)
	}
	if s.onClose != nil {
		s.onClose(s)
	}
	s.log.Info("session closed")
	s.emitLog(appevents.LevelClient, fmt.Sprintf("Client disconnected: %s", s.remote))
}

func isTimeout(err error) bool {
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

func orRoot(path string) string {
	if path == "" {
		return "root"
	}
	return path
}
