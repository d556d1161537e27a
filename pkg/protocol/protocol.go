// Package protocol defines the wire format shared by the lanDrive server
// and client: newline-delimited UTF-8 JSON control messages with raw byte
// payload segments carried outside of JSON.
package protocol

// Command names accepted by the server.
const (
	CmdList     = "LIST"
	CmdUpload   = "UPLOAD"
	CmdDownload = "DOWNLOAD"
	CmdDelete   = "DELETE"
	CmdMkdir    = "MKDIR"
)

// Response status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusReady   = "ready"
)

// ChunkSize is the ceiling for a single payload read or write. Both ends
// stream transfers in chunks no larger than this.
const ChunkSize = 8192

// Entry is one file-system child in a listing. Produced fresh on every
// LIST, never cached.
type Entry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
	Mtime int64  `json:"mtime"`
}

// Command is one client request. Fields beyond Command are
// command-specific; unused ones are omitted on the wire. Size is a
// pointer because UPLOAD requires the field to be present and zero is a
// legal declared size.
type Command struct {
	Command  string `json:"command"`
	Path     string `json:"path"`
	Filename string `json:"filename,omitempty"`
	Dirname  string `json:"dirname,omitempty"`
	Size     *int64 `json:"size,omitempty"`
}

// UploadCommand builds an UPLOAD request for one file.
func UploadCommand(filename string, size int64, path string) Command {
	return Command{Command: CmdUpload, Filename: filename, Size: &size, Path: path}
}

// Response is one server reply. Interpretation is driven by field
// presence, not by a message type tag: a present items field means a
// listing, status "ready" is the upload handshake, status "success" with
// a present size field is the download handshake. Items, CurrentPath and
// Size are pointers so that presence survives the round trip: an empty
// listing still carries "items":[] while non-listing replies omit the
// field entirely.
type Response struct {
	Status      string   `json:"status"`
	Message     string   `json:"message,omitempty"`
	Items       *[]Entry `json:"items,omitempty"`
	CurrentPath *string  `json:"current_path,omitempty"`
	Size        *int64   `json:"size,omitempty"`
}

// IsListing reports whether the response carries a listing result,
// regardless of any other field.
func (r *Response) IsListing() bool {
	return r.Items != nil
}

// Entries returns the listing entries, nil-safe.
func (r *Response) Entries() []Entry {
	if r.Items == nil {
		return nil
	}
	return *r.Items
}

// ListingResponse builds a LIST reply echoing the client's original
// relative path.
func ListingResponse(items []Entry, currentPath string) Response {
	if items == nil {
		items = []Entry{}
	}
	return Response{Status: StatusSuccess, Items: &items, CurrentPath: &currentPath}
}

// ErrorResponse builds a generic error reply.
func ErrorResponse(message string) Response {
	return Response{Status: StatusError, Message: message}
}

// SuccessResponse builds a generic success reply with a human-readable
// message.
func SuccessResponse(message string) Response {
	return Response{Status: StatusSuccess, Message: message}
}

// ReadyResponse builds the upload handshake sent before the server reads
// any payload bytes.
func ReadyResponse() Response {
	return Response{Status: StatusReady}
}

// DownloadResponse builds the download handshake announcing the payload
// size that follows.
func DownloadResponse(size int64) Response {
	return Response{Status: StatusSuccess, Size: &size}
}
