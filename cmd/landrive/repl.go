package main

import (
	"bufio"
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	appevents "github.com/rescp17/lanDrive/internal/app_events"
	"github.com/rescp17/lanDrive/internal/util"
	"github.com/rescp17/lanDrive/pkg/client"
	"github.com/rescp17/lanDrive/pkg/protocol"
)

// repl is the terminal stand-in for the original client window: it feeds
// navigation and transfer requests into the network engine and renders
// the engine's events.
type repl struct {
	engine     *client.Engine
	host       string
	saveDir    string
	mirrorPort int

	mu   sync.Mutex
	path string
}

func newREPL(engine *client.Engine, host, saveDir string, mirrorPort int) *repl {
	return &repl{engine: engine, host: host, saveDir: saveDir, mirrorPort: mirrorPort}
}

func (r *repl) run(ctx context.Context) error {
	if err := r.engine.Connect(r.host); err != nil {
		return err
	}
	defer r.engine.Disconnect()

	done := make(chan struct{})
	defer close(done)
	go r.consumeEvents(ctx, done)

	fmt.Println("Type 'help' for commands.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Printf("landrive:/%s> ", r.currentPath())
		if !scanner.Scan() {
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		cmd, args := fields[0], fields[1:]
		if cmd == "quit" || cmd == "exit" {
			return nil
		}
		if err := r.execute(cmd, args); err != nil {
			fmt.Println("error:", err)
		}
		// Give quick commands a beat to answer before re-prompting.
		time.Sleep(200 * time.Millisecond)
	}
}

func (r *repl) execute(cmd string, args []string) error {
	switch cmd {
	case "help":
		fmt.Print(`  ls            refresh the current folder
  cd <dir|..>   enter a folder, or go up
  get <name>    download a file into the save dir
  put <file>    upload a local file here
  rm <name>     delete a file or folder
  mkdir <name>  create a folder here
  share <name>  print the phone download URL
  status        connection state
  quit          leave
`)
		return nil
	case "ls":
		return r.engine.List(r.currentPath())
	case "cd":
		if len(args) != 1 {
			return fmt.Errorf("usage: cd <dir|..>")
		}
		next := ""
		if args[0] != ".." {
			next = path.Join(r.currentPath(), args[0])
		} else if cur := r.currentPath(); cur != "" {
			next = path.Dir(cur)
			if next == "." {
				next = ""
			}
		}
		return r.engine.List(next)
	case "get":
		if len(args) != 1 {
			return fmt.Errorf("usage: get <name>")
		}
		name := args[0]
		save := filepath.Join(r.saveDir, name)
		current := r.currentPath()
		go r.engine.Download(name, current, save) //nolint:errcheck // surfaced via events
		return nil
	case "put":
		if len(args) != 1 {
			return fmt.Errorf("usage: put <local file>")
		}
		local := args[0]
		exists, isDir, err := util.CheckDirectory(local)
		if err != nil {
			return err
		}
		if !exists || isDir {
			return fmt.Errorf("%s is not a local file", local)
		}
		current := r.currentPath()
		go r.engine.Upload(local, current) //nolint:errcheck // surfaced via events
		return nil
	case "rm":
		if len(args) != 1 {
			return fmt.Errorf("usage: rm <name>")
		}
		return r.engine.Delete(r.currentPath(), args[0])
	case "mkdir":
		if len(args) != 1 {
			return fmt.Errorf("usage: mkdir <name>")
		}
		return r.engine.Mkdir(r.currentPath(), args[0])
	case "share":
		if len(args) != 1 {
			return fmt.Errorf("usage: share <name>")
		}
		full := strings.Trim(path.Join(r.currentPath(), args[0]), "/")
		u := url.URL{
			Scheme: "http",
			Host:   fmt.Sprintf("%s:%d", r.host, r.mirrorPort),
			Path:   "/" + full,
		}
		fmt.Println("Scan or open on your phone:", u.String())
		return nil
	case "status":
		if r.engine.Connected() {
			fmt.Println("connected to", r.host)
		} else {
			fmt.Println("disconnected")
		}
		return nil
	default:
		return fmt.Errorf("unknown command %q, try 'help'", cmd)
	}
}

func (r *repl) currentPath() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path
}

func (r *repl) consumeEvents(ctx context.Context, done <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case msg := <-r.engine.Events():
			r.render(msg)
		}
	}
}

func (r *repl) render(msg appevents.Msg) {
	switch m := msg.(type) {
	case appevents.ListingMsg:
		r.mu.Lock()
		r.path = m.Path
		r.mu.Unlock()
		printListing(m.Entries, m.Path)
	case appevents.LogMsg:
		fmt.Printf("[%s] %s\n", m.Level, m.Text)
	case appevents.ProgressMsg:
		fmt.Printf("\r%s %3d%%", m.Filename, m.Percent)
		if m.Percent >= 100 {
			fmt.Println()
		}
	case appevents.ErrorMsg:
		fmt.Println("error:", m.Err)
	case appevents.ConnectionMsg:
		if m.Connected {
			fmt.Println("connected:", m.Addr)
		} else {
			fmt.Println("connection closed")
		}
	}
}

func printListing(entries []protocol.Entry, currentPath string) {
	fmt.Printf("\n/%s (%d items)\n", currentPath, len(entries))
	for _, e := range entries {
		kind := "file"
		size := util.FormatSize(e.Size)
		if e.IsDir {
			kind = "dir"
			size = ""
		}
		fmt.Printf("  %s %-4s %10s  %s\n",
			util.PadRight(e.Name, 32),
			kind,
			size,
			time.Unix(e.Mtime, 0).Format("2006-01-02 15:04"),
		)
	}
}
