package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	appevents "github.com/rescp17/lanDrive/internal/app_events"
	"github.com/rescp17/lanDrive/internal/util"
	"github.com/rescp17/lanDrive/pkg/client"
	"github.com/rescp17/lanDrive/pkg/discovery"
	"github.com/rescp17/lanDrive/pkg/mirror"
	"github.com/rescp17/lanDrive/pkg/server"
)

func main() {
	cmd := &cobra.Command{
		Use:   "landrive",
		Short: "A mini drive for local networks",
		Long:  "Host a folder on your LAN and let peers browse, upload and download it,\nwith a plain-HTTP mirror for phones.",
	}
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newConnectCmd())

	if err := fang.Execute(context.Background(), cmd); err != nil {
		os.Exit(1)
	}
}

func newServeCmd() *cobra.Command {
	cfg := server.DefaultConfig()
	mirrorAddr := ":9000"
	announce := false
	name, _ := os.Hostname()
	if name == "" {
		name = "lanDrive"
	}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Host the storage folder on the local network",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			events := make(chan appevents.Msg, cfg.EventBufferSize)
			registry, err := server.NewRegistry(cfg, events)
			if err != nil {
				return err
			}
			if err := registry.Start(); err != nil {
				return err
			}
			defer registry.Shutdown()

			web := mirror.New(registry.Sandbox(), mirrorAddr, events)
			if err := web.Start(); err != nil {
				return err
			}
			defer web.Shutdown()

			if announce {
				go announceDrive(ctx, name, registry.Addr(), web.Addr())
			}

			slog.Info("drive ready",
				"addr", registry.Addr().String(),
				"mirror", web.Addr().String(),
				"root", registry.Root(),
				"lan_ip", util.LanIP(),
			)

			// Activity feed: the serve terminal plays the role of the
			// original's monitor window.
			for {
				select {
				case <-ctx.Done():
					return nil
				case msg := <-events:
					logEvent(msg)
				}
			}
		},
	}

	cmd.Flags().StringVar(&cfg.Addr, "addr", cfg.Addr, "protocol listen address")
	cmd.Flags().StringVar(&cfg.Root, "root", cfg.Root, "storage root directory")
	cmd.Flags().DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "close idle sessions after this duration")
	cmd.Flags().StringVar(&mirrorAddr, "mirror-addr", mirrorAddr, "HTTP mirror listen address")
	cmd.Flags().BoolVar(&announce, "announce", announce, "announce the drive over mDNS")
	cmd.Flags().StringVar(&name, "name", name, "mDNS instance name")
	return cmd
}

func logEvent(msg appevents.Msg) {
	switch m := msg.(type) {
	case appevents.LogMsg:
		switch m.Level {
		case appevents.LevelError:
			slog.Error(m.Text)
		case appevents.LevelWarning:
			slog.Warn(m.Text)
		default:
			slog.Info(m.Text)
		}
	case appevents.ClientCountMsg:
		slog.Info("active clients", "count", m.Count)
	case appevents.ErrorMsg:
		slog.Error(m.Err.Error())
	}
}

func announceDrive(ctx context.Context, name string, protoAddr, mirrorAddr net.Addr) {
	text := map[string]string{}
	if mirrorAddr != nil {
		if _, port, err := net.SplitHostPort(mirrorAddr.String()); err == nil {
			text["mirror"] = port
		}
	}
	port := 0
	if _, p, err := net.SplitHostPort(protoAddr.String()); err == nil {
		port, _ = strconv.Atoi(p)
	}

	adapter := &discovery.MDNSAdapter{}
	err := adapter.Announce(ctx, discovery.ServiceInfo{
		Name:   name,
		Type:   discovery.ServiceType,
		Domain: discovery.DefaultDomain,
		Port:   port,
		Text:   text,
	})
	if err != nil {
		slog.Warn("mDNS announce failed", "error", err)
	}
}

func newConnectCmd() *cobra.Command {
	cfg := client.DefaultConfig()
	discover := false
	saveDir := "."
	mirrorPort := 9000

	cmd := &cobra.Command{
		Use:   "connect [host]",
		Short: "Connect to a drive and browse it interactively",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			host := ""
			if len(args) == 1 {
				host = args[0]
			}
			if discover {
				found, err := discoverDrive(cmd.Context())
				if err != nil {
					return err
				}
				host = found.Addr.String()
				cfg.Port = found.Port
				if p, err := strconv.Atoi(found.Text["mirror"]); err == nil {
					mirrorPort = p
				}
				fmt.Printf("Discovered %q at %s:%d\n", found.Name, host, found.Port)
			}
			if host == "" {
				return errors.New("supply a host or use --discover")
			}

			engine, err := client.NewEngine(cfg)
			if err != nil {
				return err
			}
			repl := newREPL(engine, host, saveDir, mirrorPort)
			return repl.run(cmd.Context())
		},
	}

	cmd.Flags().IntVar(&cfg.Port, "port", cfg.Port, "server protocol port")
	cmd.Flags().BoolVar(&discover, "discover", discover, "browse the LAN for a drive via mDNS")
	cmd.Flags().StringVar(&saveDir, "save-dir", saveDir, "directory downloads are saved into")
	cmd.Flags().IntVar(&mirrorPort, "mirror-port", mirrorPort, "server HTTP mirror port, for share URLs")
	return cmd
}

// discoverDrive browses the LAN briefly and returns the first drive seen.
func discoverDrive(ctx context.Context) (discovery.ServiceInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	adapter := &discovery.MDNSAdapter{}
	service := fmt.Sprintf("%s.%s.", discovery.ServiceType, discovery.DefaultDomain)
	for result := range adapter.Discover(ctx, service) {
		if result.Error != nil {
			return discovery.ServiceInfo{}, result.Error
		}
		if len(result.Services) > 0 {
			return result.Services[0], nil
		}
	}
	return discovery.ServiceInfo{}, errors.New("no drive found on the local network")
}
