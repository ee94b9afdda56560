package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Jincoo/youtube-music-remote/internal/adapters/medium"
	"github.com/Jincoo/youtube-music-remote/internal/adapters/rtc"
	"github.com/Jincoo/youtube-music-remote/internal/config"
	"github.com/Jincoo/youtube-music-remote/internal/discovery"
)

var (
	flagRole      string
	flagMedium    string
	flagUserAgent string
	flagLocale    string
	flagName      string
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find a peer on the local network and open a direct link",
	Long: `Run the discovery handshake as host, client, or both. With --role both
the two ends run in this process over the memory medium, which checks that
WebRTC negotiation works on this machine.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		d := cfg.Discovery
		if flagMedium != "" {
			d.Medium = flagMedium
		}
		if flagName != "" {
			d.DeviceName = flagName
		}
		if d.DeviceName == "" {
			d.DeviceName, _ = os.Hostname()
		}

		var roles []discovery.Role
		if flagRole == "both" {
			d.Medium = "memory"
			roles = []discovery.Role{discovery.RoleHost, discovery.RoleClient}
		} else {
			role, err := discovery.ParseRole(flagRole)
			if err != nil {
				return err
			}
			if d.Medium == "memory" {
				return errors.New("the memory medium needs --role both")
			}
			roles = []discovery.Role{role}
		}
		return runDiscovery(cmd.Context(), cmd.OutOrStdout(), d, roles)
	},
}

func init() {
	f := discoverCmd.Flags()
	f.StringVar(&flagRole, "role", "host", "host, client or both")
	f.StringVar(&flagMedium, "medium", "", "memory, multicast, redis or nats (default from config)")
	f.StringVar(&flagUserAgent, "user-agent", "remotectl", "user agent used for the network id")
	f.StringVar(&flagLocale, "locale", "en-US", "locale used for the network id")
	f.StringVar(&flagName, "name", "", "device name announced to peers")
}

func runDiscovery(ctx context.Context, out io.Writer, d config.Discovery, roles []discovery.Role) error {
	network := discovery.NetworkID(flagUserAgent, flagLocale, discovery.DefaultHost)
	fmt.Fprintln(out, titleStyle.Render("network "+network)+mutedStyle.Render(" via "+d.Medium))

	var hub *medium.Hub
	if d.Medium == "memory" {
		hub = medium.NewHub()
	}
	factory := rtc.NewFactory(rtc.DefaultWebRTCConfig(d.STUNURLs...))

	var printMu sync.Mutex
	say := func(s string) {
		printMu.Lock()
		defer printMu.Unlock()
		fmt.Fprintln(out, s)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, role := range roles {
		m, err := medium.Open(gctx, d, uuid.NewString(), hub)
		if err != nil {
			return err
		}
		interval := d.AnnounceInterval
		if role == discovery.RoleClient {
			interval = d.ScanInterval
		}
		name := role.String()
		var sig *discovery.Signaler
		sig = discovery.New(discovery.Config{
			Role:         role,
			NetworkID:    network,
			DeviceName:   d.DeviceName,
			Interval:     interval,
			OfferTimeout: d.OfferTimeout,
			OnState: func(st discovery.State) {
				say(stateBadge(name, st))
				if st == discovery.StateConnected {
					go func() {
						if err := sig.Send([]byte("hello from " + name)); err != nil {
							say(errorStyle.Render(name+": ") + err.Error())
						}
					}()
				}
			},
			OnPeerFound: func(device string) {
				say(mutedStyle.Render(name + " found " + device))
			},
			OnMessage: func(b []byte) {
				say(mutedStyle.Render(name+" received: ") + string(b))
			},
		}, m, factory)

		g.Go(func() error {
			defer m.Close()
			err := sig.Run(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	return g.Wait()
}
