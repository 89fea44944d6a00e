package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/Wyydra/meet/internal/adapter/driven/media/pion"
	sigclient "github.com/Wyydra/meet/internal/adapter/driven/signal"
	"github.com/Wyydra/meet/internal/config"
	"github.com/Wyydra/meet/internal/core/domain"
	"github.com/Wyydra/meet/internal/core/negotiation"
	"github.com/Wyydra/meet/internal/logging"
	"github.com/pterm/pterm"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type options struct {
	configPath string
	server     string
	room       string
	identity   string
	call       bool
	sendBack   bool
	noVideo    bool
	noAudio    bool
	deny       bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		pterm.Error.Println(err.Error())
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "meet-peer",
		Short: "Join a room and negotiate a call from the terminal",
		Long: `meet-peer joins a room on a meet-server and runs one side of a call
with synthetic media.

Examples:
  meet-peer --room r1 --identity bob@x --send-back
  meet-peer --room r1 --identity alice@x --call`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "path to a TOML config file")
	f.StringVar(&opts.server, "server", "", "signaling WebSocket URL (overrides config)")
	f.StringVarP(&opts.room, "room", "r", "", "room to join")
	f.StringVarP(&opts.identity, "identity", "i", "", "identity announced to the room")
	f.BoolVar(&opts.call, "call", false, "call whoever joins the room after us")
	f.BoolVar(&opts.sendBack, "send-back", false, "publish local media once remote media arrives")
	f.BoolVar(&opts.noVideo, "no-video", false, "do not capture video")
	f.BoolVar(&opts.noAudio, "no-audio", false, "do not capture audio")
	f.BoolVar(&opts.deny, "deny-media", false, "refuse media access")
	_ = cmd.MarkFlagRequired("room")
	_ = cmd.MarkFlagRequired("identity")
	return cmd
}

func run(ctx context.Context, opts options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.server != "" {
		cfg.Peer.ServerURL = opts.server
	}
	if err := logging.Setup(cfg.Log); err != nil {
		return err
	}

	peer, err := pion.NewPeer(pion.Config{
		ICEServers:    cfg.Peer.ICEServers,
		GatherTimeout: cfg.Peer.GatherTimeout.Duration,
	})
	if err != nil {
		return err
	}

	spinner, _ := pterm.DefaultSpinner.Start(fmt.Sprintf("Connecting to %s", cfg.Peer.ServerURL))
	client, err := sigclient.Dial(ctx, cfg.Peer.ServerURL, nil)
	if err != nil {
		spinner.Fail(err.Error())
		_ = peer.Close()
		return err
	}
	spinner.Success("Connected")
	defer client.Close()

	presenter := &terminalPresenter{ctx: ctx, sendBack: opts.sendBack}
	n := negotiation.NewNegotiator(peer, pion.SyntheticSource{Deny: opts.deny}, client, presenter,
		negotiation.WithConstraints(negotiation.Constraints{Audio: !opts.noAudio, Video: !opts.noVideo}))
	defer n.Close()
	presenter.negotiator = n

	if err := client.Join(ctx, domain.Identity(opts.identity), domain.RoomName(opts.room), nil); err != nil {
		return err
	}
	pterm.Info.Printfln("Joined room %s as %s", opts.room, opts.identity)

	d := sigclient.NewDispatcher(n, sigclient.WithAutoCall(opts.call))
	if err := client.Run(ctx, d); err != nil && err != context.Canceled {
		return err
	}
	pterm.Info.Println("Bye")
	return nil
}

// terminalPresenter prints what a call UI would show.
type terminalPresenter struct {
	ctx        context.Context
	sendBack   bool
	negotiator *negotiation.Negotiator
	once       sync.Once
}

func (p *terminalPresenter) RemoteStream(s negotiation.RemoteStream) {
	pterm.Success.Printfln("Receiving remote stream %s (%s)", s.ID(), strings.Join(s.Kinds(), ", "))
	if !p.sendBack || p.negotiator == nil {
		return
	}
	p.once.Do(func() {
		go func() {
			if err := p.negotiator.SendStreams(p.ctx); err != nil {
				log.Error().Err(err).Msg("Failed to send streams back")
			}
		}()
	})
}

func (p *terminalPresenter) Presence(connected bool) {
	if connected {
		pterm.Info.Println("Remote participant is in the room")
		return
	}
	pterm.Warning.Println("Remote participant left")
}

func (p *terminalPresenter) Error(err error) {
	pterm.Error.Println(err.Error())
}
