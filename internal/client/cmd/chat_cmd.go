package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/rudransh-shrivastava/peer-chat/internal/client/chat"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	flagListen      string
	flagAdvertise   string
	flagWire        string
	flagDownloadDir string
)

// Registers with the rendezvous service, then listens for peers and reads
// commands from stdin until /quit or a signal.
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "register and start chatting",
	Long: `registers this peer with the rendezvous service, listens for incoming sessions
			and reads chat commands from stdin. Type /help for the command list.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadPeerConfig(cmd)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		log := newLogger(cfg.LogLevel)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		node, err := newNode(cfg, log)
		if err != nil {
			return err
		}
		defer node.Shutdown()

		if _, err := node.Register(ctx); err != nil {
			return err
		}

		console := chat.NewConsole(chat.Config{
			Node:        node,
			DownloadDir: cfg.DownloadDir,
			Logger:      log,
		})
		pterm.Success.Printfln("registered as %s on %s, type /help for commands", node.Username(), node.Addr())

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return node.Start(gctx)
		})
		g.Go(func() error {
			return console.HandleEvents(gctx)
		})
		g.Go(func() error {
			defer cancel()
			return console.Run(gctx, os.Stdin)
		})

		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	f := chatCmd.Flags()
	f.StringVar(&flagListen, "listen", "", "local address to accept peers on")
	f.StringVar(&flagAdvertise, "advertise", "", `host to register, or "stun" to discover it`)
	f.StringVar(&flagWire, "wire", "", "wire format: delimited or framed")
	f.StringVar(&flagDownloadDir, "download-dir", "", "directory for received files")
}
