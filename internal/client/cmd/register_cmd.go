package cmd

import (
	"fmt"
	"net"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/rudransh-shrivastava/peer-chat/internal/directory"
	"github.com/spf13/cobra"
)

// Registers a fixed address without starting a listener, for peers
// running behind a port forward.
var registerCmd = &cobra.Command{
	Use:   "register host:port",
	Short: "register an address with the rendezvous service",
	Long:  `registers the configured username at host:port without starting a chat session`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadPeerConfig(cmd)
		if err != nil {
			return err
		}

		host, portStr, err := net.SplitHostPort(args[0])
		if err != nil {
			return err
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return fmt.Errorf("invalid port %q", portStr)
		}

		rec := directory.PeerRecord{Username: cfg.Username, Address: host, Port: port}
		if err := rec.Validate(); err != nil {
			return err
		}

		res, err := newDirectoryClient(cfg).Register(cmd.Context(), rec)
		if err != nil {
			return err
		}
		pterm.Success.Printfln("%s %s at %s", res, rec.Username, rec.HostPort())
		return nil
	},
}
