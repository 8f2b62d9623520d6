package cmd

import (
	"errors"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/rudransh-shrivastava/peer-chat/internal/directory"
	"github.com/spf13/cobra"
)

var lookupCmd = &cobra.Command{
	Use:   "lookup username",
	Short: "show the address a user registered",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadPeerConfig(cmd)
		if err != nil {
			return err
		}

		rec, err := newDirectoryClient(cfg).Lookup(cmd.Context(), args[0])
		if errors.Is(err, directory.ErrNotFound) {
			return fmt.Errorf("%s is not registered", args[0])
		}
		if err != nil {
			return err
		}

		pterm.Info.Printfln("%s is at %s", rec.Username, rec.HostPort())
		return nil
	},
}
