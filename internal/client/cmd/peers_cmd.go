package cmd

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "list registered usernames",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadPeerConfig(cmd)
		if err != nil {
			return err
		}

		names, err := newDirectoryClient(cfg).List(cmd.Context())
		if err != nil {
			return err
		}
		if len(names) == 0 {
			pterm.Info.Println("no peers registered")
			return nil
		}

		items := make([]pterm.BulletListItem, 0, len(names))
		for _, name := range names {
			items = append(items, pterm.BulletListItem{Level: 0, Text: name})
		}
		return pterm.DefaultBulletList.WithItems(items).Render()
	},
}
