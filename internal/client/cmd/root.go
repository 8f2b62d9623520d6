package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath    string
	flagUsername  string
	flagDirectory string
	flagLogLevel  string
)

var rootCmd = &cobra.Command{
	Use:          `peerchat`,
	Long:         `peerchat is a peer to peer chat and file transfer application`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "peerchat:", err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	pf.StringVarP(&flagUsername, "username", "u", "", "username to register as")
	pf.StringVar(&flagDirectory, "directory", "", "URL of the rendezvous service")
	pf.StringVar(&flagLogLevel, "log-level", "", "debug, info, warn or error")

	rootCmd.SilenceErrors = true
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(peersCmd)
	rootCmd.AddCommand(lookupCmd)
}
