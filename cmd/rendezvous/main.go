package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rudransh-shrivastava/peer-chat/internal/config"
	"github.com/rudransh-shrivastava/peer-chat/internal/db"
	"github.com/rudransh-shrivastava/peer-chat/internal/directory"
	"github.com/rudransh-shrivastava/peer-chat/internal/logger"
	"github.com/rudransh-shrivastava/peer-chat/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configPath string
	flagAddr   string
	flagStore  string
	flagDSN    string
)

var rootCmd = &cobra.Command{
	Use:           `rendezvous`,
	Long:          `rendezvous is the peer directory: peers register their address here and look each other up`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadRendezvous(configPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("addr") {
			cfg.Addr = flagAddr
		}
		if cmd.Flags().Changed("store") {
			cfg.Store = flagStore
		}
		if cmd.Flags().Changed("dsn") {
			cfg.DSN = flagDSN
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		log := logger.NewLogger()
		if lvl, err := logger.ParseLevel(cfg.LogLevel); err == nil {
			log.SetLevel(lvl)
		}

		registry, closeStore, err := openRegistry(cfg, log)
		if err != nil {
			return err
		}
		defer closeStore()

		srv, err := directory.NewServer(directory.Config{
			Addr:     cfg.Addr,
			Logger:   log,
			Registry: registry,
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func openRegistry(cfg config.Rendezvous, log *logrus.Logger) (directory.Registry, func(), error) {
	if cfg.Store == config.StoreMemory {
		log.Info("Using in-memory peer store")
		return store.NewMemoryStore(), func() {}, nil
	}

	gdb, err := db.Open(cfg.DSN)
	if err != nil {
		return nil, nil, err
	}
	log.WithField("dsn", cfg.DSN).Info("Using SQLite peer store")

	s := store.NewSQLStore(gdb)
	return s, func() {
		if err := s.Close(); err != nil {
			log.WithField("error", err).Warn("Failed to close peer store")
		}
	}, nil
}

func main() {
	f := rootCmd.Flags()
	f.StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	f.StringVar(&flagAddr, "addr", "", "address to serve the HTTP API on")
	f.StringVar(&flagStore, "store", "", "peer store: memory or sqlite")
	f.StringVar(&flagDSN, "dsn", "", "SQLite database path")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "rendezvous:", err)
		os.Exit(1)
	}
}
