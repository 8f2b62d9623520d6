package cmd

import (
	"github.com/rudransh-shrivastava/peer-chat/internal/config"
	"github.com/rudransh-shrivastava/peer-chat/internal/directory"
	"github.com/rudransh-shrivastava/peer-chat/internal/logger"
	"github.com/rudransh-shrivastava/peer-chat/internal/peer"
	"github.com/rudransh-shrivastava/peer-chat/internal/protocol"
	"github.com/rudransh-shrivastava/peer-chat/internal/session"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// loadPeerConfig reads --config and applies the flags the user set.
func loadPeerConfig(cmd *cobra.Command) (config.Peer, error) {
	cfg, err := config.LoadPeer(configPath)
	if err != nil {
		return config.Peer{}, err
	}

	flags := cmd.Flags()
	override := func(name string, dst *string, val string) {
		if flags.Changed(name) {
			*dst = val
		}
	}
	override("username", &cfg.Username, flagUsername)
	override("directory", &cfg.Directory, flagDirectory)
	override("log-level", &cfg.LogLevel, flagLogLevel)
	override("listen", &cfg.Listen, flagListen)
	override("advertise", &cfg.Advertise, flagAdvertise)
	override("wire", &cfg.Wire, flagWire)
	override("download-dir", &cfg.DownloadDir, flagDownloadDir)

	return cfg, nil
}

func newLogger(level string) *logrus.Logger {
	log := logger.NewLogger()
	if lvl, err := logger.ParseLevel(level); err == nil {
		log.SetLevel(lvl)
	}
	return log
}

func newDirectoryClient(cfg config.Peer) *directory.Client {
	return directory.NewClient(cfg.Directory, nil)
}

func newNode(cfg config.Peer, log *logrus.Logger) (*peer.Node, error) {
	codec, err := protocol.NewCodec(cfg.Wire)
	if err != nil {
		return nil, err
	}
	policy, err := session.ParseDuplicatePolicy(cfg.OnDuplicateConnect)
	if err != nil {
		return nil, err
	}

	return peer.New(peer.Config{
		Username:        cfg.Username,
		Addr:            cfg.Listen,
		AdvertiseHost:   cfg.Advertise,
		STUNServer:      cfg.STUNServer,
		Directory:       newDirectoryClient(cfg),
		Codec:           codec,
		DialTimeout:     cfg.DialTimeout,
		MaxFrameBytes:   cfg.MaxFrameBytes,
		DuplicatePolicy: policy,
		EventBuffer:     cfg.EventBuffer,
		Logger:          log,
	})
}
