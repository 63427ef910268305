package main

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Ankesh2004/swarm/internal/config"
	"github.com/Ankesh2004/swarm/internal/peer"
	"github.com/Ankesh2004/swarm/internal/tracker"
)

type rootFlags struct {
	logLevel string
	pretty   bool
	cfg      config.Config
}

func newRootCmd() *cobra.Command {
	rf := &rootFlags{cfg: config.Default()}

	root := &cobra.Command{
		Use:           "swarm",
		Short:         "Chunked file sharing through a central tracker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&rf.logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	pf.BoolVar(&rf.pretty, "pretty", false, "human friendly log output")
	pf.Int64Var(&rf.cfg.ChunkSize, "chunk-size", rf.cfg.ChunkSize, "bytes per chunk, must match across the swarm")
	pf.IntVar(&rf.cfg.MinPort, "min-port", rf.cfg.MinPort, "lowest port for session and serving sockets, 0 lets the kernel pick")
	pf.IntVar(&rf.cfg.MaxPort, "max-port", rf.cfg.MaxPort, "highest port for session and serving sockets")
	pf.IntVar(&rf.cfg.PortAttempts, "port-attempts", rf.cfg.PortAttempts, "random ports tried before giving up")
	pf.DurationVar(&rf.cfg.HandshakeTimeout, "handshake-timeout", rf.cfg.HandshakeTimeout, "bound on each handshake read")

	root.AddCommand(newTrackerCmd(rf), newPeerCmd(rf))
	return root
}

func (rf *rootFlags) logger() (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(rf.logLevel)
	if err != nil {
		return zerolog.Logger{}, err
	}
	var log zerolog.Logger
	if rf.pretty {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
	} else {
		log = zerolog.New(os.Stderr)
	}
	return log.Level(level).With().Timestamp().Logger(), nil
}

func newTrackerCmd(rf *rootFlags) *cobra.Command {
	var (
		listen   string
		portFile string
	)
	cmd := &cobra.Command{
		Use:   "tracker",
		Short: "Run the rendezvous tracker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, err := rf.logger()
			if err != nil {
				return err
			}
			c, err := tracker.New(tracker.Options{
				Config:     rf.cfg,
				ListenAddr: listen,
				Logger:     log,
				Out:        cmd.OutOrStdout(),
			})
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if err := c.Listen(ctx); err != nil {
				return err
			}
			port := c.Addr().(*net.TCPAddr).Port
			if portFile != "" {
				if err := os.WriteFile(portFile, []byte(strconv.Itoa(port)+"\n"), 0644); err != nil {
					return fmt.Errorf("write port file: %w", err)
				}
			}
			return c.Run(ctx)
		},
	}
	f := cmd.Flags()
	f.StringVar(&listen, "listen", ":0", "control address peers connect to")
	f.StringVar(&portFile, "port-file", "", "write the bound control port to this file")
	f.DurationVar(&rf.cfg.AcceptTimeout, "accept-timeout", rf.cfg.AcceptTimeout, "idle time before the task queue is drained")
	f.DurationVar(&rf.cfg.ReconnectTimeout, "reconnect-timeout", rf.cfg.ReconnectTimeout, "how long a session port waits for its peer")
	return cmd
}

func newPeerCmd(rf *rootFlags) *cobra.Command {
	var (
		shared    string
		store     string
		advertise string
		host      string
	)
	cmd := &cobra.Command{
		Use:   "peer <tracker-address> <tracker-port> <min-alive-seconds>",
		Short: "Share the files of a directory and fetch everything else in the swarm",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			trackerPort, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("tracker port: %w", err)
			}
			minAlive, err := strconv.Atoi(args[2])
			if err != nil || minAlive < 0 {
				return fmt.Errorf("min alive time must be a non-negative number of seconds, got %q", args[2])
			}
			rf.cfg.MinAliveTime = time.Duration(minAlive) * time.Second

			log, err := rf.logger()
			if err != nil {
				return err
			}
			a, err := peer.New(peer.Options{
				Config:        rf.cfg,
				TrackerAddr:   net.JoinHostPort(args[0], strconv.Itoa(trackerPort)),
				ListenHost:    host,
				AdvertiseAddr: advertise,
				SharedDir:     shared,
				StoreDir:      store,
				Logger:        log,
				Out:           cmd.OutOrStdout(),
			})
			if err != nil {
				return err
			}
			return a.Run(cmd.Context())
		},
	}
	f := cmd.Flags()
	f.StringVar(&shared, "shared", ".", "directory whose files are offered and where downloads land")
	f.StringVar(&store, "store", ".swarm", "chunk store directory")
	f.StringVar(&advertise, "advertise", "", "address other peers dial, defaults to the tracker-facing address; \"public\" looks it up")
	f.StringVar(&host, "listen-host", "", "interface the chunk responder binds")
	f.DurationVar(&rf.cfg.FetchTimeout, "fetch-timeout", rf.cfg.FetchTimeout, "bound on one direct chunk exchange")
	f.DurationVar(&rf.cfg.RequestInterval, "request-interval", rf.cfg.RequestInterval, "minimum gap between chunk requests")
	return cmd
}
