package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/berrycraft/mirrorpeer/internal/config"
	"github.com/berrycraft/mirrorpeer/internal/coordinator"
	"github.com/berrycraft/mirrorpeer/internal/logging"
	"github.com/berrycraft/mirrorpeer/internal/recorder"
	"github.com/berrycraft/mirrorpeer/internal/scenario"
	"github.com/berrycraft/mirrorpeer/internal/selection"
	"github.com/berrycraft/mirrorpeer/internal/session"
	"github.com/berrycraft/mirrorpeer/internal/transport"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to the counterpart and run a recording session",
	Long: `Run establishes the peer link and drives the configured number of
episodes. Both peers must be started with the same seed, episode plan,
and scenario settings; the counterpart is expected to come up within
the dial timeout.`,
	RunE: runSession,
}

func init() {
	runCmd.Flags().String("name", "", "this peer's name")
	runCmd.Flags().String("peer-name", "", "counterpart's name")
	runCmd.Flags().String("listen", "", "local listen address (host:port)")
	runCmd.Flags().String("peer", "", "counterpart address (host:port)")
	runCmd.Flags().IntP("episodes", "n", 0, "number of episodes to run")
	runCmd.Flags().Int("start-episode", 0, "first episode number")
	runCmd.Flags().Uint64("seed", 0, "shared base seed")
	runCmd.Flags().Bool("smoke-test", false, "cycle scenario types alphabetically instead of weighted sampling")
	runCmd.Flags().Bool("flat-world", false, "allow flat-world-only scenario types")

	_ = viper.BindPFlag("peer.name", runCmd.Flags().Lookup("name"))
	_ = viper.BindPFlag("peer.peer_name", runCmd.Flags().Lookup("peer-name"))
	_ = viper.BindPFlag("peer.listen_addr", runCmd.Flags().Lookup("listen"))
	_ = viper.BindPFlag("peer.peer_addr", runCmd.Flags().Lookup("peer"))
	_ = viper.BindPFlag("session.episodes", runCmd.Flags().Lookup("episodes"))
	_ = viper.BindPFlag("session.start_episode", runCmd.Flags().Lookup("start-episode"))
	_ = viper.BindPFlag("session.seed", runCmd.Flags().Lookup("seed"))
	_ = viper.BindPFlag("session.smoke_test", runCmd.Flags().Lookup("smoke-test"))
	_ = viper.BindPFlag("scenarios.flat_world", runCmd.Flags().Lookup("flat-world"))

	rootCmd.AddCommand(runCmd)
}

func runSession(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	log, err := logging.New(cfg.Logging.Dir, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	defer log.Close()
	log = log.WithPeer(cfg.Peer.Name)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := scenario.Builtin()
	cat := selection.NewCatalog(reg)
	if cfg.Scenarios.DurationsFile != "" {
		if err := cat.LoadOverrides(cfg.Scenarios.DurationsFile); err != nil {
			return err
		}
	}

	var rec recorder.Recorder = recorder.Nop{}
	if cfg.Recorder.Enabled {
		rec = recorder.NewWatched(cfg.Recorder.Dir, log)
	}

	link := transport.New(transport.Config{
		ListenAddr:   cfg.Peer.ListenAddr,
		PeerAddr:     cfg.Peer.PeerAddr,
		DialTimeout:  cfg.Peer.DialTimeout(),
		MaxLineBytes: cfg.Peer.MaxLineBytes,
	}, log)
	defer link.Close()

	coord := coordinator.New(cfg.Peer.Name, cfg.Peer.PeerName, link, log,
		coordinator.WithErrorSink(func(err error) {
			log.Error("phase handler failed", "error", err.Error())
		}))
	defer coord.Close()
	link.SetHandler(coord.Dispatch)

	// A dropped link cannot be resumed mid-session; the episode in
	// flight aborts and the session ends.
	linkCtx, cancelLink := context.WithCancel(ctx)
	defer cancelLink()
	link.OnDisconnect(func(err error) {
		log.Error("peer link lost, ending session", "error", err.Error())
		cancelLink()
	})

	log.Info("establishing peer link",
		"listen", cfg.Peer.ListenAddr,
		"peer", cfg.Peer.PeerAddr)
	if err := link.Start(ctx); err != nil {
		return fmt.Errorf("establish peer link: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Connected to %s at %s\n", cfg.Peer.PeerName, cfg.Peer.PeerAddr)

	driver := session.New(session.Config{
		Episodes:     cfg.Session.Episodes,
		StartEpisode: cfg.Session.StartEpisode,
		Seed:         cfg.Session.Seed,
		SmokeTest:    cfg.Session.SmokeTest,
		Enabled:      cfg.Scenarios.Enabled,
		FlatWorld:    cfg.Scenarios.FlatWorld,
		StopTimeout:  cfg.Session.StopTimeout(),
	}, coord, reg, cat, rec, log)

	summary, err := driver.Run(linkCtx)
	fmt.Fprintf(cmd.OutOrStdout(), "Session finished: %d completed, %d aborted\n",
		summary.Completed, summary.Aborted)
	for _, st := range summary.Statuses {
		if st.Aborted {
			fmt.Fprintf(cmd.OutOrStdout(), "  episode %d (%s): aborted: %v\n", st.Episode, st.Scenario, st.Cause)
		}
	}
	return err
}
