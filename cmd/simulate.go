package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/slac/app"
	"github.com/kilianp07/slac/config"
	"github.com/kilianp07/slac/core/events"
	"github.com/kilianp07/slac/core/model"
	"github.com/kilianp07/slac/infra/logger"
	"github.com/kilianp07/slac/infra/transport"
	"github.com/kilianp07/slac/simulator"
)

var (
	simEVMac      string
	simStationMac string
	simRounds     int
	simTimeout    time.Duration
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run one matching attempt against a scripted vehicle",
	RunE:  simulate,
}

func init() {
	simulateCmd.Flags().StringVar(&simEVMac, "ev-mac", "02:00:00:00:00:01", "vehicle hardware address")
	simulateCmd.Flags().StringVar(&simStationMac, "station-mac", "02:00:00:00:00:02", "station hardware address")
	simulateCmd.Flags().IntVar(&simRounds, "rounds", 10, "sounding rounds the vehicle performs")
	simulateCmd.Flags().DurationVar(&simTimeout, "timeout", 10*time.Second, "overall attempt deadline")
	rootCmd.AddCommand(simulateCmd)
}

func simulate(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), simTimeout)
	defer cancel()

	// The simulation is self-contained; a missing config file just means
	// defaults, with no broker and no external transport.
	cfg, err := config.Load(cfgPath)
	if err != nil {
		cfg = &config.Config{}
		cfg.Slac.SetDefaults()
	}
	evMac, err := model.ParseMAC(simEVMac)
	if err != nil {
		return err
	}
	stationMac, err := model.ParseMAC(simStationMac)
	if err != nil {
		return err
	}

	logg := logger.New("simulate")
	stationEnd, evEnd := transport.NewPipe()
	defer stationEnd.Close()
	defer evEnd.Close()

	svc, err := app.New(cfg, stationEnd)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logg.Errorf("service close: %v", err)
		}
	}()

	ev := simulator.New(simulator.Config{
		EVMac:       evMac,
		StationMac:  stationMac,
		Rounds:      simRounds,
		Attenuation: 25,
	}, evEnd)
	go func() {
		if err := ev.Run(ctx); err != nil && ctx.Err() == nil {
			logg.Errorf("simulated vehicle: %v", err)
		}
	}()
	go func() {
		if err := svc.Run(ctx); err != nil && ctx.Err() == nil {
			logg.Errorf("service: %v", err)
		}
	}()

	sub := svc.Bus().Subscribe()
	defer svc.Bus().Unsubscribe(sub)
	svc.RequestAttempt(model.LinkIdentity{EV: evMac, Station: stationMac})

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("attempt did not finish within %s", simTimeout)
		case e := <-sub:
			switch ev := e.(type) {
			case events.AttenuationProfileReady:
				logg.Infof("profile ready: %d samples, group 0 at %d dB",
					ev.Profile.Samples, ev.Profile.Groups[0])
			case events.Matched:
				logg.Infof("matched session %s on %s", ev.SessionID, ev.Link)
				return nil
			case events.Failed:
				return fmt.Errorf("matching failed: %s", ev.Reason)
			case events.TimedOut:
				return fmt.Errorf("matching timed out in state %s", ev.AtState)
			}
		}
	}
}
