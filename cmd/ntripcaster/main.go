// Command ntripcaster runs one NTRIP caster relay station selected from
// a YAML configuration document, grounded on the
// examples/ntrip/server/main.go wiring in the teacher repo and on
// USA-RedDragon/DMRHub's spf13/cobra root-command pattern for argument-
// driven startup.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Nguyen15idhue/ntrip-caster/internal/config"
	"github.com/Nguyen15idhue/ntrip-caster/internal/supervisor"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "ntripcaster",
		Short: "NTRIP caster relay",
	}
	root.AddCommand(newRunCommand())
	return root
}

func newRunCommand() *cobra.Command {
	var configPath, stationName, logLevel string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one station from a configuration document",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStation(configPath, stationName, logLevel)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "caster.yaml", "path to the station configuration document")
	cmd.Flags().StringVar(&stationName, "station", "", "name of the station to start (required)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "logrus log level")
	cmd.MarkFlagRequired("station")

	return cmd
}

func runStation(configPath, stationName, logLevel string) error {
	log := logrus.New()
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}
	log.SetLevel(level)

	doc, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	station, err := doc.Station(stationName)
	if err != nil {
		return err
	}

	sup := supervisor.New(station, doc.Accounts(station), station.SourcetableResponseBody(), log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() {
		runErr <- sup.Run(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.WithField("signal", sig).Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		sup.Shutdown(shutdownCtx)
		cancel()
		<-runErr
		return nil
	case err := <-runErr:
		if err != nil {
			return fmt.Errorf("station %q stopped: %w", stationName, err)
		}
		return nil
	}
}
