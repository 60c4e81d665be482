package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/amariano/bodysync/internal/adapter"
	"github.com/amariano/bodysync/internal/adapter/csvfile"
	"github.com/amariano/bodysync/internal/adapter/mailbox"
	"github.com/amariano/bodysync/internal/client/garmin"
	"github.com/amariano/bodysync/internal/config"
	"github.com/amariano/bodysync/internal/measurement"
	"github.com/amariano/bodysync/internal/paths"
	"github.com/amariano/bodysync/internal/state"
	"github.com/amariano/bodysync/internal/syncer"
	"github.com/amariano/bodysync/internal/uploader"
	"github.com/amariano/bodysync/internal/xslog"
)

func runSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := config.Read()
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	if cfg.Garmin.Email == "" || cfg.Garmin.Password == "" {
		return fmt.Errorf("GARMIN_EMAIL and GARMIN_PASSWORD are required")
	}

	level, err := xslog.Parse(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := xslog.NewLogger(os.Stderr, level, xslog.Format(cfg.LogFormat))

	if _, err := paths.EnsureDir(); err != nil {
		return err
	}

	statePath := cfg.Sync.StatePath
	if statePath == "" {
		if statePath, err = paths.State(); err != nil {
			return err
		}
	}
	tokenPath := cfg.Sync.TokenPath
	if tokenPath == "" {
		if tokenPath, err = paths.Token(); err != nil {
			return err
		}
	}

	store, err := state.Open(statePath)
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}
	defer func() {
		_ = store.Close()
	}()

	client := garmin.New(
		garmin.Credentials{Email: cfg.Garmin.Email, Password: cfg.Garmin.Password},
		garmin.WithBaseURL(cfg.Garmin.BaseURL),
		garmin.WithSSOURL(cfg.Garmin.SSOURL),
		garmin.WithTimeout(cfg.Garmin.Timeout),
		garmin.WithTokenCache(garmin.NewFileTokenCache(tokenPath)),
		garmin.WithLogger(logger),
	)

	loc, err := time.LoadLocation(cfg.Input.TimeZone)
	if err != nil {
		return fmt.Errorf("invalid INPUT_TIME_ZONE %q: %w", cfg.Input.TimeZone, err)
	}

	unit := adapter.WeightUnit(cfg.Input.WeightUnit)
	switch unit {
	case adapter.UnitKilograms, adapter.UnitPounds, adapter.UnitStones:
	default:
		return fmt.Errorf("invalid INPUT_WEIGHT_UNIT %q: want kg, lb, or st", cfg.Input.WeightUnit)
	}

	mapping := csvfile.DefaultMapping()
	if cfg.Input.MappingFile != "" {
		if mapping, err = csvfile.LoadMapping(cfg.Input.MappingFile); err != nil {
			return fmt.Errorf("failed to load column mapping: %w", err)
		}
	}

	sourceOpts := []csvfile.Option{csvfile.WithLogger(logger)}
	if cfg.Input.FilterByUser != "" {
		sourceOpts = append(sourceOpts, csvfile.WithUserFilter(cfg.Input.FilterByUser))
	}
	source := csvfile.New(cfg.Input.Dir, cfg.Input.FileMask, mapping, sourceOpts...)

	normalizer := measurement.NewNormalizer(cfg.Input.TimeFormat, loc, unit)
	engine := uploader.NewEngine(client.Weight, logger,
		uploader.WithConcurrency(cfg.Sync.Concurrency))

	syncOpts := []syncer.Option{
		syncer.WithStateStore(store),
		syncer.WithTolerance(cfg.Sync.ToleranceKG),
		syncer.WithLookback(cfg.Sync.Lookback),
		syncer.WithDryRun(cfg.Sync.DryRun),
		syncer.WithDeleteExisting(cfg.Sync.DeleteExisting),
	}
	if cfg.Mailbox.Enabled {
		fetcher := mailbox.NewFetcher(cfg.Mailbox.Host, cfg.Mailbox.Username,
			cfg.Mailbox.Password, cfg.Mailbox.Folder, cfg.Input.Dir, logger)
		syncOpts = append(syncOpts, syncer.WithMailFetcher(fetcher))
	}

	s := syncer.New(source, normalizer, client.Weight, engine, logger, syncOpts...)

	summary, err := s.Run(ctx)
	if summary != nil {
		fmt.Println(summary.String())
	}
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}
	if !summary.Ok() {
		return fmt.Errorf("sync completed with %d failed and %d aborted record(s)",
			summary.Failed, summary.Aborted)
	}
	return nil
}
