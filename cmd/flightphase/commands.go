package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/yegors/flightphase/internal/adsb"
	"github.com/yegors/flightphase/internal/api"
	"github.com/yegors/flightphase/internal/archive"
	"github.com/yegors/flightphase/internal/config"
	"github.com/yegors/flightphase/internal/pipeline"
	"github.com/yegors/flightphase/internal/storage/sqlite"
	"github.com/yegors/flightphase/pkg/logger"
)

func openStore(cfg *config.Config, log *logger.Logger) (*sqlite.Store, error) {
	// Ensure the directory exists
	dir := filepath.Dir(cfg.Storage.SQLitePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
	}

	store, err := sqlite.NewStore(cfg.Storage.SQLitePath, log, sqlite.WithPositionsTable(cfg.Storage.PositionsTable))
	if err != nil {
		return nil, err
	}
	log.Info("Using SQLite storage", logger.String("path", cfg.Storage.SQLitePath))
	return store, nil
}

func runImport(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	if cfg.Input.CSVPath == "" {
		return errors.New("input csv_path is not configured")
	}

	store, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	_, err = importCSV(ctx, cfg, store, log)
	return err
}

func importCSV(ctx context.Context, cfg *config.Config, store *sqlite.Store, log *logger.Logger) (int, error) {
	f, err := os.Open(cfg.Input.CSVPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open positions file: %w", err)
	}
	defer f.Close()

	reports, err := adsb.ReadCSV(f, cfg.CSVOptions())
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", cfg.Input.CSVPath, err)
	}

	inserted, err := store.InsertPositions(ctx, reports)
	if err != nil {
		return 0, err
	}

	log.Info("Imported positions",
		logger.String("path", cfg.Input.CSVPath),
		logger.Int("read", len(reports)),
		logger.Int("inserted", inserted))
	return inserted, nil
}

func runExtract(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	start := time.Now()

	store, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	if cfg.Input.Source == "csv" {
		if _, err := importCSV(ctx, cfg, store, log); err != nil {
			return err
		}
	}

	pc, err := cfg.Pipeline()
	if err != nil {
		return err
	}
	p, err := pipeline.New(pc, log)
	if err != nil {
		return err
	}

	ids, err := store.EligibleAircraft(ctx, pc.Flights.MinSamples)
	if err != nil {
		return err
	}
	log.Info("Found eligible aircraft",
		logger.Int("count", len(ids)),
		logger.Int("min_samples", pc.Flights.MinSamples))

	// results of an earlier run with other settings would linger otherwise
	if err := store.ClearResults(ctx); err != nil {
		return err
	}

	var bundle *archive.Bundle
	if cfg.Storage.ArchivePath != "" {
		bundle = archive.NewBundle(time.Now().Unix())
	}

	var total pipeline.Summary
	for lo := 0; lo < len(ids); lo += pc.ChunkSize {
		hi := min(lo+pc.ChunkSize, len(ids))

		reports, err := store.LoadPositions(ctx, ids[lo:hi]...)
		if err != nil {
			return err
		}

		results, err := p.Run(ctx, reports)
		if err != nil {
			return fmt.Errorf("extraction interrupted: %w", err)
		}

		for _, res := range results {
			for _, fr := range res.Flights {
				if err := store.SaveFlight(ctx, fr.Flight, fr.Segments); err != nil {
					return err
				}
				if bundle != nil {
					bundle.Add(fr.Flight, fr.Segments)
				}
			}
		}

		sum := pipeline.Summarize(results)
		total.Add(sum)
		log.Info("Processed chunk",
			logger.Int("from", lo),
			logger.Int("to", hi),
			logger.Int("reports", len(reports)),
			logger.Int("flights", sum.Flights),
			logger.Int("segments", sum.Segments))
	}

	if bundle != nil {
		if err := archive.Write(cfg.Storage.ArchivePath, bundle); err != nil {
			return err
		}
		log.Info("Wrote archive",
			logger.String("path", cfg.Storage.ArchivePath),
			logger.Int("flights", len(bundle.Flights)),
			logger.Int("segments", len(bundle.Segments)))
	}

	log.Info("Extraction complete",
		logger.Int("aircraft", total.Aircraft),
		logger.Int("ok", total.OK),
		logger.Int("insufficient_data", total.InsufficientData),
		logger.Int("shape_mismatch", total.ShapeMismatch),
		logger.Int("failed", total.Failed),
		logger.Int("flights", total.Flights),
		logger.Int("segments", total.Segments),
		logger.Duration("duration", time.Since(start)))
	return nil
}

func runServe(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	store, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	pc, err := cfg.Pipeline()
	if err != nil {
		return err
	}
	p, err := pipeline.New(pc, log)
	if err != nil {
		return err
	}

	router := api.NewRouter(api.NewHandler(store, p.Classifier(), log), log)
	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:      router.Routes(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSecs) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}
	log.Info("HTTP server shutdown complete")
	return nil
}
