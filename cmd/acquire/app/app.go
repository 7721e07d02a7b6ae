package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/roman-kulish/vibrometry/internal/acquisition"
	"github.com/roman-kulish/vibrometry/internal/datafile"
	"github.com/roman-kulish/vibrometry/internal/metadata"
	"github.com/roman-kulish/vibrometry/internal/vibrometer"
	"github.com/roman-kulish/vibrometry/internal/vibrometer/simulator"
)

// SIPrefix names the SI companion of a run file.
const SIPrefix = "SI_"

// Run metadata recorded in the experiment namespace.
const (
	RunIDKey    = "run_id"
	RunIndexKey = "run_index"
	StartedKey  = "started_at"
)

// Run acquires the configured number of runs and writes one file per run.
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	if err := os.MkdirAll(config.Output.Directory, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	sim, err := simulator.New(config.Instrument, simulator.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("creating instrument: %w", err)
	}
	settings := vibrometer.NewSettings(sim)
	if err = configureDevice(ctx, settings, config.Acquisition); err != nil {
		return err
	}

	userMeta, err := config.Mapping()
	if err != nil {
		return err
	}

	acq := acquisition.NewAcquirer(sim, acquisition.WithLogger(logger))
	if err = acq.Start(ctx); err != nil {
		return fmt.Errorf("starting acquirer: %w", err)
	}
	defer acq.Stop()

	writer := datafile.NewWriter(datafile.WithLogger(logger))

	var written uint64
	for run := 1; run <= config.Settings.Runs; run++ {
		path := filepath.Join(config.Output.Directory, fmt.Sprintf("%s_%03d.sqlite", config.Output.Prefix, run))

		size, err := acquireRun(ctx, acq, settings, writer, config, userMeta, run, path)
		if err != nil {
			return fmt.Errorf("run %d: %w", run, err)
		}
		written += size

		if config.Settings.SIConvert {
			siPath := filepath.Join(config.Output.Directory, SIPrefix+filepath.Base(path))
			if err = convert(ctx, path, siPath, config.Output.Overwrite); err != nil {
				return fmt.Errorf("run %d: %w", run, err)
			}
		}
	}

	logger.Info("acquisition complete",
		slog.Int("runs", config.Settings.Runs),
		slog.String("acquired", humanize.Bytes(written)))

	return nil
}

// configureDevice applies the session layout to the instrument so that the
// recorded settings describe the stored blocks.
func configureDevice(ctx context.Context, settings *vibrometer.Settings, cfg acquisition.Config) error {
	if err := settings.Daq.SetBlockSize(ctx, int64(cfg.BlockSize)); err != nil {
		return fmt.Errorf("configuring block size: %w", err)
	}
	if err := settings.Daq.SetBlockCount(ctx, int64(cfg.BlockCount)); err != nil {
		return fmt.Errorf("configuring block count: %w", err)
	}
	if err := settings.Daq.SetTriggerMode(ctx, cfg.TriggerMode); err != nil {
		return fmt.Errorf("configuring trigger mode: %w", err)
	}
	return nil
}

func acquireRun(
	ctx context.Context,
	acq *acquisition.Acquirer,
	settings *vibrometer.Settings,
	writer *datafile.Writer,
	config *Config,
	userMeta metadata.Mapping,
	run int,
	path string,
) (size uint64, err error) {
	started := time.Now().UTC()

	session, err := acq.Arm(ctx, config.Acquisition)
	if err != nil {
		return 0, err
	}
	buf, err := session.Wait(ctx)
	if err != nil {
		if ctx.Err() != nil {
			err = errors.Join(err, session.Discard(context.WithoutCancel(ctx)))
		}
		return 0, err
	}

	meta, err := settings.Metadata(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading device settings: %w", err)
	}
	if err = meta.Merge(userMeta); err != nil {
		return 0, err
	}
	meta.MustSet(metadata.Experiment, RunIDKey, metadata.String(session.ID.String()))
	meta.MustSet(metadata.Experiment, RunIndexKey, metadata.Int(int64(run)))
	meta.MustSet(metadata.Experiment, StartedKey, metadata.String(started.Format(time.RFC3339Nano)))

	if err = writer.OpenFile(ctx, path, config.Output.Overwrite); err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, writer.Discard())
		}
	}()

	if err = writer.WriteChannelData(ctx, buf); err != nil {
		return 0, err
	}
	if err = writer.WriteMetadata(ctx, meta); err != nil {
		return 0, err
	}
	if err = writer.CloseFile(); err != nil {
		return 0, err
	}

	return buf.SizeBytes(), nil
}

func convert(ctx context.Context, path, siPath string, overwrite bool) error {
	r, err := datafile.Open(ctx, path)
	if err != nil {
		return err
	}
	defer r.Close()

	return r.WriteSIDataFile(ctx, siPath, overwrite)
}
