package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/roman-kulish/vibrometry/internal/datafile"
)

// Run writes the SI companion of every input. Inputs are converted in order
// and the first failure stops the run.
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	if config.OutputDir != "" {
		if err := os.MkdirAll(config.OutputDir, 0o755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
	}

	for _, input := range config.InputFiles {
		if err := ctx.Err(); err != nil {
			return err
		}

		output := config.OutputPath(input)
		if err := convert(ctx, input, output, config.Overwrite); err != nil {
			return fmt.Errorf("converting %s: %w", input, err)
		}

		attrs := []any{slog.String("input", input), slog.String("output", output)}
		if info, err := os.Stat(output); err == nil {
			attrs = append(attrs, slog.String("size", humanize.Bytes(uint64(info.Size()))))
		}
		logger.Info("SI file written", attrs...)
	}

	return nil
}

func convert(ctx context.Context, input, output string, overwrite bool) (err error) {
	r, err := datafile.Open(ctx, input)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, r.Close())
	}()

	return r.WriteSIDataFile(ctx, output, overwrite)
}
