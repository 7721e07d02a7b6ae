package app

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/roman-kulish/vibrometry/internal/export"
	"github.com/roman-kulish/vibrometry/internal/gather"
)

func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	opts := []gather.Option{
		gather.WithOverwrite(config.Overwrite),
		gather.WithLogger(logger),
	}
	if config.OutputFile != "" {
		opts = append(opts, gather.WithOutput(config.OutputFile))
	}
	if config.Concurrency > 0 {
		opts = append(opts, gather.WithConcurrency(config.Concurrency))
	}

	res, err := gather.RecvGatherToOneFile(ctx, config.Directory, config.Prefix, opts...)
	if err != nil {
		return err
	}

	if config.ParquetFile != "" {
		if err = exportParquet(ctx, res.Output, config.ParquetFile, logger); err != nil {
			return fmt.Errorf("exporting parquet: %w", err)
		}
	}
	if config.ImageFile != "" {
		if err = renderSection(ctx, res.Output, config, logger); err != nil {
			return fmt.Errorf("rendering section: %w", err)
		}
	}
	return nil
}

func exportParquet(ctx context.Context, gatherPath, path string, logger *slog.Logger) (err error) {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, out.Close())
		if err != nil {
			_ = os.Remove(path)
		}
	}()

	rows, err := export.WriteGatherParquet(ctx, gatherPath, out)
	if err != nil {
		return err
	}

	info, err := out.Stat()
	if err != nil {
		return err
	}
	logger.Info("parquet export complete",
		slog.String("destination", path),
		slog.String("rows", humanize.Comma(rows)),
		slog.String("size", humanize.Bytes(uint64(info.Size()))))

	return nil
}

func renderSection(ctx context.Context, gatherPath string, config *Config, logger *slog.Logger) (err error) {
	section, err := LoadSection(ctx, gatherPath)
	if err != nil {
		return err
	}

	renderer, err := NewSectionRenderer(RenderConfig{
		ColorTheme:    config.Theme,
		NoAnnotations: config.NoAnnotations,
	})
	if err != nil {
		return fmt.Errorf("creating section renderer: %w", err)
	}

	logger.Info("rendering section",
		slog.Group("image",
			slog.String("destination", config.ImageFile),
			slog.String("format", string(config.Format)),
			slog.String("theme", string(config.Theme)),
			slog.Int("traces", section.Height),
			slog.Int("samples", section.Width),
		))

	img, err := renderer.Render(section)
	if err != nil {
		return err
	}

	out, err := os.Create(config.ImageFile)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, out.Close())
	}()

	return encodeImage(out, img, config.Format)
}

func encodeImage(out *os.File, img image.Image, format ImageFormat) error {
	switch format {
	case ImageJPEG:
		return jpeg.Encode(out, img, &jpeg.Options{Quality: 98})
	default:
		return png.Encode(out, img)
	}
}
