package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
)

const (
	ImagePNG  = "png"
	ImageJPEG = "jpeg"
)

type ImageFormat string

var validImageFormats = map[ImageFormat]struct{}{
	ImagePNG:  {},
	ImageJPEG: {},
}

type Config struct {
	Directory     string
	Prefix        string
	OutputFile    string
	Overwrite     bool
	Concurrency   int
	ParquetFile   string
	ImageFile     string
	Format        ImageFormat
	Theme         ColorTheme
	NoAnnotations bool
	Verbose       bool
}

func NewConfig() *Config {
	return &Config{
		Directory: ".",
		Format:    ImagePNG,
		Theme:     SeismicTheme,
	}
}

func NewConfigFromCLI() (*Config, error) {
	return parseFlags(flag.CommandLine, os.Args[1:])
}

func parseFlags(fs *flag.FlagSet, args []string) (*Config, error) {
	c := NewConfig()

	var imageFormat, theme string
	fs.StringVar(&c.Directory, "d", c.Directory, "Directory holding the run files")
	fs.StringVar(&c.Prefix, "p", "", "Run file prefix, files are matched as <prefix>_*")
	fs.StringVar(&c.OutputFile, "o", "", "Path to the gather file (default: <dir>/<prefix>-gather.sqlite)")
	fs.BoolVar(&c.Overwrite, "overwrite", false, "Replace an existing gather file")
	fs.IntVar(&c.Concurrency, "j", 0, "Number of run files validated in parallel (default: number of CPUs)")
	fs.StringVar(&c.ParquetFile, "parquet", "", "Also export the traces to this parquet file")
	fs.StringVar(&c.ImageFile, "image", "", "Also render the section to this image file, without extension")
	fs.StringVar(&imageFormat, "f", string(ImagePNG), "Section image format. [png, jpeg]")
	fs.StringVar(&theme, "theme", string(SeismicTheme), "Section color theme. [seismic, classic, grayscale, thermal]")
	fs.BoolVar(&c.NoAnnotations, "no-annotations", false, "Disable the time and trace scales on the section image")
	fs.BoolVar(&c.Verbose, "verbose", false, "Enable more verbose output")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	imageFormat = strings.ToLower(imageFormat)
	theme = strings.ToLower(theme)

	var err error
	if c.Prefix == "" {
		err = errors.New("prefix is required")
	} else if c.Concurrency < 0 {
		err = fmt.Errorf("invalid concurrency: %d", c.Concurrency)
	} else if _, ok := validImageFormats[ImageFormat(imageFormat)]; !ok {
		err = fmt.Errorf("invalid image format: %s", imageFormat)
	} else if _, ok = colorThemes[ColorTheme(theme)]; !ok {
		err = fmt.Errorf("invalid color theme: %s", theme)
	}

	if err != nil {
		fs.Usage()
		return nil, err
	}

	c.Format = ImageFormat(imageFormat)
	c.Theme = ColorTheme(theme)
	if c.ImageFile != "" {
		c.ImageFile = fmt.Sprintf("%s.%s", c.ImageFile, c.Format)
	}
	return c, nil
}
