package app

import (
	"errors"
	"flag"
	"fmt"
	"path/filepath"
)

// SIPrefix is prepended to the input file name when no output is given.
const SIPrefix = "SI_"

type Config struct {
	InputFiles []string
	OutputDir  string
	Overwrite  bool
}

func NewConfigFromCLI() (*Config, error) {
	c := Config{}

	flag.StringVar(&c.OutputDir, "o", "", "Output directory (default: next to each input)")
	flag.BoolVar(&c.Overwrite, "overwrite", false, "Replace existing SI files")
	flag.Usage = func() {
		fmt.Fprintln(flag.CommandLine.Output(), "Usage: siconvert [-o dir] [-overwrite] run.sqlite...")
		flag.PrintDefaults()
	}
	flag.Parse()

	c.InputFiles = flag.Args()
	if len(c.InputFiles) == 0 {
		flag.Usage()
		return nil, errors.New("at least one run file is required")
	}

	return &c, nil
}

// OutputPath returns the SI file path for input.
func (c *Config) OutputPath(input string) string {
	dir := c.OutputDir
	if dir == "" {
		dir = filepath.Dir(input)
	}
	return filepath.Join(dir, SIPrefix+filepath.Base(input))
}
