package main

import (
	"fmt"
	"runtime"

	"go-sobel/pkg/sobel"
)

type runConfig struct {
	Input    string
	Output   string
	Mode     string
	Workers  int
	TileSize int
	MaxDim   int
	LogsDir  string
	NoSave   bool
	Verbose  bool
}

func defaultRunConfig() runConfig {
	return runConfig{
		Output:   "output",
		Mode:     string(sobel.ModeClamped),
		Workers:  runtime.GOMAXPROCS(0),
		TileSize: sobel.DefaultTileSize,
		LogsDir:  "logs",
	}
}

func (c runConfig) Validate() error {
	if c.Input == "" {
		return fmt.Errorf("--input is required")
	}
	if _, err := sobel.ParseMode(c.Mode); err != nil {
		return err
	}
	if c.Workers < 1 {
		return fmt.Errorf("--workers must be at least 1, got %d", c.Workers)
	}
	if c.TileSize < 1 {
		return fmt.Errorf("--tile must be at least 1, got %d", c.TileSize)
	}
	if c.MaxDim < 0 {
		return fmt.Errorf("--max-dim must not be negative, got %d", c.MaxDim)
	}
	return nil
}

type serveConfig struct {
	RedisAddr string
	Namespace string
	Mode      string
	InputDir  string
	OutputDir string
	Repr      string
	Workers   int
	TileSize  int
	MaxDim    int
	Verify    bool
}

func defaultServeConfig() serveConfig {
	return serveConfig{
		RedisAddr: "localhost:6379",
		Namespace: "sobel",
		Mode:      "all",
		InputDir:  "/data/input",
		OutputDir: "/data/output",
		Repr:      string(sobel.ModeClamped),
		Workers:   10,
		TileSize:  256,
		Verify:    true,
	}
}

func (c serveConfig) Validate() error {
	switch c.Mode {
	case "coordinator", "worker", "assembler", "all":
	default:
		return fmt.Errorf("invalid mode: %s. Use coordinator, worker, assembler, or all", c.Mode)
	}
	if c.RedisAddr == "" {
		return fmt.Errorf("--redis is required")
	}
	if _, err := sobel.ParseMode(c.Repr); err != nil {
		return err
	}
	if c.Workers < 1 {
		return fmt.Errorf("--workers must be at least 1, got %d", c.Workers)
	}
	if c.TileSize < 1 {
		return fmt.Errorf("--tile must be at least 1, got %d", c.TileSize)
	}
	if c.MaxDim < 0 {
		return fmt.Errorf("--max-dim must not be negative, got %d", c.MaxDim)
	}
	return nil
}
