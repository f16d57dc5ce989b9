package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mastercactapus/zstage/coord"
	"github.com/mastercactapus/zstage/stage"
	"github.com/mastercactapus/zstage/transport"
)

// Config holds the zstage settings, loaded from YAML on top of defaults.
type Config struct {
	Serial struct {
		Port       string `yaml:"port"`
		SPJS       string `yaml:"spjs"`
		Baud       int    `yaml:"baud"`
		TimeoutMS  int    `yaml:"timeout_ms"`
		Checksum   bool   `yaml:"checksum"`
		MessageIDs bool   `yaml:"message_ids"`
	} `yaml:"serial"`
	Stage struct {
		// Device is the address of the stage; 0 discovers it.
		Device         int          `yaml:"device"`
		XLimitsMM      [2]float64   `yaml:"x_limits_mm"`
		YLimitsMM      [2]float64   `yaml:"y_limits_mm"`
		// Region is a keep-in outline in mm, vertices in order.
		Region         [][2]float64 `yaml:"region"`
		MaxSpeedMMPS   float64      `yaml:"maxspeed_mmps"`
		PollIntervalMS int          `yaml:"poll_interval_ms"`
		SkipStartup    bool         `yaml:"skip_startup"`
	} `yaml:"stage"`
	Web struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"web"`
	Trace struct {
		Path string `yaml:"path"`
	} `yaml:"trace"`
	Log struct {
		Level string `yaml:"level"`
		JSON  bool   `yaml:"json"`
	} `yaml:"log"`
}

// DefaultConfig returns the settings of an X-ADR130 on /dev/ttyUSB0.
func DefaultConfig() Config {
	var cfg Config
	cfg.Serial.Port = "/dev/ttyUSB0"
	cfg.Serial.Baud = transport.DefaultBaud
	cfg.Serial.TimeoutMS = int(transport.DefaultTimeout / time.Millisecond)
	cfg.Stage.Device = 1
	cfg.Stage.XLimitsMM = [2]float64{0, 130}
	cfg.Stage.YLimitsMM = [2]float64{0, 100}
	cfg.Stage.MaxSpeedMMPS = stage.DefaultMaxSpeed
	cfg.Stage.PollIntervalMS = int(stage.DefaultPollInterval / time.Millisecond)
	cfg.Log.Level = "info"
	return cfg
}

// LoadConfig reads a YAML file on top of the defaults. An empty path
// returns the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if len(data) == 0 {
		return cfg, errors.New("config file is empty")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func (cfg Config) Timeout() time.Duration {
	return time.Duration(cfg.Serial.TimeoutMS) * time.Millisecond
}

func (cfg Config) PollInterval() time.Duration {
	return time.Duration(cfg.Stage.PollIntervalMS) * time.Millisecond
}

func (cfg Config) Limits() coord.Limits {
	return coord.Limits{
		Min: coord.Point{X: cfg.Stage.XLimitsMM[0], Y: cfg.Stage.YLimitsMM[0]},
		Max: coord.Point{X: cfg.Stage.XLimitsMM[1], Y: cfg.Stage.YLimitsMM[1]},
	}
}

// Region returns the keep-in region, or nil when none is configured.
func (cfg Config) Region() (*coord.Region, error) {
	if len(cfg.Stage.Region) == 0 {
		return nil, nil
	}
	pts := make([]coord.Point, len(cfg.Stage.Region))
	for i, p := range cfg.Stage.Region {
		pts[i] = coord.Point{X: p[0], Y: p[1]}
	}
	return coord.NewRegion(pts)
}

func (cfg Config) XYConfig() (stage.XYConfig, error) {
	region, err := cfg.Region()
	if err != nil {
		return stage.XYConfig{}, fmt.Errorf("region: %w", err)
	}
	return stage.XYConfig{
		Limits:   cfg.Limits(),
		Region:   region,
		MaxSpeed: cfg.Stage.MaxSpeedMMPS,
	}, nil
}

func (cfg Config) LogLevel() (slog.Level, error) {
	var l slog.Level
	err := l.UnmarshalText([]byte(cfg.Log.Level))
	return l, err
}
