package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/the-dev-tools/dev-tools/packages/sync/pkg/opqueue"
)

// Config is the sync profile loaded from YAML. SYNC_ENDPOINT and
// SYNC_WORKSPACE env vars override the file.
type Config struct {
	Endpoint    string       `yaml:"endpoint"`
	Workspace   string       `yaml:"workspace"`
	JournalPath string       `yaml:"journalPath"`
	Tuning      TuningConfig `yaml:"tuning"`
}

type TuningConfig struct {
	EditAttemptBudget       int      `yaml:"editAttemptBudget"`
	StructuralAttemptBudget int      `yaml:"structuralAttemptBudget"`
	BackoffUnit             Duration `yaml:"backoffUnit"`
	EditWatchdog            Duration `yaml:"editWatchdog"`
	StructuralWatchdog      Duration `yaml:"structuralWatchdog"`
}

// Duration parses yaml durations written as Go duration strings ("500ms").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func LoadConfig(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	if v := os.Getenv("SYNC_ENDPOINT"); v != "" {
		cfg.Endpoint = v
	}
	if v := os.Getenv("SYNC_WORKSPACE"); v != "" {
		cfg.Workspace = v
	}

	if cfg.Endpoint == "" {
		return Config{}, errors.New("endpoint is required (config file or SYNC_ENDPOINT)")
	}
	if cfg.Workspace == "" {
		return Config{}, errors.New("workspace is required (config file or SYNC_WORKSPACE)")
	}
	return cfg, nil
}

func (c Config) QueueTuning() opqueue.Tuning {
	return opqueue.Tuning{
		EditAttemptBudget:       c.Tuning.EditAttemptBudget,
		StructuralAttemptBudget: c.Tuning.StructuralAttemptBudget,
		BackoffUnit:             time.Duration(c.Tuning.BackoffUnit),
		EditWatchdog:            time.Duration(c.Tuning.EditWatchdog),
		StructuralWatchdog:      time.Duration(c.Tuning.StructuralWatchdog),
	}
}
