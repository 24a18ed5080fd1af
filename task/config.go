// Package task defines the payloads exchanged once a device has been selected:
// the task configuration, the global model weights, gradient updates and
// metric records. The communication layer treats all of them as opaque.
package task

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Kind is what a device does with the task.
type Kind string

// Kinds of tasks.
const (
	Train     Kind = "train"
	Inference Kind = "inference"
)

// Schedule names a learning-rate schedule.
type Schedule string

// Learning-rate schedules.
const (
	MultiStep Schedule = "multi_step"
	Cyclical  Schedule = "cyclical"
)

// LRParams holds the learning-rate parameters of a task. UpStep and DownStep
// only apply to the cyclical schedule.
type LRParams struct {
	Schedule  Schedule `yaml:"lr_schedule" json:"lr_schedule"`
	InitialLR float64  `yaml:"initial_lr" json:"initial_lr"`
	UpStep    int      `yaml:"up_step,omitempty" json:"up_step,omitempty"`
	DownStep  int      `yaml:"down_step,omitempty" json:"down_step,omitempty"`
}

// Config is the task configuration a server hands to a device that asks for
// it.
type Config struct {
	TaskName  Kind     `yaml:"task_name" json:"task_name"`
	Model     string   `yaml:"model" json:"model"`
	Optimizer string   `yaml:"optimizer" json:"optimizer"`
	Epochs    int      `yaml:"epochs,omitempty" json:"epochs,omitempty"`
	LRParams  LRParams `yaml:"lr_params" json:"lr_params"`
	Metrics   []string `yaml:"metrics" json:"metrics"`
}

// ErrInvalidConfig is matched by every validation failure.
var ErrInvalidConfig = errors.New("invalid task config")

// DefaultConfig returns a small training task.
func DefaultConfig() Config {
	return Config{
		TaskName:  Train,
		Model:     "simplenet",
		Optimizer: "sgd",
		Epochs:    1,
		LRParams: LRParams{
			Schedule:  MultiStep,
			InitialLR: 0.001,
		},
		Metrics: []string{"accuracy", "nll"},
	}
}

// LoadConfig reads and validates a YAML task configuration file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	return ParseConfig(data)
}

// ParseConfig decodes and validates a YAML task configuration. Unknown keys
// are rejected.
func ParseConfig(data []byte) (Config, error) {
	var c Config

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&c); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if err := c.Validate(); err != nil {
		return Config{}, err
	}

	return c, nil
}

// Validate checks that the configuration describes a runnable task.
func (c Config) Validate() error {
	switch c.TaskName {
	case Train:
		if c.Epochs <= 0 {
			return c.invalid("a training task needs a positive epoch count")
		}
	case Inference:
	default:
		return c.invalid(fmt.Sprintf("unknown task %q", c.TaskName))
	}

	if c.Model == "" {
		return c.invalid("model is required")
	}

	if c.TaskName == Train && c.Optimizer == "" {
		return c.invalid("optimizer is required")
	}

	return c.LRParams.validate()
}

func (c Config) invalid(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, reason)
}

func (p LRParams) validate() error {
	if p.InitialLR < 0 {
		return fmt.Errorf("%w: negative learning rate", ErrInvalidConfig)
	}

	switch p.Schedule {
	case "", MultiStep:
	case Cyclical:
		if p.UpStep <= 0 || p.DownStep <= 0 {
			return fmt.Errorf("%w: cyclical schedule needs up and down steps",
				ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown lr schedule %q",
			ErrInvalidConfig, p.Schedule)
	}

	return nil
}

// Marshal encodes the configuration as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
