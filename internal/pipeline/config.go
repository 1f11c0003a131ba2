package pipeline

import (
	"errors"
	"fmt"
)

// WorkerCounts sets the pool size per stage.
type WorkerCounts struct {
	Discover int `json:"discover" yaml:"discover"`
	Fetch    int `json:"fetch" yaml:"fetch"`
	Analyze  int `json:"analyze" yaml:"analyze"`
	Persist  int `json:"persist" yaml:"persist"`
}

// QueueCapacities sets the bounded-queue sizes between stages.
type QueueCapacities struct {
	Fetch   int `json:"fetch" yaml:"fetch"`     // Discover -> Fetch
	Analyze int `json:"analyze" yaml:"analyze"` // Fetch -> Analyze
	Persist int `json:"persist" yaml:"persist"` // Analyze -> Persist
}

// RunConfig is the start payload for one pipeline run.
type RunConfig struct {
	Seeds []string `json:"seeds" yaml:"seeds"`

	MaxDepth  int `json:"max_depth" yaml:"max_depth"`
	MaxPapers int `json:"max_papers" yaml:"max_papers"` // 0 means unbounded
	MaxFanout int `json:"max_fanout_per_paper" yaml:"max_fanout_per_paper"`

	Analyze     bool `json:"analyze" yaml:"analyze"`
	Embed       bool `json:"embed" yaml:"embed"`
	UseMetadata bool `json:"use_metadata" yaml:"use_metadata"`
	UseFullText bool `json:"use_full_text" yaml:"use_full_text"`

	Workers          WorkerCounts    `json:"workers" yaml:"workers"`
	Queues           QueueCapacities `json:"queues" yaml:"queues"`
	CheckpointEveryN int             `json:"checkpoint_every_n" yaml:"checkpoint_every_n"`

	Resume bool `json:"resume" yaml:"resume"`
}

// Config validation errors.
var (
	ErrNoSeeds = errors.New("at least one seed is required")
)

// withDefaults fills unset fields with sane values.
func (c RunConfig) withDefaults() RunConfig {
	if c.Workers.Discover <= 0 {
		c.Workers.Discover = 1
	}
	if c.Workers.Fetch <= 0 {
		c.Workers.Fetch = 4
	}
	if c.Workers.Analyze <= 0 {
		c.Workers.Analyze = 2
	}
	if c.Workers.Persist <= 0 {
		c.Workers.Persist = 2
	}
	if c.Queues.Fetch <= 0 {
		c.Queues.Fetch = 64
	}
	if c.Queues.Analyze <= 0 {
		c.Queues.Analyze = 32
	}
	if c.Queues.Persist <= 0 {
		c.Queues.Persist = 32
	}
	if c.CheckpointEveryN <= 0 {
		c.CheckpointEveryN = 500
	}
	if c.MaxFanout <= 0 {
		c.MaxFanout = 100
	}
	return c
}

// validate rejects configurations the pipeline cannot run.
func (c RunConfig) validate() error {
	if len(c.Seeds) == 0 && !c.Resume {
		return ErrNoSeeds
	}
	if c.MaxDepth < 0 {
		return fmt.Errorf("max_depth must be nonnegative, got %d", c.MaxDepth)
	}
	if c.MaxPapers < 0 {
		return fmt.Errorf("max_papers must be positive or zero for unbounded, got %d", c.MaxPapers)
	}
	return nil
}
