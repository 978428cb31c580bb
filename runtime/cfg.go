package runtime

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"

	"github.com/gsdr-platform/gsdr/common/go/logging"
)

// SchedulerKind selects the task dispatch strategy.
type SchedulerKind string

const (
	// SchedulerFlow runs one unpinned task per block with work invocations
	// bounded by the configured worker count.
	SchedulerFlow SchedulerKind = "flow"
	// SchedulerPinned pins each block task to one CPU of a worker-count-sized
	// set for its lifetime.
	SchedulerPinned SchedulerKind = "pinned"
)

// Duration wraps time.Duration with YAML support for "250ms"-style strings.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("failed to parse duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// BlockOverride adjusts buffer parameters for blocks whose name matches a
// glob pattern. The first matching override wins.
type BlockOverride struct {
	// Match is a glob pattern tested against the block name.
	Match string `yaml:"match"`
	// BufferSize overrides the default CPU ring capacity for the block's
	// output buffers.
	BufferSize datasize.ByteSize `yaml:"buffer_size"`
	// MinItems is the minimum-items hint installed on the block's stream
	// ports; the scheduler uses it to coalesce wake-ups.
	MinItems int `yaml:"min_items"`

	pattern glob.Glob
}

// Config is the process-wide runtime configuration. It is read at start and
// not mutated during a run.
type Config struct {
	// Logging configuration.
	Logging logging.Config `yaml:"logging"`
	// BufferSize is the default CPU ring capacity in bytes before item-size
	// rounding. Larger buffers trade memory for throughput. Must be positive.
	BufferSize datasize.ByteSize `yaml:"buffer_size"`
	// QueueSize is the bounded inbox depth in messages. Larger queues trade
	// memory for fewer suspensions. Must be positive.
	QueueSize int `yaml:"queue_size"`
	// Workers bounds concurrently running work invocations under the flow
	// scheduler; under the pinned scheduler it sizes the CPU set tasks are
	// pinned to. Zero means one per CPU; one gives single-threaded dispatch
	// under the flow scheduler.
	Workers int `yaml:"workers"`
	// Scheduler selects the dispatch strategy.
	Scheduler SchedulerKind `yaml:"scheduler"`
	// ShutdownGrace is how long Stop waits for blocks to finish after the
	// Terminate broadcast before abandoning their tasks.
	ShutdownGrace Duration `yaml:"shutdown_grace"`
	// Blocks holds per-block overrides, matched by glob pattern on the block
	// name.
	Blocks []BlockOverride `yaml:"blocks"`
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() *Config {
	return &Config{
		Logging:       *logging.DefaultConfig(),
		BufferSize:    64 * datasize.KB,
		QueueSize:     128,
		Workers:       0,
		Scheduler:     SchedulerFlow,
		ShutdownGrace: Duration(time.Second),
	}
}

// LoadConfig loads the configuration from the given path.
func LoadConfig(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return nil, fmt.Errorf("failed to deserialize config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks value ranges and compiles override patterns.
func (c *Config) Validate() error {
	if c.BufferSize == 0 {
		return fmt.Errorf("buffer_size must be positive")
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("queue_size must be positive")
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative")
	}
	switch c.Scheduler {
	case SchedulerFlow, SchedulerPinned:
	default:
		return fmt.Errorf("unknown scheduler %q", c.Scheduler)
	}
	for i := range c.Blocks {
		o := &c.Blocks[i]
		p, err := glob.Compile(o.Match)
		if err != nil {
			return fmt.Errorf("failed to compile block override pattern %q: %w", o.Match, err)
		}
		o.pattern = p
	}
	return nil
}

// overrideFor returns the first override matching the block name.
func (c *Config) overrideFor(name string) *BlockOverride {
	for i := range c.Blocks {
		o := &c.Blocks[i]
		if o.pattern == nil {
			// Tolerate configs assembled in code without Validate.
			p, err := glob.Compile(o.Match)
			if err != nil {
				continue
			}
			o.pattern = p
		}
		if o.pattern.Match(name) {
			return o
		}
	}
	return nil
}

var processConfig atomic.Pointer[Config]

func init() {
	processConfig.Store(DefaultConfig())
}

// CurrentConfig returns the process-wide runtime configuration. The result
// must be treated as read-only.
func CurrentConfig() *Config {
	return processConfig.Load()
}

// SetConfig installs cfg as the process-wide configuration. It must be called
// before any flowgraph is started; the configuration is read-only after that.
func SetConfig(cfg *Config) {
	processConfig.Store(cfg)
}
