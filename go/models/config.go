package models

import (
	"io"
	"io/ioutil"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/shibukawa/configdir"
	"gopkg.in/yaml.v3"
)

const ConfigFile = "ukern.yaml"

type Config struct {
	Watermark   uint64 `yaml:"watermark"`
	PageSize    uint64 `yaml:"page_size"`
	AllocBase   uint64 `yaml:"alloc_base"`
	UserTop     uint64 `yaml:"user_top"`
	MemoryPages int    `yaml:"memory_pages"`

	MaxTasks     int `yaml:"max_tasks"`
	MaxHandles   int `yaml:"max_handles"`
	MaxRegions   int `yaml:"max_regions"`
	MailboxSlots int `yaml:"mailbox_slots"`
	TickRate     int `yaml:"tick_rate"`
	CPUs         int `yaml:"cpus"`

	// "block" waits forever for a request with no timeout, "poll" fails
	// with Timeout unless the response is already there.
	RequestZeroTimeout string `yaml:"request_zero_timeout"`

	SystemName string `yaml:"system_name"`
	Machine    string `yaml:"machine"`

	Color     bool     `yaml:"color"`
	TraceSys  bool     `yaml:"trace_sys"`
	TraceFile string   `yaml:"trace_file"`
	Strsize   int      `yaml:"strsize"`
	Debug     []string `yaml:"debug"`

	Output io.WriteCloser `yaml:"-"`
}

func DefaultConfig() *Config {
	return &Config{
		Watermark:          0x100000,
		PageSize:           4096,
		AllocBase:          0x40000000,
		UserTop:            0xC0000000,
		MemoryPages:        16384,
		MaxTasks:           256,
		MaxHandles:         64,
		MaxRegions:         256,
		MailboxSlots:       256,
		TickRate:           1000,
		CPUs:               1,
		RequestZeroTimeout: "block",
		SystemName:         "ukern",
		Machine:            "sim",
		Strsize:            30,
		Output:             os.Stderr,
	}
}

// ParseConfig applies a yaml document over the defaults.
func ParseConfig(data []byte) (*Config, error) {
	c := DefaultConfig()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, errors.Wrap(err, "failed to parse config")
	}
	return c, c.Validate()
}

// LoadConfig reads path, or the first ukern.yaml in the user and system
// config folders when path is empty. No file at all yields the defaults.
func LoadConfig(path string) (*Config, error) {
	if path != "" {
		data, err := ioutil.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read config")
		}
		return ParseConfig(data)
	}
	configDirs := configdir.New("ukern", "kernel")
	for _, dir := range configDirs.QueryFolders(configdir.All) {
		if data, err := dir.ReadFile(ConfigFile); err == nil {
			return ParseConfig(data)
		}
	}
	return DefaultConfig(), nil
}

func (c *Config) Validate() error {
	if c.PageSize == 0 || c.PageSize&(c.PageSize-1) != 0 {
		return errors.Errorf("page_size %#x is not a power of two", c.PageSize)
	}
	if c.Watermark%c.PageSize != 0 || c.AllocBase%c.PageSize != 0 || c.UserTop%c.PageSize != 0 {
		return errors.New("watermark, alloc_base and user_top must be page aligned")
	}
	if c.Watermark == 0 || c.AllocBase < c.Watermark || c.UserTop <= c.AllocBase {
		return errors.Errorf("bad layout: watermark %#x alloc_base %#x user_top %#x", c.Watermark, c.AllocBase, c.UserTop)
	}
	if c.MemoryPages <= 0 || c.MaxTasks <= 0 || c.MaxHandles <= 0 || c.MaxRegions <= 0 {
		return errors.New("memory_pages, max_tasks, max_handles and max_regions must be positive")
	}
	if c.CPUs <= 0 {
		return errors.Errorf("cpus must be positive, got %d", c.CPUs)
	}
	if c.TickRate <= 0 {
		return errors.Errorf("tick_rate must be positive, got %d", c.TickRate)
	}
	switch strings.ToLower(c.RequestZeroTimeout) {
	case "block", "poll":
	default:
		return errors.Errorf("request_zero_timeout must be block or poll, got %q", c.RequestZeroTimeout)
	}
	return nil
}

func (c *Config) ZeroTimeoutBlocks() bool {
	return strings.ToLower(c.RequestZeroTimeout) != "poll"
}

// Logger builds the kernel logger for this config.
func (c *Config) Logger() *Logger {
	var out io.Writer = os.Stderr
	if c.Output != nil {
		out = c.Output
	}
	l := NewLogger(out, c.Color)
	for _, s := range c.Debug {
		l.Enable(ParseSelectors(s)...)
	}
	return l
}
