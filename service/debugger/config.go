package debugger

import (
	"io"
	"time"

	"github.com/dapbridge/dapbridge/pkg/config"
)

// MaxReadMemory is the largest count accepted by ReadMemory.
const MaxReadMemory = 65536

// Config provides the configuration of a Manager.
type Config struct {
	// AdapterPath is used when attach does not name an adapter.
	AdapterPath string
	// AdapterArgs are passed to the adapter executable.
	AdapterArgs []string
	// LogDir receives one event log per session.
	LogDir string

	RequestTimeout    time.Duration
	StopTimeout       time.Duration
	InitializeTimeout time.Duration
	// InitializedWait bounds the wait for the adapter's initialized event
	// during attach. Expiry is not an error.
	InitializedWait   time.Duration
	DisconnectTimeout time.Duration
	// OutputWait is how long console waits for output after the adapter
	// answered.
	OutputWait time.Duration

	SafePointMarker string
	Probe           config.ProbeConfig
	MaxOutputEvents int

	// Dial, if set, replaces spawning the adapter executable.
	Dial func(adapterPath string) (io.ReadWriteCloser, error)
}

// NewConfig derives a Manager configuration from the configuration file.
func NewConfig(conf *config.Config) Config {
	conf.Fill()
	return Config{
		AdapterPath:       conf.ResolveAdapterPath(""),
		LogDir:            conf.LogDir,
		RequestTimeout:    conf.RequestTimeout,
		StopTimeout:       conf.StopTimeout,
		InitializeTimeout: 5 * time.Second,
		InitializedWait:   5 * time.Second,
		DisconnectTimeout: 5 * time.Second,
		OutputWait:        300 * time.Millisecond,
		SafePointMarker:   conf.SafePointMarker,
		Probe:             conf.Probe,
		MaxOutputEvents:   conf.MaxOutputEvents,
	}
}

func (c *Config) fill() {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = config.DefaultRequestTimeout
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = config.DefaultStopTimeout
	}
	if c.InitializeTimeout <= 0 {
		c.InitializeTimeout = 5 * time.Second
	}
	if c.InitializedWait <= 0 {
		c.InitializedWait = 5 * time.Second
	}
	if c.DisconnectTimeout <= 0 {
		c.DisconnectTimeout = 5 * time.Second
	}
	if c.OutputWait <= 0 {
		c.OutputWait = 300 * time.Millisecond
	}
	if c.SafePointMarker == "" {
		c.SafePointMarker = config.DefaultSafePointMarker
	}
	if c.Probe.Counter == "" {
		c.Probe.Counter = config.DefaultProbeCounter
	}
	if c.Probe.Length == "" {
		c.Probe.Length = config.DefaultProbeLength
	}
	if c.Probe.Buffer == "" {
		c.Probe.Buffer = config.DefaultProbeBuffer
	}
	if c.Probe.Capacity <= 0 {
		c.Probe.Capacity = config.DefaultProbeCapacity
	}
	if c.MaxOutputEvents <= 0 {
		c.MaxOutputEvents = config.DefaultMaxOutputEvents
	}
	if c.LogDir == "" {
		c.LogDir = config.DefaultLogDir()
	}
}
