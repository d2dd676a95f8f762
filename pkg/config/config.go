package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"os/user"
	"path"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	configDir  string = ".dapbridge"
	configFile string = "config.yml"
)

// Defaults used when the configuration file leaves a value unset.
const (
	DefaultSafePointMarker = "axiom_debug_safe_point"
	DefaultProbeCounter    = "AXIOM_DEBUG_PROBE_STATE.frame_counter"
	DefaultProbeLength     = "AXIOM_DEBUG_PROBE_STATE.snapshot_len"
	DefaultProbeBuffer     = "&AXIOM_DEBUG_PROBE_STATE.snapshot_bytes"
	DefaultProbeCapacity   = 4096

	DefaultRequestTimeout  = 10 * time.Second
	DefaultStopTimeout     = 10 * time.Second
	DefaultMaxOutputEvents = 1024
)

// AdapterPathEnv names the environment variable consulted when neither the
// caller nor the configuration file provide a debug adapter path.
const AdapterPathEnv = "CODELLDB_ADAPTER_PATH"

// ProbeConfig names the debuggee symbols read by the snapshot extractor.
type ProbeConfig struct {
	// Counter evaluates to the monotonically increasing frame counter.
	Counter string `yaml:"counter,omitempty"`
	// Length evaluates to the number of valid bytes in the snapshot buffer.
	Length string `yaml:"length,omitempty"`
	// Buffer evaluates to a pointer to the snapshot buffer.
	Buffer string `yaml:"buffer,omitempty"`
	// Capacity is the size of the snapshot buffer in the debuggee.
	Capacity int `yaml:"capacity,omitempty"`
}

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Commands aliases.
	Aliases map[string][]string `yaml:"aliases"`

	// AdapterPath is the path of the debug adapter executable (codelldb).
	AdapterPath string `yaml:"adapter-path,omitempty"`
	// LogDir is the directory where per-session event logs are written.
	LogDir string `yaml:"log-dir,omitempty"`

	// RequestTimeout bounds every adapter request.
	RequestTimeout time.Duration `yaml:"request-timeout,omitempty"`
	// StopTimeout bounds how long continue and step wait for the next stop.
	StopTimeout time.Duration `yaml:"stop-timeout,omitempty"`

	// SafePointMarker is matched against the innermost frame name before a
	// snapshot is taken.
	SafePointMarker string      `yaml:"safe-point-marker,omitempty"`
	Probe           ProbeConfig `yaml:"probe,omitempty"`

	// MaxOutputEvents is the number of adapter output events retained per session.
	MaxOutputEvents int `yaml:"max-output-events,omitempty"`
}

// Fill replaces every unset field of c with its default value.
func (c *Config) Fill() {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	if c.SafePointMarker == "" {
		c.SafePointMarker = DefaultSafePointMarker
	}
	if c.Probe.Counter == "" {
		c.Probe.Counter = DefaultProbeCounter
	}
	if c.Probe.Length == "" {
		c.Probe.Length = DefaultProbeLength
	}
	if c.Probe.Buffer == "" {
		c.Probe.Buffer = DefaultProbeBuffer
	}
	if c.Probe.Capacity <= 0 {
		c.Probe.Capacity = DefaultProbeCapacity
	}
	if c.MaxOutputEvents <= 0 {
		c.MaxOutputEvents = DefaultMaxOutputEvents
	}
	if c.LogDir == "" {
		c.LogDir = DefaultLogDir()
	}
}

// ResolveAdapterPath returns the adapter executable to use: explicit wins
// over the configuration file, which wins over the environment.
func (c *Config) ResolveAdapterPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if c.AdapterPath != "" {
		return c.AdapterPath
	}
	return os.Getenv(AdapterPathEnv)
}

// DefaultLogDir returns the directory used for session event logs when
// none is configured.
func DefaultLogDir() string {
	dir, err := GetConfigFilePath("logs")
	if err != nil {
		return path.Join(os.TempDir(), "dapbridge")
	}
	return dir
}

// LoadConfig attempts to populate a Config object from the config.yml file.
func LoadConfig() *Config {
	err := createConfigPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Could not create config directory: %v.\n", err)
		return defaultConfig()
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to get config file path: %v.\n", err)
		return defaultConfig()
	}

	f, err := os.Open(fullConfigFile)
	if err != nil {
		f, err = createDefaultConfig(fullConfigFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating default config file: %v\n", err)
			return defaultConfig()
		}
	}
	defer func() {
		err := f.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Closing config file failed: %v.\n", err)
		}
	}()

	data, err := ioutil.ReadAll(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to read config data: %v.\n", err)
		return defaultConfig()
	}

	c, err := Parse(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to decode config file: %v.\n", err)
		return defaultConfig()
	}
	return c
}

// Parse decodes a configuration file and fills in defaults.
func Parse(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	c.Fill()
	return &c, nil
}

func defaultConfig() *Config {
	c := &Config{}
	c.Fill()
	return c
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(fullConfigFile)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	err = writeDefaultConfig(f)
	if err != nil {
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return nil, err
	}
	return f, nil
}

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(
		`# Configuration file for dapbridge.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Path of the debug adapter executable. When unset the CODELLDB_ADAPTER_PATH
# environment variable is used.
# adapter-path: /usr/local/bin/codelldb

# Directory receiving one JSONL event log per debug session.
# log-dir: /tmp/dapbridge

# Bounds for adapter requests and for continue/step waiting on the next stop.
# request-timeout: 10s
# stop-timeout: 10s

# Function name marking the point where the debuggee snapshot is consistent.
# safe-point-marker: axiom_debug_safe_point

# Probe symbols evaluated by bevy_debug_snapshot.
# probe:
#   counter: AXIOM_DEBUG_PROBE_STATE.frame_counter
#   length: AXIOM_DEBUG_PROBE_STATE.snapshot_len
#   buffer: "&AXIOM_DEBUG_PROBE_STATE.snapshot_bytes"
#   capacity: 4096

# Number of adapter output events kept per session.
# max-output-events: 1024

# Provided aliases will be added to the default aliases for a given command.
aliases:
  # command: ["alias1", "alias2"]
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	if configPath := os.Getenv("XDG_CONFIG_HOME"); configPath != "" {
		return path.Join(configPath, "dapbridge", file), nil
	}
	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return path.Join(userHomeDir, configDir, file), nil
}
