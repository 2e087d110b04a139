// Package config loads the btserial YAML configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chaz8081/btserial/internal/ble"
	"github.com/chaz8081/btserial/internal/link"
	"github.com/chaz8081/btserial/internal/rfcomm"
)

// Transport kinds.
const (
	TransportBLE    = "ble"
	TransportRFCOMM = "rfcomm"
	TransportTTY    = "tty"
)

// Config holds all application configuration.
type Config struct {
	Link      LinkConfig      `yaml:"link"`
	Transport TransportConfig `yaml:"transport"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Journal   JournalConfig   `yaml:"journal"`
	LogLevel  string          `yaml:"log_level"`
}

// LinkConfig holds framing and fragmentation settings.
type LinkConfig struct {
	BufferSize       int           `yaml:"buffer_size"`
	Delimiter        string        `yaml:"delimiter"` // one character, \n style escape, or 0xNN
	DefaultMTU       int           `yaml:"default_mtu"`
	WriteTimeout     time.Duration `yaml:"write_timeout"` // 0 waits forever
	MarshalCallbacks bool          `yaml:"marshal_callbacks"`
}

// TransportConfig selects how the link reaches the peer.
type TransportConfig struct {
	Kind   string       `yaml:"kind"` // "ble", "rfcomm" or "tty"
	Peer   string       `yaml:"peer"` // address to connect to at startup, empty to wait
	BLE    BLEConfig    `yaml:"ble"`
	RFCOMM RFCOMMConfig `yaml:"rfcomm"`
	TTY    TTYConfig    `yaml:"tty"`
}

// BLEConfig names the GATT service used as the serial link.
type BLEConfig struct {
	ServiceUUID string `yaml:"service_uuid"`
	TXCharUUID  string `yaml:"tx_uuid"`
	RXCharUUID  string `yaml:"rx_uuid"`
}

// RFCOMMConfig holds BlueZ settings.
type RFCOMMConfig struct {
	Adapter string `yaml:"adapter"`
}

// TTYConfig holds settings for a bound /dev/rfcommN device.
type TTYConfig struct {
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud"`
}

// BridgeConfig holds the HTTP/WebSocket bridge settings.
type BridgeConfig struct {
	ListenAddr string `yaml:"listen_addr"` // empty disables the bridge
}

// JournalConfig holds the event journal settings.
type JournalConfig struct {
	Path string `yaml:"path"` // empty disables the journal
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "btserial")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	home, _ := os.UserHomeDir()
	lc := link.DefaultConfig()

	return &Config{
		Link: LinkConfig{
			BufferSize: lc.BufferSize,
			Delimiter:  string(rune(lc.Delimiter)),
			DefaultMTU: lc.DefaultMTU,
		},
		Transport: TransportConfig{
			Kind: TransportBLE,
			BLE: BLEConfig{
				ServiceUUID: ble.ServiceUUID,
				TXCharUUID:  ble.TXCharUUID,
				RXCharUUID:  ble.RXCharUUID,
			},
			RFCOMM: RFCOMMConfig{Adapter: "hci0"},
			TTY:    TTYConfig{Device: "/dev/rfcomm0", Baud: 9600},
		},
		Bridge: BridgeConfig{ListenAddr: "127.0.0.1:8765"},
		Journal: JournalConfig{
			Path: filepath.Join(home, ".local", "share", "btserial", "journal.db"),
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in file paths is expanded to the user's home
// directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Journal.Path = expandTilde(cfg.Journal.Path)
	cfg.Transport.TTY.Device = expandTilde(cfg.Transport.TTY.Device)

	return cfg, nil
}

const defaultHeader = `# btserial configuration
#
# transport.kind selects ble, rfcomm (BlueZ) or tty (/dev/rfcommN).
# link.delimiter accepts one character, an escape such as "\n", or 0xNN.
# Set bridge.listen_addr or journal.path to "" to disable them.

`

// WriteDefault writes the default config to DefaultConfigPath if no file
// exists there yet. It returns the path written, or "" when a config was
// already present.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if _, err := c.LinkConfig(); err != nil {
		return err
	}

	switch c.Transport.Kind {
	case TransportBLE:
	case TransportRFCOMM:
		if c.Transport.Peer != "" && !rfcomm.ValidMAC(c.Transport.Peer) {
			return fmt.Errorf("transport.peer must be a MAC address for rfcomm, got %q", c.Transport.Peer)
		}
	case TransportTTY:
		if c.Transport.TTY.Device == "" && c.Transport.Peer == "" {
			return fmt.Errorf("transport.tty.device must not be empty")
		}
		if c.Transport.TTY.Baud < 0 {
			return fmt.Errorf("transport.tty.baud must be >= 0")
		}
	default:
		return fmt.Errorf("transport.kind must be \"ble\", \"rfcomm\" or \"tty\", got %q", c.Transport.Kind)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// LinkConfig converts the link section to a link.Config.
func (c *Config) LinkConfig() (link.Config, error) {
	delim, err := ParseDelimiter(c.Link.Delimiter)
	if err != nil {
		return link.Config{}, fmt.Errorf("link.delimiter: %w", err)
	}
	lc := link.Config{
		BufferSize:   c.Link.BufferSize,
		Delimiter:    delim,
		DefaultMTU:   c.Link.DefaultMTU,
		WriteTimeout: c.Link.WriteTimeout,
	}
	if err := lc.Validate(); err != nil {
		return link.Config{}, err
	}
	return lc, nil
}

// ParseDelimiter decodes a delimiter setting: a single byte, one of the
// escapes \n \r \t \0, or a hex byte written 0xNN.
func ParseDelimiter(s string) (byte, error) {
	switch s {
	case `\n`:
		return '\n', nil
	case `\r`:
		return '\r', nil
	case `\t`:
		return '\t', nil
	case `\0`:
		return 0, nil
	}
	if len(s) == 1 {
		return s[0], nil
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		n, err := strconv.ParseUint(s[2:], 16, 8)
		if err != nil {
			return 0, fmt.Errorf("invalid hex byte %q", s)
		}
		return byte(n), nil
	}
	return 0, fmt.Errorf("must be a single byte, got %q", s)
}

// ParseLogLevel maps a log_level string to a slog.Level. Unknown values
// default to info.
func ParseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
