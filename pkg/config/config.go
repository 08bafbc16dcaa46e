// Package config loads the nukictl YAML configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pion/logging"
	"gopkg.in/yaml.v2"

	"github.com/backkem/nukible/pkg/nuki"
	"github.com/backkem/nukible/pkg/pairing"
	"github.com/backkem/nukible/pkg/store"
	"github.com/backkem/nukible/pkg/transport"
)

// Transport kinds.
const (
	TransportWebSocket = "websocket"
	TransportSerial    = "serial"
)

// Configuration errors.
var (
	ErrNoLockAddress    = errors.New("config: lock.address is required")
	ErrUnknownTransport = errors.New("config: unknown transport kind")
	ErrNoGatewayURL     = errors.New("config: transport.url is required")
	ErrNoSerialPort     = errors.New("config: transport.serial.port is required")
	ErrUnknownIDType    = errors.New("config: unknown client.idType")
	ErrUnknownLogLevel  = errors.New("config: unknown log level")
	ErrNoStoragePath    = errors.New("config: storage.path is required")
)

// Config is the nukictl configuration file.
type Config struct {
	Lock      LockConfig      `yaml:"lock"`
	Client    ClientConfig    `yaml:"client"`
	Transport TransportConfig `yaml:"transport"`
	Storage   StorageConfig   `yaml:"storage"`
	Timeouts  TimeoutConfig   `yaml:"timeouts"`
	Log       LogConfig       `yaml:"log"`
}

// LockConfig names the lock to talk to.
type LockConfig struct {
	Address string `yaml:"address"`
}

// ClientConfig is the identity announced when pairing.
type ClientConfig struct {
	IDType   string `yaml:"idType"`
	DeviceID uint32 `yaml:"deviceId"`
	Name     string `yaml:"name"`
}

// TransportConfig selects how the lock is reached.
type TransportConfig struct {
	Kind          string       `yaml:"kind"`
	URL           string       `yaml:"url"`
	Username      string       `yaml:"username"`
	Password      string       `yaml:"password"`
	SkipSSLVerify bool         `yaml:"skipSSLVerify"`
	Serial        SerialConfig `yaml:"serial"`
}

// SerialConfig is the serial gateway port.
type SerialConfig struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

// StorageConfig locates the credential store.
type StorageConfig struct {
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"inMemory"`
}

// TimeoutConfig overrides client timing. Zero values keep the client
// defaults.
type TimeoutConfig struct {
	Connect       time.Duration `yaml:"connect"`
	PairingSettle time.Duration `yaml:"pairingSettle"`
	PairingStep   time.Duration `yaml:"pairingStep"`
	Pairing       time.Duration `yaml:"pairing"`
	Response      time.Duration `yaml:"response"`
	Status        time.Duration `yaml:"status"`
	Enqueue       time.Duration `yaml:"enqueue"`
}

// LogConfig sets log levels. Scopes maps a logger scope (e.g. "pairing") to
// its own level.
type LogConfig struct {
	Level  string            `yaml:"level"`
	Scopes map[string]string `yaml:"scopes"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Client: ClientConfig{
			IDType: "bridge",
			Name:   "nukible",
		},
		Transport: TransportConfig{
			Kind:   TransportWebSocket,
			Serial: SerialConfig{Baud: 115200},
		},
		Storage: StorageConfig{Path: defaultStoragePath()},
		Log:     LogConfig{Level: "info"},
	}
}

func defaultStoragePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "nukible-data"
	}
	return dir + string(os.PathSeparator) + "nukible"
}

// Load reads the file at path over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	c := Default()
	if err := yaml.UnmarshalStrict(data, c); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return c, nil
}

// Marshal encodes the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate checks the configuration for errors. The lock address is only
// needed by commands that connect, see ValidateLock.
func (c *Config) Validate() error {
	switch c.Transport.Kind {
	case TransportWebSocket:
		if c.Transport.URL == "" {
			return ErrNoGatewayURL
		}
	case TransportSerial:
		if c.Transport.Serial.Port == "" {
			return ErrNoSerialPort
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTransport, c.Transport.Kind)
	}
	if _, err := c.IDType(); err != nil {
		return err
	}
	if !c.Storage.InMemory && c.Storage.Path == "" {
		return ErrNoStoragePath
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	for _, lvl := range c.Log.Scopes {
		if _, err := parseLevel(lvl); err != nil {
			return err
		}
	}
	return nil
}

// ValidateLock checks that a lock address is configured.
func (c *Config) ValidateLock() error {
	if c.Lock.Address == "" {
		return ErrNoLockAddress
	}
	return nil
}

var idTypes = map[string]pairing.IDType{
	"app":    pairing.IDTypeApp,
	"bridge": pairing.IDTypeBridge,
	"fob":    pairing.IDTypeFob,
	"keypad": pairing.IDTypeKeypad,
}

// IDType returns the configured client class.
func (c *Config) IDType() (pairing.IDType, error) {
	t, ok := idTypes[strings.ToLower(c.Client.IDType)]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownIDType, c.Client.IDType)
	}
	return t, nil
}

func parseLevel(s string) (logging.LogLevel, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return logging.LogLevelInfo, nil
	case "disabled", "off":
		return logging.LogLevelDisabled, nil
	case "error":
		return logging.LogLevelError, nil
	case "warn", "warning":
		return logging.LogLevelWarn, nil
	case "debug":
		return logging.LogLevelDebug, nil
	case "trace":
		return logging.LogLevelTrace, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownLogLevel, s)
}

// LoggerFactory builds a pion logger factory writing to w.
func (c *Config) LoggerFactory(w io.Writer) (*logging.DefaultLoggerFactory, error) {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	f := logging.NewDefaultLoggerFactory()
	f.Writer = w
	f.DefaultLogLevel = level
	for scope, s := range c.Log.Scopes {
		lvl, err := parseLevel(s)
		if err != nil {
			return nil, err
		}
		f.ScopeLevels[scope] = lvl
	}
	return f, nil
}

// ClientConfig builds the nuki client configuration on top of the client
// defaults.
func (c *Config) ClientConfig(t transport.Transport, s store.Store, lf logging.LoggerFactory) (nuki.ClientConfig, error) {
	idType, err := c.IDType()
	if err != nil {
		return nuki.ClientConfig{}, err
	}
	cc := nuki.DefaultClientConfig()
	cc.Address = c.Lock.Address
	cc.Transport = t
	cc.Store = s
	cc.IDType = idType
	cc.DeviceID = c.Client.DeviceID
	if c.Client.Name != "" {
		cc.DeviceName = c.Client.Name
	}
	cc.LoggerFactory = lf

	set := func(dst *time.Duration, v time.Duration) {
		if v > 0 {
			*dst = v
		}
	}
	set(&cc.ConnectTimeout, c.Timeouts.Connect)
	set(&cc.PairingSettleDelay, c.Timeouts.PairingSettle)
	set(&cc.PairingStepTimeout, c.Timeouts.PairingStep)
	set(&cc.PairingTimeout, c.Timeouts.Pairing)
	set(&cc.ResponseTimeout, c.Timeouts.Response)
	set(&cc.StatusTimeout, c.Timeouts.Status)
	set(&cc.EnqueueTimeout, c.Timeouts.Enqueue)
	return cc, nil
}
