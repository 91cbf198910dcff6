package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/NotCoffee418/nextpm_monitor/pkg/pathing"
	"gopkg.in/yaml.v3"
)

var ActiveNextPMConfig *NextPMConfig

var ErrInvalidConfig = errors.New("invalid config")

func DefaultNextPMConfig() *NextPMConfig {
	return &NextPMConfig{
		Serial: SerialConfig{
			Device:   "/dev/ttyACM0",
			Baudrate: 115200,
		},
		Commands: CommandConfig{
			DefaultTimeoutMs:  5000,
			TRHTimeoutMs:      3000,
			PMTimeoutMs:       3000,
			BinsTimeoutMs:     10000,
			SnapshotTimeoutMs: 15000,
			QueryOnConnect:    true,
			QueryDelayMs:      500,
			QueryGapMs:        200,
		},
		API: APIConfig{
			ListenAddress:  "0.0.0.0",
			ListenPort:     9040,
			PollIntervalMs: 10000,
			PollWindow:     "10s",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		History: HistoryConfig{
			MaxPoints: 50,
		},
		Relay: RelayConfig{
			Redis: RedisRelayConfig{
				Addr:    "localhost:6379",
				Channel: "nextpm_readings",
			},
			MQTT: MQTTRelayConfig{
				Broker:   "localhost",
				Port:     1883,
				ClientID: "nextpm_monitor",
				Topic:    "nextpm/readings",
			},
		},
	}
}

// Loads the API config from the config dir, writing the defaults on first run.
func LoadNextPMConfig() error {
	configPath := pathing.GetAPIConfigPath()

	// Create default if not exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := pathing.EnsureConfigDir(); err != nil {
			return err
		}
		cfg := DefaultNextPMConfig()
		cfgFile, err := os.Create(configPath)
		if err != nil {
			return err
		}
		defer cfgFile.Close()
		if err := toml.NewEncoder(cfgFile).Encode(cfg); err != nil {
			return err
		}
		ActiveNextPMConfig = cfg
		return nil
	}

	cfg, err := LoadConfigFile(configPath)
	if err != nil {
		return err
	}
	ActiveNextPMConfig = cfg
	return nil
}

// LoadConfigFile reads a TOML or YAML file depending on the extension.
// Fields missing from the file keep their default value.
func LoadConfigFile(path string) (*NextPMConfig, error) {
	cfg := DefaultNextPMConfig()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	default:
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *NextPMConfig) Validate() error {
	var errs []error
	if c.Serial.Device == "" && !c.Serial.AutoDetect {
		errs = append(errs, fmt.Errorf("%w: serial.device is empty and auto_detect is off", ErrInvalidConfig))
	}
	if c.Serial.Baudrate == 0 {
		errs = append(errs, fmt.Errorf("%w: serial.baudrate must be set", ErrInvalidConfig))
	}

	timeouts := map[string]int{
		"default_timeout_ms":  c.Commands.DefaultTimeoutMs,
		"trh_timeout_ms":      c.Commands.TRHTimeoutMs,
		"pm_timeout_ms":       c.Commands.PMTimeoutMs,
		"bins_timeout_ms":     c.Commands.BinsTimeoutMs,
		"snapshot_timeout_ms": c.Commands.SnapshotTimeoutMs,
	}
	for name, v := range timeouts {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%w: commands.%s must be positive", ErrInvalidConfig, name))
		}
	}

	switch strings.ToLower(c.API.PollWindow) {
	case "10s", "1m", "15m":
	default:
		errs = append(errs, fmt.Errorf("%w: api.poll_window %q is not one of 10s, 1m, 15m", ErrInvalidConfig, c.API.PollWindow))
	}
	if c.History.MaxPoints <= 0 {
		errs = append(errs, fmt.Errorf("%w: history.max_points must be positive", ErrInvalidConfig))
	}

	return errors.Join(errs...)
}
