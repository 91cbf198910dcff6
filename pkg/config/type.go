package config

import "time"

type NextPMConfig struct {
	Serial   SerialConfig  `toml:"serial" yaml:"serial"`
	Commands CommandConfig `toml:"commands" yaml:"commands"`
	API      APIConfig     `toml:"api" yaml:"api"`
	Log      LogConfig     `toml:"log" yaml:"log"`
	History  HistoryConfig `toml:"history" yaml:"history"`
	Relay    RelayConfig   `toml:"relay" yaml:"relay"`
}

type SerialConfig struct {
	Device   string `toml:"device" yaml:"device"`
	Baudrate uint   `toml:"baudrate" yaml:"baudrate"`
	// Pick the first enumerated port when device is empty
	AutoDetect bool `toml:"auto_detect" yaml:"auto_detect"`
}

// All timeouts are in milliseconds.
// BINS and SNAPSHOT take noticeably longer on the sensor side.
type CommandConfig struct {
	DefaultTimeoutMs  int  `toml:"default_timeout_ms" yaml:"default_timeout_ms"`
	TRHTimeoutMs      int  `toml:"trh_timeout_ms" yaml:"trh_timeout_ms"`
	PMTimeoutMs       int  `toml:"pm_timeout_ms" yaml:"pm_timeout_ms"`
	BinsTimeoutMs     int  `toml:"bins_timeout_ms" yaml:"bins_timeout_ms"`
	SnapshotTimeoutMs int  `toml:"snapshot_timeout_ms" yaml:"snapshot_timeout_ms"`
	QueryOnConnect    bool `toml:"query_on_connect" yaml:"query_on_connect"`
	QueryDelayMs      int  `toml:"query_delay_ms" yaml:"query_delay_ms"`
	QueryGapMs        int  `toml:"query_gap_ms" yaml:"query_gap_ms"`
}

type APIConfig struct {
	ListenAddress  string `toml:"listen_address" yaml:"listen_address"`
	ListenPort     int    `toml:"listen_port" yaml:"listen_port"`
	PollIntervalMs int    `toml:"poll_interval_ms" yaml:"poll_interval_ms"`
	// Averaging window used by the poller: 10s, 1m or 15m
	PollWindow string `toml:"poll_window" yaml:"poll_window"`
}

type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
	File   string `toml:"file" yaml:"file"`
}

type HistoryConfig struct {
	MaxPoints int `toml:"max_points" yaml:"max_points"`
}

type RelayConfig struct {
	Redis RedisRelayConfig `toml:"redis" yaml:"redis"`
	MQTT  MQTTRelayConfig  `toml:"mqtt" yaml:"mqtt"`
}

type RedisRelayConfig struct {
	Enabled  bool   `toml:"enabled" yaml:"enabled"`
	Addr     string `toml:"addr" yaml:"addr"`
	Password string `toml:"password" yaml:"password"`
	DB       int    `toml:"db" yaml:"db"`
	Channel  string `toml:"channel" yaml:"channel"`
}

type MQTTRelayConfig struct {
	Enabled  bool   `toml:"enabled" yaml:"enabled"`
	Broker   string `toml:"broker" yaml:"broker"`
	Port     int    `toml:"port" yaml:"port"`
	ClientID string `toml:"client_id" yaml:"client_id"`
	Username string `toml:"username" yaml:"username"`
	Password string `toml:"password" yaml:"password"`
	Topic    string `toml:"topic" yaml:"topic"`
	QoS      byte   `toml:"qos" yaml:"qos"`
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

func (c CommandConfig) DefaultTimeout() time.Duration  { return ms(c.DefaultTimeoutMs) }
func (c CommandConfig) TRHTimeout() time.Duration      { return ms(c.TRHTimeoutMs) }
func (c CommandConfig) PMTimeout() time.Duration       { return ms(c.PMTimeoutMs) }
func (c CommandConfig) BinsTimeout() time.Duration     { return ms(c.BinsTimeoutMs) }
func (c CommandConfig) SnapshotTimeout() time.Duration { return ms(c.SnapshotTimeoutMs) }
func (c CommandConfig) QueryDelay() time.Duration      { return ms(c.QueryDelayMs) }
func (c CommandConfig) QueryGap() time.Duration        { return ms(c.QueryGapMs) }

func (c APIConfig) PollInterval() time.Duration { return ms(c.PollIntervalMs) }
