package config

import (
	"fmt"
	"strconv"
	"time"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SOFTPHONE_"

type envBinding struct {
	key   string
	apply func(c *Config, v string) error
}

func str(dst func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error { *dst(c) = v; return nil }
}

func dur(dst func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst(c) = d
		return nil
	}
}

func boolean(dst func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst(c) = b
		return nil
	}
}

func float(dst func(*Config) *float64) func(*Config, string) error {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*dst(c) = f
		return nil
	}
}

func integer(dst func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

var envBindings = []envBinding{
	{"LOG_LEVEL", str(func(c *Config) *string { return &c.Log.Level })},
	{"LOG_FORMAT", str(func(c *Config) *string { return &c.Log.Format })},
	{"DEVICE_TRANSPORT", str(func(c *Config) *string { return &c.Device.Transport })},
	{"DEVICE_IDENTITY", str(func(c *Config) *string { return &c.Device.Identity })},
	{"TOKEN_URL", str(func(c *Config) *string { return &c.Device.TokenURL })},
	{"TOKEN_SECRET", str(func(c *Config) *string { return &c.Device.TokenSecret })},
	{"TOKEN_TTL", dur(func(c *Config) *time.Duration { return &c.Device.TokenTTL })},
	{"AUTO_ANSWER", boolean(func(c *Config) *bool { return &c.Device.AutoAnswer })},
	{"DROP_EVERY", integer(func(c *Config) *int { return &c.Device.DropEvery })},
	{"DIAL_TIMEOUT", dur(func(c *Config) *time.Duration { return &c.Call.DialTimeout })},
	{"NETWORK_TYPE", str(func(c *Config) *string { return &c.Network.EffectiveType })},
	{"NETWORK_DOWNLINK", float(func(c *Config) *float64 { return &c.Network.DownlinkMbps })},
	{"CPU_LOAD", float(func(c *Config) *float64 { return &c.Network.CPULoad })},
	{"CALLLOG_SINK", str(func(c *Config) *string { return &c.CallLog.Sink })},
	{"CALLLOG_ENCODING", str(func(c *Config) *string { return &c.CallLog.Encoding })},
	{"AMQP_URL", str(func(c *Config) *string { return &c.CallLog.AMQPURL })},
	{"AMQP_QUEUE", str(func(c *Config) *string { return &c.CallLog.Queue })},
	{"METRICS_ENABLED", boolean(func(c *Config) *bool { return &c.Metrics.Enabled })},
	{"METRICS_ADDR", str(func(c *Config) *string { return &c.Metrics.Addr })},
	{"EVENTS_ENABLED", boolean(func(c *Config) *bool { return &c.Events.Enabled })},
	{"EVENTS_ADDR", str(func(c *Config) *string { return &c.Events.Addr })},
	{"EVENTS_TOKEN", str(func(c *Config) *string { return &c.Events.Token })},
	{"MIC_SOURCE", str(func(c *Config) *string { return &c.Mic.Source })},
}

// applyEnv overrides fields from SOFTPHONE_* variables found by lookup.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	for _, b := range envBindings {
		v, ok := lookup(EnvPrefix + b.key)
		if !ok || v == "" {
			continue
		}
		if err := b.apply(c, v); err != nil {
			return fmt.Errorf("%w: %s%s=%q: %v", ErrInvalidConfig, EnvPrefix, b.key, v, err)
		}
	}
	return nil
}
