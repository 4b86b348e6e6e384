package linehouse

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

/*
FromConf builds a Sender from a configuration string:

	schema::key1=value1;key2=value2;

Example:

	sender, err := linehouse.FromConf("https::addr=localhost:9000;token=Yfym3fgMv0B9;retry_timeout=5000;")

The schema is one of tcp, tcps, http, https. Durations are given as
millisecond integers. Boolean keys accept "on"/"off".
*/
func FromConf(conf string) (*Sender, error) {
	cfg, err := ParseConf(conf)
	if err != nil {
		return nil, err
	}
	return New(cfg)
}

// ParseConf parses a configuration string into a Config without building the
// Sender.
func ParseConf(conf string) (Config, error) {
	var cfg Config

	idx := strings.Index(conf, "::")
	if idx < 0 {
		return cfg, confError(`configuration string needs a "schema::" prefix`)
	}
	cfg.Protocol = Protocol(conf[:idx])

	for _, pair := range strings.Split(conf[idx+2:], ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		eq := strings.IndexByte(pair, '=')
		if eq <= 0 {
			return cfg, confError(fmt.Sprintf("malformed key=value pair %q", pair))
		}
		key, value := pair[:eq], pair[eq+1:]

		if err := applyConfKey(&cfg, key, value); err != nil {
			return cfg, err
		}
	}

	return cfg, nil
}

func applyConfKey(cfg *Config, key, value string) error {
	switch key {
	case "addr":
		cfg.Address = value
	case "username":
		// for TCP schemas username carries the signing key id
		if cfg.Protocol == ProtocolTCP || cfg.Protocol == ProtocolTCPS {
			cfg.AuthKeyID = value
		} else {
			cfg.User = value
		}
	case "password":
		cfg.Password = value
	case "token":
		if cfg.Protocol == ProtocolTCP || cfg.Protocol == ProtocolTCPS {
			cfg.AuthToken = value
		} else {
			cfg.Token = value
		}
	case "tls_verify":
		switch value {
		case "on":
			cfg.SkipVerify = false
		case "unsafe_off":
			cfg.SkipVerify = true
		default:
			return confError(`tls_verify must be "on" or "unsafe_off"`)
		}
	case "tls_ca":
		cfg.CACertPath = value
	case "request_path":
		cfg.RequestPath = value
	case "spill_dir":
		cfg.SpillDir = value

	case "connect_timeout":
		return confDuration(&cfg.ConnectTimeout, key, value)
	case "write_timeout":
		return confDuration(&cfg.WriteTimeout, key, value)
	case "request_timeout":
		return confDuration(&cfg.RequestTimeout, key, value)
	case "retry_timeout":
		return confDuration(&cfg.RetryTimeout, key, value)
	case "auto_flush_interval":
		return confDuration(&cfg.FlushInterval, key, value)

	case "min_throughput":
		return confInt(&cfg.MinThroughput, key, value)
	case "auto_flush_rows":
		return confInt(&cfg.FlushRows, key, value)
	case "auto_flush_bytes":
		return confInt(&cfg.FlushBytes, key, value)
	case "max_buf_size":
		return confInt(&cfg.MaxBufferSize, key, value)
	case "max_name_len":
		return confInt(&cfg.MaxNameLength, key, value)

	case "auto_flush":
		return confBool(&cfg.DisableAutoFlush, key, value, true)
	case "gzip":
		return confBool(&cfg.GzipBody, key, value, false)
	case "debug":
		return confBool(&cfg.Debug, key, value, false)

	default:
		return confError(fmt.Sprintf("unknown configuration key %q", key))
	}
	return nil
}

func confDuration(dst *time.Duration, key, value string) error {
	ms, err := strconv.Atoi(value)
	if err != nil || ms < -1 {
		return confError(fmt.Sprintf("%s must be a millisecond integer, got %q", key, value))
	}
	if ms == -1 {
		*dst = -1
		return nil
	}
	*dst = time.Duration(ms) * time.Millisecond
	return nil
}

func confInt(dst *int, key, value string) error {
	n, err := strconv.Atoi(value)
	if err != nil || n < -1 {
		return confError(fmt.Sprintf("%s must be an integer, got %q", key, value))
	}
	*dst = n
	return nil
}

func confBool(dst *bool, key, value string, invert bool) error {
	var b bool
	switch value {
	case "on":
		b = true
	case "off":
		b = false
	default:
		return confError(fmt.Sprintf(`%s must be "on" or "off", got %q`, key, value))
	}
	if invert {
		b = !b
	}
	*dst = b
	return nil
}
