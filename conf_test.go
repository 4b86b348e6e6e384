package linehouse

import (
	"testing"
	"time"
)

func TestParseConfHTTP(t *testing.T) {
	cfg, err := ParseConf("https::addr=db1:9000,db2:9000;username=joe;password=hunter2;retry_timeout=5000;auto_flush_rows=100;gzip=on;")
	if err != nil {
		t.Fatalf("Could not parse conf: %s", err.Error())
	}

	if cfg.Protocol != ProtocolHTTPS {
		t.Errorf("Wrong protocol: %s", cfg.Protocol)
	}
	if cfg.Address != "db1:9000,db2:9000" {
		t.Errorf("Wrong address: %s", cfg.Address)
	}
	if cfg.User != "joe" || cfg.Password != "hunter2" {
		t.Errorf("Wrong credentials: %q/%q", cfg.User, cfg.Password)
	}
	if cfg.AuthKeyID != "" {
		t.Errorf("HTTP conf must not set a signing key id, got %q", cfg.AuthKeyID)
	}
	if cfg.RetryTimeout != 5*time.Second {
		t.Errorf("Wrong retry timeout: %s", cfg.RetryTimeout)
	}
	if cfg.FlushRows != 100 {
		t.Errorf("Wrong flush rows: %d", cfg.FlushRows)
	}
	if !cfg.GzipBody {
		t.Error("gzip=on must enable body compression")
	}
}

func TestParseConfTCPAuth(t *testing.T) {
	cfg, err := ParseConf("tcps::addr=localhost:9009;username=testUser1;token=5UjEMuA0Pj5pjK8a-fa24dyIf-Es5mYny3oE_Wmus48;tls_verify=unsafe_off;")
	if err != nil {
		t.Fatalf("Could not parse conf: %s", err.Error())
	}

	if cfg.Protocol != ProtocolTCPS {
		t.Errorf("Wrong protocol: %s", cfg.Protocol)
	}
	if cfg.AuthKeyID != "testUser1" {
		t.Errorf("TCP username must map to the key id, got %q", cfg.AuthKeyID)
	}
	if cfg.AuthToken == "" || cfg.Token != "" {
		t.Errorf("TCP token must map to the signing key, got auth=%q http=%q", cfg.AuthToken, cfg.Token)
	}
	if !cfg.SkipVerify {
		t.Error("tls_verify=unsafe_off must disable verification")
	}
}

func TestParseConfErrors(t *testing.T) {
	bad := []string{
		"no-schema-separator",
		"http::addr=x:1;what_is_this=1;",
		"http::addr=x:1;retry_timeout=soon;",
		"http::addr=x:1;gzip=yes;",
		"http::addr=x:1;malformed;",
		"http::addr=x:1;=value;",
	}
	for _, conf := range bad {
		if _, err := ParseConf(conf); err == nil {
			t.Errorf("Conf %q must not parse", conf)
		}
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg, err := Config{Address: "db1:9000", Protocol: ProtocolHTTP}.withDefaults()
	if err != nil {
		t.Fatalf("Defaults failed: %s", err.Error())
	}

	if cfg.FlushRows != defaultFlushRows {
		t.Errorf("Wrong default flush rows: %d", cfg.FlushRows)
	}
	if cfg.FlushInterval != defaultFlushInterval {
		t.Errorf("Wrong default flush interval: %s", cfg.FlushInterval)
	}
	if cfg.FlushBytes != 0 {
		t.Errorf("Byte watermark must default to disabled, got %d", cfg.FlushBytes)
	}

	// -1 disables individual watermarks
	cfg, err = Config{Address: "db1:9000", FlushRows: -1, FlushInterval: -1}.withDefaults()
	if err != nil {
		t.Fatalf("Defaults failed: %s", err.Error())
	}
	if cfg.FlushRows != 0 || cfg.FlushInterval != 0 {
		t.Errorf("-1 must disable watermarks: rows=%d interval=%s", cfg.FlushRows, cfg.FlushInterval)
	}
}

func TestConfigValidation(t *testing.T) {
	bad := []Config{
		{},                                    // no address
		{Address: "x:1", Protocol: "udp"},     // unknown protocol
		{Address: "x:1", Protocol: ProtocolHTTP, User: "a", Token: "b"},       // both credentials
		{Address: "x:1", Protocol: ProtocolHTTP, AuthKeyID: "k", AuthToken: "t"}, // TCP credential over HTTP
		{Address: "x:1", Protocol: ProtocolTCP, Token: "b"},                   // HTTP credential over TCP
		{Address: "x:1", Protocol: ProtocolTCP, AuthKeyID: "k"},               // key id without token
		{Address: "x:1", Protocol: ProtocolTCP, SkipVerify: true},             // TLS option without TLS
		{Address: "x:1", Protocol: ProtocolHTTPS, CACertPath: "/ca.pem", SkipVerify: true},
	}
	for i, cfg := range bad {
		if _, err := cfg.withDefaults(); err == nil {
			t.Errorf("Config #%d must be rejected", i)
		}
	}
}
