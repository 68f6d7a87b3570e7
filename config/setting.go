// Package config loads and validates the broker's enumerated configuration
// (spec §6): identity, pool sizes, queue dimensions, keepalive/timeout knobs,
// and the static auth list. Shaped after the teacher's load-then-validate
// pattern (config/setting.go's projectConfig + Reload + Rule.verify), with
// JSON swapped for YAML (already present in the teacher's own dependency
// graph) and proxy rules swapped for the RTMQ enumerated config.
package config

import (
	"fmt"
	"io/ioutil"

	"gopkg.in/yaml.v2"
)

// QueueSpec describes a bounded queue's slot count and per-slot payload size.
type QueueSpec struct {
	Max  int `yaml:"max"`
	Size int `yaml:"size"`
}

// AuthEntry is one statically-provisioned (node_id, username, password) triple.
type AuthEntry struct {
	NodeID uint32 `yaml:"node_id"`
	User   string `yaml:"user"`
	Pass   string `yaml:"pass"`
}

// LogConfig controls the zap+lumberjack sink, generalized from the teacher's
// utils/log.go init-time setup.
type LogConfig struct {
	Level      string `yaml:"level"`
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
	Console    bool   `yaml:"console"`
}

// Config is the broker's full enumerated configuration (spec §6).
type Config struct {
	Name   string `yaml:"name"`
	NodeID uint32 `yaml:"node_id"`
	Port   uint16 `yaml:"port"`

	RecvThdNum int `yaml:"recv_thd_num"`
	WorkThdNum int `yaml:"work_thd_num"`
	DistqNum   int `yaml:"distq_num"`

	Recvq QueueSpec `yaml:"recvq"`
	Sendq QueueSpec `yaml:"sendq"`

	KeepaliveSec   int `yaml:"keepalive_sec"`
	AuthWaitSec    int `yaml:"auth_wait_sec"`
	TmoutSec       int `yaml:"tmout_sec"`
	DistPollMs     int `yaml:"dist_poll_ms"`
	CmdResendTimes int `yaml:"cmd_resend_times"`

	// MetricsAddr, when non-empty, exposes prometheus counters over HTTP
	// (additive observability; see SPEC_FULL.md domain stack).
	MetricsAddr string `yaml:"metrics_addr"`

	Auth []AuthEntry `yaml:"auth"`

	Log LogConfig `yaml:"log"`
}

// WorkerHdlQnum is the fixed fan-out (K) of recv-queue shards per worker
// thread (spec §3: "K = WORKER_HDL_QNUM, a small constant like 4").
const WorkerHdlQnum = 4

// RecvqNum returns the total recv-queue shard count, computed once the way
// the original's rtmq_init sets conf->recvq_num at init time rather than
// recomputing it on every shard lookup.
func (c *Config) RecvqNum() int {
	return WorkerHdlQnum * c.WorkThdNum
}

// Default fills in the knobs the spec leaves as small constants, mirroring
// the teacher's Rule.verify() default-filling (e.g. regex mode's Timeout).
func Default() *Config {
	return &Config{
		Name:           "rtmq",
		Port:           9000,
		RecvThdNum:     2,
		WorkThdNum:     2,
		DistqNum:       2,
		Recvq:          QueueSpec{Max: 4096, Size: 2048},
		Sendq:          QueueSpec{Max: 4096, Size: 2048},
		KeepaliveSec:   30,
		AuthWaitSec:    5,
		TmoutSec:       1,
		DistPollMs:     200,
		CmdResendTimes: 3,
		Log: LogConfig{
			Level:      "info",
			Path:       "./log/rtmq.log",
			MaxSizeMB:  1024,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
	}
}

// Load reads and validates a YAML config file at path, unmarshaling onto
// Default() so unspecified fields keep sane values.
func Load(path string) (*Config, error) {
	buf, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the struct the way the teacher's Rule.verify() does:
// required fields and positive pool/queue sizes.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("empty name")
	}
	if c.NodeID == 0 {
		return fmt.Errorf("node_id must be non-zero")
	}
	if c.Port == 0 {
		return fmt.Errorf("invalid port")
	}
	if c.RecvThdNum <= 0 {
		return fmt.Errorf("recv_thd_num must be positive")
	}
	if c.WorkThdNum <= 0 {
		return fmt.Errorf("work_thd_num must be positive")
	}
	if c.DistqNum <= 0 {
		return fmt.Errorf("distq_num must be positive")
	}
	if c.Recvq.Max <= 0 || c.Recvq.Size <= 0 {
		return fmt.Errorf("invalid recvq spec")
	}
	if c.Sendq.Max <= 0 || c.Sendq.Size <= 0 {
		return fmt.Errorf("invalid sendq spec")
	}
	if c.KeepaliveSec <= 0 {
		return fmt.Errorf("keepalive_sec must be positive")
	}
	if len(c.Auth) == 0 {
		return fmt.Errorf("empty auth list")
	}
	for i, a := range c.Auth {
		if a.NodeID == 0 {
			return fmt.Errorf("invalid auth entry at pos %d: node_id required", i)
		}
		if a.User == "" {
			return fmt.Errorf("invalid auth entry at pos %d: empty user", i)
		}
	}
	return nil
}

// Lookup returns the auth entry for a node_id, or ok=false.
func (c *Config) Lookup(nodeID uint32) (AuthEntry, bool) {
	for _, a := range c.Auth {
		if a.NodeID == nodeID {
			return a, true
		}
	}
	return AuthEntry{}, false
}
