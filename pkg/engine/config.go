// Package engine wires the arena, KV index, eviction policy, backend
// chain, ACL and thread pool into the single top-level object a server
// process constructs once at startup.
//
// © 2025 PrisKV authors. Apache License 2.0.
package engine

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Option configures an Engine at New time, the same functional-options
// shape the teacher uses for its cache constructor.
type Option func(*config)

type config struct {
	maxKeyLength   uint16
	maxKeys        uint32
	valueBlockSize uint32
	valueBlocks    uint64

	arenaPath string // empty means anonymous, in-memory-only arena

	policyName string

	tieringAddress string // empty means tiering disabled

	ioThreads, bgThreads int
	expirySweepInterval  time.Duration
	expirySweepMaxScan   int

	aclRules []string

	registry *prometheus.Registry
	logger   *zap.Logger

	serverMaxSGL         int
	serverMaxKeyLength   int
	serverMaxInflightCmd int
}

func defaultConfig() *config {
	return &config{
		maxKeyLength:         64,
		maxKeys:              1 << 16,
		valueBlockSize:       4096,
		valueBlocks:          1 << 14,
		policyName:           "lru",
		ioThreads:            4,
		bgThreads:            1,
		expirySweepInterval:  time.Second,
		expirySweepMaxScan:   4096,
		logger:               zap.NewNop(),
		serverMaxSGL:         16,
		serverMaxKeyLength:   64,
		serverMaxInflightCmd: 256,
	}
}

// WithArenaLayout sizes the persisted region: maxKeys key slots of
// maxKeyLength bytes each, valueBlocks blocks of valueBlockSize bytes
// each. Both maxKeys and valueBlocks must be powers of two.
func WithArenaLayout(maxKeyLength uint16, maxKeys uint32, valueBlockSize uint32, valueBlocks uint64) Option {
	return func(c *config) {
		c.maxKeyLength = maxKeyLength
		c.maxKeys = maxKeys
		c.valueBlockSize = valueBlockSize
		c.valueBlocks = valueBlocks
	}
}

// WithPersistentArena backs the arena with a file at path on
// hugetlbfs/tmpfs instead of an anonymous heap region.
func WithPersistentArena(path string) Option {
	return func(c *config) { c.arenaPath = path }
}

// WithPolicy selects a registered eviction policy by name (default "lru").
func WithPolicy(name string) Option {
	return func(c *config) { c.policyName = name }
}

// WithTiering enables the backend chain's origin tier at the given
// address grammar string (e.g. "localfs:/data/priskv"). Once set it
// cannot be disabled without a process restart, per §6's admin-control-
// plane note.
func WithTiering(address string) Option {
	return func(c *config) { c.tieringAddress = address }
}

// WithThreads sets the IO and background thread counts (default 4 and 1).
func WithThreads(ioThreads, bgThreads int) Option {
	return func(c *config) {
		c.ioThreads = ioThreads
		c.bgThreads = bgThreads
	}
}

// WithExpirySweep overrides the background sweep cadence and the maximum
// number of keys scanned per tick.
func WithExpirySweep(interval time.Duration, maxScan int) Option {
	return func(c *config) {
		c.expirySweepInterval = interval
		c.expirySweepMaxScan = maxScan
	}
}

// WithACLRules seeds the ACL with an initial set of CIDR rules.
func WithACLRules(rules ...string) Option {
	return func(c *config) { c.aclRules = append(c.aclRules, rules...) }
}

// WithMetrics enables Prometheus metrics collection, mirroring the
// teacher's WithMetrics option.
func WithMetrics(reg *prometheus.Registry) Option {
	return func(c *config) { c.registry = reg }
}

// WithLogger plugs an external zap.Logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithServerLimits overrides the server-side handshake ceilings
// negotiated as min(client, server) during CONNECTING.
func WithServerLimits(maxSGL, maxKeyLength, maxInflightCmd int) Option {
	return func(c *config) {
		c.serverMaxSGL = maxSGL
		c.serverMaxKeyLength = maxKeyLength
		c.serverMaxInflightCmd = maxInflightCmd
	}
}

func applyOptions(opts []Option) (*config, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.maxKeys == 0 || cfg.maxKeys&(cfg.maxKeys-1) != 0 {
		return nil, errInvalidMaxKeys
	}
	if cfg.valueBlocks == 0 || cfg.valueBlocks&(cfg.valueBlocks-1) != 0 {
		return nil, errInvalidValueBlocks
	}
	if cfg.ioThreads <= 0 {
		return nil, errInvalidThreadCount
	}
	return cfg, nil
}

var (
	errInvalidMaxKeys     = errors.New("engine: maxKeys must be a power of two")
	errInvalidValueBlocks = errors.New("engine: valueBlocks must be a power of two")
	errInvalidThreadCount = errors.New("engine: ioThreads must be > 0")
)
