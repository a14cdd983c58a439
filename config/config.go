// Package config defines the tunable parameters of a Verity node, assembled
// through a fluent Builder in the same style as cube.Builder.
package config

import "time"

// Config holds the recognized node options, each defaulting to a
// conservative value for a full, persistent node.
type Config struct {
	Difficulty uint32

	MaxConnections int

	HashRequestPeriod  time.Duration
	NodeRequestPeriod  time.Duration
	AnnouncementPeriod time.Duration

	ReconnectPeriod   time.Duration
	ReconnectAttempts int

	HashcashNonceBytes int
	WorkerPoolEnabled  bool

	LightMode bool

	PersistenceEnabled  bool
	InMemoryPersistence bool
}

// Default returns the baseline node configuration.
func Default() Config {
	return Config{
		Difficulty:          12,
		MaxConnections:      20,
		HashRequestPeriod:   10_000 * time.Millisecond,
		NodeRequestPeriod:   10_000 * time.Millisecond,
		AnnouncementPeriod:  25 * 60 * 1000 * time.Millisecond,
		ReconnectPeriod:     10_000 * time.Millisecond,
		ReconnectAttempts:   2,
		HashcashNonceBytes:  4,
		WorkerPoolEnabled:   false,
		LightMode:           false,
		PersistenceEnabled:  true,
		InMemoryPersistence: false,
	}
}

// Builder assembles a Config starting from Default, overriding only the
// options the caller sets.
type Builder struct {
	cfg Config
}

// NewBuilder returns a Builder seeded with the default configuration.
func NewBuilder() *Builder {
	return &Builder{cfg: Default()}
}

func (b *Builder) SetDifficulty(bits uint32) *Builder {
	b.cfg.Difficulty = bits
	return b
}

func (b *Builder) SetMaxConnections(n int) *Builder {
	b.cfg.MaxConnections = n
	return b
}

func (b *Builder) SetHashRequestPeriod(d time.Duration) *Builder {
	b.cfg.HashRequestPeriod = d
	return b
}

func (b *Builder) SetNodeRequestPeriod(d time.Duration) *Builder {
	b.cfg.NodeRequestPeriod = d
	return b
}

func (b *Builder) SetAnnouncementPeriod(d time.Duration) *Builder {
	b.cfg.AnnouncementPeriod = d
	return b
}

func (b *Builder) SetReconnectPeriod(d time.Duration) *Builder {
	b.cfg.ReconnectPeriod = d
	return b
}

func (b *Builder) SetReconnectAttempts(n int) *Builder {
	b.cfg.ReconnectAttempts = n
	return b
}

func (b *Builder) SetHashcashNonceBytes(n int) *Builder {
	b.cfg.HashcashNonceBytes = n
	return b
}

func (b *Builder) SetWorkerPoolEnabled(enabled bool) *Builder {
	b.cfg.WorkerPoolEnabled = enabled
	return b
}

func (b *Builder) SetLightMode(enabled bool) *Builder {
	b.cfg.LightMode = enabled
	return b
}

func (b *Builder) SetPersistenceEnabled(enabled bool) *Builder {
	b.cfg.PersistenceEnabled = enabled
	return b
}

func (b *Builder) SetInMemoryPersistence(enabled bool) *Builder {
	b.cfg.InMemoryPersistence = enabled
	return b
}

// Build returns the assembled Config.
func (b *Builder) Build() Config {
	return b.cfg
}
