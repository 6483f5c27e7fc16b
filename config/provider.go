package config

import "sync/atomic"

// Provider hands out the current configuration to evaluation loops.
// Reload swaps the whole set atomically; readers holding a *Config keep
// a consistent snapshot for the duration of one evaluation cycle and
// must re-fetch on the next.
type Provider struct {
	current atomic.Pointer[Config]
}

// NewProvider creates a Provider serving the given initial config.
func NewProvider(cfg *Config) *Provider {
	p := &Provider{}
	p.current.Store(cfg)
	return p
}

// Get returns the current config snapshot. The returned value must be
// treated as immutable.
func (p *Provider) Get() *Config {
	return p.current.Load()
}

// Reload validates and installs a replacement set. On validation
// failure the previous set stays in effect.
func (p *Provider) Reload(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	p.current.Store(cfg)
	return nil
}
