package breaker

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// BreakerConfig is the subset of config.BreakerConfig the fabric needs.
// Declared locally so this package never imports internal/config, keeping
// the dependency direction one-way (config has no business knowing about
// breaker internals, breaker has no business knowing about viper tags).
type BreakerConfig struct {
	ComponentMaxFailures int
	ComponentResetAfter  time.Duration
	OperationMaxFailures int
	OperationResetAfter  time.Duration
	TokenMaxFailures     int
	TokenResetAfter      time.Duration
	PersistenceDir       string
}

// Fabric owns one Global breaker plus lazily-constructed Component,
// Operation, and Token breakers across four scopes. Lookups are
// keyed by identifier (component name, strategy id, or mint address) so the
// same named breaker is always returned to every caller.
type Fabric struct {
	cfg BreakerConfig

	global *CircuitBreaker

	mu         sync.Mutex
	components map[string]*CircuitBreaker
	operations map[string]*CircuitBreaker
	tokens     map[string]*CircuitBreaker
}

// NewFabric constructs the fabric and its always-present Global breaker.
// Global has no auto-reset: GLOBAL gates true infrastructure failure (RPC
// unreachable at startup, wallet keypair absent, DB pool exhausted) and is
// cleared only by an operator, never by a timer.
func NewFabric(cfg BreakerConfig) *Fabric {
	f := &Fabric{
		cfg:        cfg,
		components: make(map[string]*CircuitBreaker),
		operations: make(map[string]*CircuitBreaker),
		tokens:     make(map[string]*CircuitBreaker),
	}
	f.global = New(Options{
		Type:                   Global,
		Identifier:             "global",
		MaxConsecutiveFailures: 1,
		ResetAfter:             0,
		PersistencePath:        f.persistencePathFor(Global, "global"),
		OnActivate: func() {
			log.Error().Msg("global circuit breaker activated: trading halted")
		},
		OnReset: func() {
			log.Warn().Msg("global circuit breaker reset")
		},
	})
	return f
}

// Global returns the single process-wide breaker. Activating it halts every
// new trade regardless of component or token.
func (f *Fabric) Global() *CircuitBreaker {
	return f.global
}

// Component returns (constructing on first use) the named component
// breaker, e.g. "order_manager", "aggregator", "tracker".
func (f *Fabric) Component(name string) *CircuitBreaker {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cb, ok := f.components[name]; ok {
		return cb
	}
	cb := New(Options{
		Type:                   Component,
		Identifier:             name,
		MaxConsecutiveFailures: f.cfg.ComponentMaxFailures,
		ResetAfter:             f.cfg.ComponentResetAfter,
		PersistencePath:        f.persistencePathFor(Component, name),
		OnActivate: func() {
			log.Error().Str("component", name).Msg("component circuit breaker activated")
		},
		OnReset: func() {
			log.Info().Str("component", name).Msg("component circuit breaker reset")
		},
	})
	f.components[name] = cb
	return cb
}

// Operation returns the breaker scoped to one strategy id.
func (f *Fabric) Operation(strategyID string) *CircuitBreaker {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cb, ok := f.operations[strategyID]; ok {
		return cb
	}
	cb := New(Options{
		Type:                   Operation,
		Identifier:             strategyID,
		MaxConsecutiveFailures: f.cfg.OperationMaxFailures,
		ResetAfter:             f.cfg.OperationResetAfter,
		PersistencePath:        f.persistencePathFor(Operation, strategyID),
		OnActivate: func() {
			log.Error().Str("strategy", strategyID).Msg("operation circuit breaker activated")
		},
		OnReset: func() {
			log.Info().Str("strategy", strategyID).Msg("operation circuit breaker reset")
		},
	})
	f.operations[strategyID] = cb
	return cb
}

// Token returns the breaker scoped to one mint address.
func (f *Fabric) Token(mint string) *CircuitBreaker {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cb, ok := f.tokens[mint]; ok {
		return cb
	}
	cb := New(Options{
		Type:                   Token,
		Identifier:             mint,
		MaxConsecutiveFailures: f.cfg.TokenMaxFailures,
		ResetAfter:             f.cfg.TokenResetAfter,
		PersistencePath:        f.persistencePathFor(Token, mint),
		OnActivate: func() {
			log.Warn().Str("mint", mint).Msg("token circuit breaker activated")
		},
		OnReset: func() {
			log.Info().Str("mint", mint).Msg("token circuit breaker reset")
		},
	})
	f.tokens[mint] = cb
	return cb
}

// Tripped reports whether any breaker that would gate a trade against this
// strategy/mint pair is currently active: global, the strategy's operation
// breaker, or the mint's token breaker. Component breakers are not checked.
func (f *Fabric) Tripped(strategyID, mint string) bool {
	if f.Global().Check() {
		return true
	}
	if f.Operation(strategyID).Check() {
		return true
	}
	if f.Token(mint).Check() {
		return true
	}
	return false
}

// Snapshot returns every breaker's state, for the operator control surface.
func (f *Fabric) Snapshot() []State {
	f.mu.Lock()
	defer f.mu.Unlock()

	states := make([]State, 0, 1+len(f.components)+len(f.operations)+len(f.tokens))
	states = append(states, f.global.Snapshot())
	for _, cb := range f.components {
		states = append(states, cb.Snapshot())
	}
	for _, cb := range f.operations {
		states = append(states, cb.Snapshot())
	}
	for _, cb := range f.tokens {
		states = append(states, cb.Snapshot())
	}
	return states
}

func (f *Fabric) persistencePathFor(t Type, identifier string) string {
	if f.cfg.PersistenceDir == "" {
		return ""
	}
	return filepath.Join(f.cfg.PersistenceDir, string(t)+"_"+sanitize(identifier)+".json")
}

// sanitize replaces path separators so a mint address or strategy id never
// escapes the persistence directory.
func sanitize(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch r {
		case '/', '\\', '.', ':':
			out = append(out, '_')
		default:
			out = append(out, r)
		}
	}
	return string(out)
}
