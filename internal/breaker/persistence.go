package breaker

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// persistState serializes the breaker's state to disk on every transition,
// mirroring original_source/utils/circuit_breaker.py's _persist_state.
// Errors are logged, never returned: persistence is best-effort, the
// breaker's in-memory state remains authoritative for the running process.
func (cb *CircuitBreaker) persistState() {
	if cb.persistencePath == "" {
		return
	}

	state := cb.Snapshot()

	data, err := json.Marshal(state)
	if err != nil {
		log.Error().Err(err).Str("identifier", cb.identifier).Msg("failed to marshal circuit breaker state")
		return
	}

	if err := atomicWriteFile(cb.persistencePath, data); err != nil {
		log.Error().Err(err).Str("identifier", cb.identifier).Msg("failed to persist circuit breaker state")
	}
}

// loadState restores a previously persisted breaker state, if any.
func (cb *CircuitBreaker) loadState() {
	data, err := os.ReadFile(cb.persistencePath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Error().Err(err).Str("identifier", cb.identifier).Msg("failed to read persisted circuit breaker state")
		}
		return
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		log.Error().Err(err).Str("identifier", cb.identifier).Msg("failed to unmarshal persisted circuit breaker state")
		return
	}

	cb.mu.Lock()
	cb.isActive = state.IsActive
	cb.consecutiveFailures = state.ConsecutiveFailures
	cb.activatedAt = state.ActivatedAt
	cb.metrics = state.Metrics
	cb.mu.Unlock()

	log.Info().Str("identifier", cb.identifier).Msg("loaded persisted circuit breaker state")
}

// atomicWriteFile writes data to a temp file in the same directory, then
// renames it over path, avoiding a torn read by a concurrent loadState.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
