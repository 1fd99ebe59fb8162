// Package catalog defines the typed resource model governed by the engine:
// environments, principals, privileges, grants, and the container/asset
// hierarchy with its inheritance semantics.
package catalog

import (
	"strings"
	"sync"

	"github.com/CauchyIO/brickkit/infrastructure/config"
)

// Environment is the process-wide deployment environment tag.
type Environment string

const (
	EnvDev Environment = "dev"
	EnvAcc Environment = "acc"
	EnvPrd Environment = "prd"
)

// Valid reports whether e is a recognized environment.
func (e Environment) Valid() bool {
	switch e {
	case EnvDev, EnvAcc, EnvPrd:
		return true
	}
	return false
}

var (
	envMu      sync.RWMutex
	currentEnv Environment
	envLoaded  bool
)

// CurrentEnvironment returns the environment for this run. It is read from
// DATABRICKS_ENV on first use (default dev) and frozen afterwards unless
// overridden with SetEnvironment.
func CurrentEnvironment() Environment {
	envMu.RLock()
	if envLoaded {
		defer envMu.RUnlock()
		return currentEnv
	}
	envMu.RUnlock()

	envMu.Lock()
	defer envMu.Unlock()
	if !envLoaded {
		currentEnv = ParseEnvironment(config.Env(config.EnvVarEnvironment, string(EnvDev)))
		envLoaded = true
	}
	return currentEnv
}

// SetEnvironment overrides the process environment. Intended for tests and
// for callers that resolve the environment themselves.
func SetEnvironment(e Environment) {
	envMu.Lock()
	defer envMu.Unlock()
	currentEnv = e
	envLoaded = true
}

// ResetEnvironment clears the override so the next read consults
// DATABRICKS_ENV again. Test helper.
func ResetEnvironment() {
	envMu.Lock()
	defer envMu.Unlock()
	currentEnv = ""
	envLoaded = false
}

// ParseEnvironment normalizes a raw value; unknown values fall back to dev.
func ParseEnvironment(raw string) Environment {
	e := Environment(strings.ToLower(strings.TrimSpace(raw)))
	if !e.Valid() {
		return EnvDev
	}
	return e
}
