package modules

import (
	"fmt"
	"log/slog"

	"github.com/kioskops/provisioning-agent/enrollment"
	"github.com/kioskops/provisioning-agent/interfaces"
)

// Deps carries the collaborators the concrete modules are wired with.
type Deps struct {
	Runner      Runner
	Store       interfaces.SettingsStore
	Enrollment  *enrollment.Client
	Fingerprint enrollment.FingerprintProvider
	Probe       Prober
	MOKKeyPath  string
	Log         *slog.Logger
}

// DefaultRegistry builds the registry from the explicit module table. Module
// discovery is a plain list here, not an import-time side effect, so the
// full set of units is readable in one place.
func DefaultRegistry(deps Deps) (*Registry, error) {
	if deps.MOKKeyPath == "" {
		deps.MOKKeyPath = "/var/lib/shim-signed/mok/MOK.der"
	}

	table := []interfaces.Module{
		NewBaseSystemModule(deps.Runner, deps.Log),
		NewNetworkModule(deps.Runner, deps.Log),
		NewDisplayModule(deps.Runner, deps.Store, deps.Log),
		NewContainerRuntimeModule(deps.Runner, deps.Probe, deps.Log),
		NewSecurebootModule(deps.Runner, deps.MOKKeyPath, deps.Log),
		NewTailnetModule(deps.Runner, deps.Enrollment, deps.Fingerprint, deps.Log),
	}

	reg := NewRegistry()
	for _, m := range table {
		if err := reg.Register(m); err != nil {
			return nil, fmt.Errorf("module table invalid: %w", err)
		}
	}
	if err := reg.ValidateDependencies(); err != nil {
		return nil, fmt.Errorf("module table invalid: %w", err)
	}
	return reg, nil
}
