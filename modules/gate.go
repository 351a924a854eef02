package modules

import (
	"context"
	"fmt"

	"github.com/kioskops/provisioning-agent/interfaces"
)

// Gate denial reasons for the identity checks. Dependency and prerequisite
// denials carry their own detail.
const (
	ReasonAlreadyInstalled  = "already installed"
	ReasonInstallInProgress = "install in progress"
)

// CanInstall decides whether m may begin installing given the current status
// map. It is evaluated fresh on every call and checks, in order:
//
//  1. the module's own status: completed and installing both deny;
//  2. each declared dependency, in declared order: the first one not at
//     completed denies, naming it;
//  3. the module's own prerequisite hook, whose reason is propagated
//     verbatim.
//
// The ordering is deliberate: identity checks are cheapest and must
// short-circuit before dependency checks, which short-circuit before the
// module-specific (potentially expensive) prerequisite probe, so denial
// reasons are deterministic.
func CanInstall(ctx context.Context, m interfaces.Module, statuses map[string]interfaces.ModuleStatus) (bool, string) {
	desc := m.Descriptor()

	switch statuses[desc.Name] {
	case interfaces.StatusCompleted:
		return false, ReasonAlreadyInstalled
	case interfaces.StatusInstalling:
		return false, ReasonInstallInProgress
	}

	for _, dep := range desc.Dependencies {
		if statuses[dep] != interfaces.StatusCompleted {
			return false, fmt.Sprintf("dependency not met: %s", dep)
		}
	}

	if ok, reason := m.CheckPrerequisites(ctx); !ok {
		return false, reason
	}

	return true, ""
}
