package modules

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kioskops/provisioning-agent/interfaces"
)

// Module names, stable keys in the status map and in dependency references.
const (
	NameBaseSystem       = "base-system"
	NameNetwork          = "network"
	NameDisplay          = "display"
	NameContainerRuntime = "container-runtime"
	NameSecureboot       = "secureboot"
	NameTailnet          = "tailnet"
)

// BaseSystemModule brings the package index up to date and installs the
// baseline tooling every other module builds on.
type BaseSystemModule struct {
	runner Runner
	log    *slog.Logger
}

// NewBaseSystemModule creates the base system module.
func NewBaseSystemModule(runner Runner, log *slog.Logger) *BaseSystemModule {
	return &BaseSystemModule{runner: runner, log: log}
}

func (m *BaseSystemModule) Descriptor() interfaces.ModuleDescriptor {
	return interfaces.ModuleDescriptor{
		Name:        NameBaseSystem,
		DisplayName: "Base System",
		Description: "Package index refresh and baseline tooling",
		Order:       10,
	}
}

func (m *BaseSystemModule) CheckPrerequisites(ctx context.Context) (bool, string) {
	return true, ""
}

func (m *BaseSystemModule) Install(ctx context.Context) interfaces.InstallResult {
	if _, err := m.runner.Run(ctx, "apt-get", "update"); err != nil {
		return interfaces.Failed(fmt.Sprintf("package index refresh failed: %v", err))
	}
	if _, err := m.runner.Run(ctx, "apt-get", "install", "-y", "curl", "ca-certificates", "unattended-upgrades"); err != nil {
		return interfaces.Failed(fmt.Sprintf("baseline package install failed: %v", err))
	}
	return interfaces.Completed("base system ready")
}
