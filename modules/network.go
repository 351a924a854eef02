package modules

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kioskops/provisioning-agent/interfaces"
)

// NetworkModule installs and enables the network manager the kiosk uses for
// its uplink.
type NetworkModule struct {
	runner Runner
	log    *slog.Logger
}

// NewNetworkModule creates the network module.
func NewNetworkModule(runner Runner, log *slog.Logger) *NetworkModule {
	return &NetworkModule{runner: runner, log: log}
}

func (m *NetworkModule) Descriptor() interfaces.ModuleDescriptor {
	return interfaces.ModuleDescriptor{
		Name:         NameNetwork,
		DisplayName:  "Network",
		Description:  "Uplink configuration via NetworkManager",
		Order:        20,
		Dependencies: []string{NameBaseSystem},
	}
}

func (m *NetworkModule) CheckPrerequisites(ctx context.Context) (bool, string) {
	return true, ""
}

func (m *NetworkModule) Install(ctx context.Context) interfaces.InstallResult {
	if _, err := m.runner.Run(ctx, "apt-get", "install", "-y", "network-manager"); err != nil {
		return interfaces.Failed(fmt.Sprintf("network-manager install failed: %v", err))
	}
	if _, err := m.runner.Run(ctx, "systemctl", "enable", "--now", "NetworkManager"); err != nil {
		return interfaces.Failed(fmt.Sprintf("NetworkManager enable failed: %v", err))
	}
	return interfaces.Completed("network manager enabled")
}
