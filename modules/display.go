package modules

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kioskops/provisioning-agent/interfaces"
)

// KioskIDKey is the settings key holding the kiosk's assigned identifier.
// The display module refuses to install until an operator has set it, since
// the kiosk session is branded per identifier.
const KioskIDKey = "kiosk.id"

// DisplayModule sets up the display stack and the kiosk browser session.
type DisplayModule struct {
	runner Runner
	store  interfaces.SettingsStore
	log    *slog.Logger
}

// NewDisplayModule creates the display module.
func NewDisplayModule(runner Runner, store interfaces.SettingsStore, log *slog.Logger) *DisplayModule {
	return &DisplayModule{runner: runner, store: store, log: log}
}

func (m *DisplayModule) Descriptor() interfaces.ModuleDescriptor {
	return interfaces.ModuleDescriptor{
		Name:         NameDisplay,
		DisplayName:  "Display",
		Description:  "Display stack and kiosk session",
		Order:        30,
		Dependencies: []string{NameBaseSystem},
	}
}

func (m *DisplayModule) CheckPrerequisites(ctx context.Context) (bool, string) {
	if id, _ := m.store.Get(KioskIDKey, "").(string); id == "" {
		return false, "kiosk id not set"
	}
	return true, ""
}

func (m *DisplayModule) Install(ctx context.Context) interfaces.InstallResult {
	if _, err := m.runner.Run(ctx, "apt-get", "install", "-y", "cage", "chromium"); err != nil {
		return interfaces.Failed(fmt.Sprintf("display stack install failed: %v", err))
	}
	if _, err := m.runner.Run(ctx, "systemctl", "enable", "kiosk-session.service"); err != nil {
		return interfaces.Failed(fmt.Sprintf("kiosk session enable failed: %v", err))
	}
	return interfaces.Completed("kiosk session configured")
}
