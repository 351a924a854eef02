package modules

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kioskops/provisioning-agent/interfaces"
)

// SecurebootModule enrolls the kiosk's Machine Owner Key so locally signed
// kernel modules load under Secure Boot. Importing the key only stages it;
// the firmware completes enrollment during the next boot, so a successful
// install lands in mok_pending rather than completed. Recheck asks the
// firmware whether the key is enrolled yet.
type SecurebootModule struct {
	runner Runner
	log    *slog.Logger

	keyPath string
}

// NewSecurebootModule creates the secureboot module. keyPath is the DER
// certificate staged for MOK enrollment.
func NewSecurebootModule(runner Runner, keyPath string, log *slog.Logger) *SecurebootModule {
	return &SecurebootModule{runner: runner, keyPath: keyPath, log: log}
}

func (m *SecurebootModule) Descriptor() interfaces.ModuleDescriptor {
	return interfaces.ModuleDescriptor{
		Name:         NameSecureboot,
		DisplayName:  "Secure Boot",
		Description:  "Machine Owner Key enrollment for signed kernel modules",
		Order:        50,
		Dependencies: []string{NameBaseSystem},
	}
}

func (m *SecurebootModule) CheckPrerequisites(ctx context.Context) (bool, string) {
	out, err := m.runner.Run(ctx, "mokutil", "--sb-state")
	if err != nil {
		return false, "secure boot state unavailable"
	}
	if !strings.Contains(out, "SecureBoot enabled") {
		return false, "secure boot disabled in firmware"
	}
	return true, ""
}

func (m *SecurebootModule) Install(ctx context.Context) interfaces.InstallResult {
	if enrolled, _ := m.keyEnrolled(ctx); enrolled {
		return interfaces.Completed("machine owner key already enrolled")
	}
	if _, err := m.runner.Run(ctx, "mokutil", "--import", m.keyPath); err != nil {
		return interfaces.Failed(fmt.Sprintf("mok import failed: %v", err))
	}
	return interfaces.MOKPending("machine owner key staged; reboot and complete MOK enrollment")
}

// Recheck reports whether the staged key is now enrolled. Safe to call any
// number of times; it only queries the firmware state.
func (m *SecurebootModule) Recheck(ctx context.Context) bool {
	enrolled, err := m.keyEnrolled(ctx)
	if err != nil {
		m.log.Debug("MOK enrollment state unavailable", "err", err)
		return false
	}
	return enrolled
}

func (m *SecurebootModule) keyEnrolled(ctx context.Context) (bool, error) {
	// mokutil --test-key exits non-zero when the key IS enrolled, with a
	// message saying so.
	out, err := m.runner.Run(ctx, "mokutil", "--test-key", m.keyPath)
	if strings.Contains(out, "is already enrolled") {
		return true, nil
	}
	return false, err
}
