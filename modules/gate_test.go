package modules

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kioskops/provisioning-agent/interfaces"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func statuses(pairs ...any) map[string]interfaces.ModuleStatus {
	out := make(map[string]interfaces.ModuleStatus)
	for i := 0; i < len(pairs); i += 2 {
		out[pairs[i].(string)] = pairs[i+1].(interfaces.ModuleStatus)
	}
	return out
}

func TestCanInstallAlreadyInstalled(t *testing.T) {
	m := newStub("network", 20)
	allowed, reason := CanInstall(context.Background(), m, statuses("network", interfaces.StatusCompleted))
	assert.False(t, allowed)
	assert.Equal(t, ReasonAlreadyInstalled, reason)
}

func TestCanInstallInProgress(t *testing.T) {
	m := newStub("network", 20)
	allowed, reason := CanInstall(context.Background(), m, statuses("network", interfaces.StatusInstalling))
	assert.False(t, allowed)
	assert.Equal(t, ReasonInstallInProgress, reason)
}

func TestCanInstallFirstUnmetDependencyNamed(t *testing.T) {
	m := newStub("tailnet", 60, "base-system", "network")

	// Neither dependency met: the first declared one is named, regardless of
	// the second's state.
	allowed, reason := CanInstall(context.Background(), m, statuses())
	assert.False(t, allowed)
	assert.Equal(t, "dependency not met: base-system", reason)

	allowed, reason = CanInstall(context.Background(), m, statuses(
		"base-system", interfaces.StatusFailed,
		"network", interfaces.StatusCompleted,
	))
	assert.False(t, allowed)
	assert.Equal(t, "dependency not met: base-system", reason)

	// First met, second not: the second is named.
	allowed, reason = CanInstall(context.Background(), m, statuses(
		"base-system", interfaces.StatusCompleted,
	))
	assert.False(t, allowed)
	assert.Equal(t, "dependency not met: network", reason)
}

func TestCanInstallIdentityChecksBeforeDependencies(t *testing.T) {
	// A completed module with unmet dependencies reports "already installed",
	// not the dependency.
	m := newStub("tailnet", 60, "network")
	allowed, reason := CanInstall(context.Background(), m, statuses("tailnet", interfaces.StatusCompleted))
	assert.False(t, allowed)
	assert.Equal(t, ReasonAlreadyInstalled, reason)
}

func TestCanInstallPrereqReasonVerbatim(t *testing.T) {
	m := newStub("display", 30)
	m.prereqOK = false
	m.prereqReason = "kiosk id not set"

	allowed, reason := CanInstall(context.Background(), m, statuses())
	assert.False(t, allowed)
	assert.Equal(t, "kiosk id not set", reason)
}

func TestCanInstallDependenciesBeforePrereq(t *testing.T) {
	// An unmet dependency short-circuits before the module-specific check.
	m := newStub("display", 30, "base-system")
	m.prereqOK = false
	m.prereqReason = "kiosk id not set"

	allowed, reason := CanInstall(context.Background(), m, statuses())
	assert.False(t, allowed)
	assert.Equal(t, "dependency not met: base-system", reason)
}

func TestCanInstallAllowed(t *testing.T) {
	m := newStub("network", 20, "base-system")
	allowed, reason := CanInstall(context.Background(), m, statuses(
		"base-system", interfaces.StatusCompleted,
	))
	assert.True(t, allowed)
	assert.Equal(t, "", reason)
}

func TestCanInstallReattemptStates(t *testing.T) {
	// failed, mok_pending and reboot_required all permit a re-attempt.
	for _, st := range []interfaces.ModuleStatus{
		interfaces.StatusFailed,
		interfaces.StatusMOKPending,
		interfaces.StatusRebootRequired,
	} {
		m := newStub("network", 20)
		allowed, reason := CanInstall(context.Background(), m, statuses("network", st))
		assert.True(t, allowed, string(st))
		assert.Equal(t, "", reason)
	}
}

func TestCanInstallScenario(t *testing.T) {
	// Module A has no dependencies; module B depends on A.
	a := newStub("module-a", 1)
	b := newStub("module-b", 2, "module-a")

	st := statuses()
	allowed, _ := CanInstall(context.Background(), a, st)
	assert.True(t, allowed)

	allowed, reason := CanInstall(context.Background(), b, st)
	assert.False(t, allowed)
	assert.Equal(t, "dependency not met: module-a", reason)

	st["module-a"] = interfaces.StatusCompleted
	allowed, reason = CanInstall(context.Background(), b, st)
	assert.True(t, allowed)
	assert.Equal(t, "", reason)
}
