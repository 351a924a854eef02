package interfaces

import "context"

// ModuleStatus is the persisted installation state of a module.
type ModuleStatus string

const (
	// StatusPending means the module has never been installed.
	StatusPending ModuleStatus = "pending"

	// StatusInstalling means an install attempt is currently running.
	StatusInstalling ModuleStatus = "installing"

	// StatusCompleted means the module installed successfully. This is the
	// only status that satisfies a dependency requirement.
	StatusCompleted ModuleStatus = "completed"

	// StatusFailed means the last install attempt reported or raised a
	// failure. The module may be re-attempted.
	StatusFailed ModuleStatus = "failed"

	// StatusMOKPending means the install staged a Machine Owner Key and a
	// reboot with manual enrollment is required before the module counts as
	// done.
	StatusMOKPending ModuleStatus = "mok_pending"

	// StatusRebootRequired means the install finished its work but the
	// result only takes effect after a reboot.
	StatusRebootRequired ModuleStatus = "reboot_required"
)

// Terminal reports whether s is a status from which the orchestrator drives
// no further transition without an external event.
func (s ModuleStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusMOKPending, StatusRebootRequired:
		return true
	}
	return false
}

// Valid reports whether s is one of the known status values.
func (s ModuleStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInstalling, StatusCompleted, StatusFailed,
		StatusMOKPending, StatusRebootRequired:
		return true
	}
	return false
}

// ModuleDescriptor is the static identity of an installation unit. Descriptors
// are defined once at process start and never mutated.
type ModuleDescriptor struct {
	// Name is the unique, stable key of the module. It is used in the
	// persisted status map and in dependency references.
	Name string

	// DisplayName and Description are presentation only.
	DisplayName string
	Description string

	// Order is a sort key for presentation. It does not influence execution
	// order; dependencies do.
	Order int

	// Dependencies lists module names that must reach StatusCompleted before
	// this module may install, in declared order.
	Dependencies []string
}

// InstallResult is the outcome an install routine reports. Status must be a
// terminal status; anything else is normalized to StatusFailed by the
// orchestrator.
type InstallResult struct {
	Status  ModuleStatus
	Message string
}

// Completed builds a successful install result.
func Completed(message string) InstallResult {
	return InstallResult{Status: StatusCompleted, Message: message}
}

// Failed builds a reported-failure install result.
func Failed(message string) InstallResult {
	return InstallResult{Status: StatusFailed, Message: message}
}

// MOKPending builds a result signaling that MOK enrollment must happen across
// a reboot before the module can complete.
func MOKPending(message string) InstallResult {
	return InstallResult{Status: StatusMOKPending, Message: message}
}

// RebootRequired builds a result signaling that a reboot must happen before
// the module can complete.
func RebootRequired(message string) InstallResult {
	return InstallResult{Status: StatusRebootRequired, Message: message}
}

// Module is one named, installable unit of system configuration.
//
// Install performs the actual installation work and may block for a long
// time; it reports its outcome rather than returning an error. A panic from
// Install is recovered at the orchestrator boundary and treated as a failure.
type Module interface {
	// Descriptor returns the module's static identity.
	Descriptor() ModuleDescriptor

	// CheckPrerequisites decides whether module-specific preconditions hold
	// right now (network reachable, required settings present, ...). The
	// reason is surfaced verbatim to the caller when ok is false.
	CheckPrerequisites(ctx context.Context) (ok bool, reason string)

	// Install runs the installation to completion.
	Install(ctx context.Context) InstallResult
}

// Rechecker is the optional capability of modules that can land in
// StatusMOKPending or StatusRebootRequired. Recheck probes whether the
// pending external condition is now satisfied. It must be idempotent, safe to
// call any number of times, and must not re-run install side effects.
type Rechecker interface {
	Recheck(ctx context.Context) bool
}

// SettingsStore is the persisted key/value store the agent keeps its runtime
// state in. Keys are dotted paths; module statuses live under the reserved
// "modules.<name>" namespace.
type SettingsStore interface {
	// Get returns the value at the dotted key, or def when the key is absent.
	Get(key string, def any) any

	// Set stores a value at the dotted key, creating intermediate levels as
	// needed. The value is not durable until Persist is called; backends
	// with immediate durability may make Persist a no-op.
	Set(key string, value any) error

	// Persist flushes the store to its backing medium.
	Persist() error
}

// ModuleStatusKey returns the settings-store key a module's status is
// persisted under.
func ModuleStatusKey(name string) string {
	return "modules." + name
}
