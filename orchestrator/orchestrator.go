package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kioskops/provisioning-agent/interfaces"
	"github.com/kioskops/provisioning-agent/metrics"
	"github.com/kioskops/provisioning-agent/modules"
)

// RequestResult is the immediate answer to an install request.
type RequestResult struct {
	// Accepted reports whether the gate admitted the request. When false,
	// Reason says why; that is a normal negative answer, not an error.
	Accepted bool
	Reason   string

	// Result is the final install result. It is populated by the blocking
	// Install; RequestInstall returns before the routine finishes.
	Result interfaces.InstallResult
}

// Orchestrator owns the per-module install state machines.
type Orchestrator struct {
	registry *modules.Registry
	store    interfaces.SettingsStore
	log      *slog.Logger

	// One mutex per registered module; acquired only via TryLock because
	// "already installing" is an immediately reportable answer, never a
	// contention state to wait out.
	locks map[string]*sync.Mutex

	mu          sync.RWMutex
	lastMessage map[string]string
}

// New creates an orchestrator over the given registry and settings store.
func New(registry *modules.Registry, store interfaces.SettingsStore, log *slog.Logger) *Orchestrator {
	locks := make(map[string]*sync.Mutex)
	for name := range registry.Names() {
		locks[name] = &sync.Mutex{}
	}
	return &Orchestrator{
		registry:    registry,
		store:       store,
		log:         log,
		locks:       locks,
		lastMessage: make(map[string]string),
	}
}

// Status returns the persisted status of a module. A name never transitioned
// reads as pending.
func (o *Orchestrator) Status(name string) interfaces.ModuleStatus {
	raw, _ := o.store.Get(interfaces.ModuleStatusKey(name), string(interfaces.StatusPending)).(string)
	status := interfaces.ModuleStatus(raw)
	if !status.Valid() {
		return interfaces.StatusPending
	}
	return status
}

// Statuses returns the current status map for all registered modules.
func (o *Orchestrator) Statuses() map[string]interfaces.ModuleStatus {
	out := make(map[string]interfaces.ModuleStatus)
	for name := range o.registry.Names() {
		out[name] = o.Status(name)
	}
	return out
}

// LastMessage returns the human-readable message from the module's most
// recent install attempt in this process.
func (o *Orchestrator) LastMessage(name string) string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.lastMessage[name]
}

// RequestInstall admits or denies an install of the named module and, when
// admitted, runs the install routine on its own goroutine. It returns as
// soon as the module has transitioned to installing; the outcome is observed
// via Status and LastMessage. An unknown name is an error.
//
// Install routines outlive the request that started them, so the routine
// runs under a context derived from ctx with cancellation removed.
func (o *Orchestrator) RequestInstall(ctx context.Context, name string) (RequestResult, error) {
	m, lock, denial, err := o.admit(ctx, name)
	if err != nil {
		return RequestResult{}, err
	}
	if lock == nil {
		return RequestResult{Reason: denial}, nil
	}

	go func() {
		defer lock.Unlock()
		o.finish(context.WithoutCancel(ctx), m)
	}()
	return RequestResult{Accepted: true}, nil
}

// Install is the blocking form of RequestInstall: when the request is
// admitted, it runs the install routine on the calling goroutine and returns
// the final result.
func (o *Orchestrator) Install(ctx context.Context, name string) (RequestResult, error) {
	m, lock, denial, err := o.admit(ctx, name)
	if err != nil {
		return RequestResult{}, err
	}
	if lock == nil {
		return RequestResult{Reason: denial}, nil
	}

	defer lock.Unlock()
	res := o.finish(ctx, m)
	return RequestResult{Accepted: true, Result: res}, nil
}

// ListInstallable returns the names of modules the gate currently allows, in
// display order.
func (o *Orchestrator) ListInstallable(ctx context.Context) []string {
	statuses := o.Statuses()
	var out []string
	for _, m := range o.registry.ListOrdered() {
		if ok, _ := modules.CanInstall(ctx, m, statuses); ok {
			out = append(out, m.Descriptor().Name)
		}
	}
	return out
}

// Reconcile is the startup pass over persisted statuses.
//
// Modules parked in mok_pending or reboot_required get their recheck hook
// invoked; a satisfied condition promotes them to completed, anything else
// leaves the status untouched. A module persisted as installing belongs to a
// process that no longer exists and is recorded as failed.
func (o *Orchestrator) Reconcile(ctx context.Context) {
	for _, m := range o.registry.ListOrdered() {
		name := m.Descriptor().Name
		lock := o.locks[name]
		if !lock.TryLock() {
			continue
		}

		switch o.Status(name) {
		case interfaces.StatusInstalling:
			o.log.Warn("Module was installing when the process stopped, marking failed", "module", name)
			o.transition(name, interfaces.StatusFailed, "install interrupted by agent restart")
		case interfaces.StatusMOKPending, interfaces.StatusRebootRequired:
			rc, ok := m.(interfaces.Rechecker)
			if !ok {
				o.log.Warn("Module has a reboot-pending status but no recheck hook", "module", name)
				break
			}
			if rc.Recheck(ctx) {
				o.log.Info("Pending condition satisfied, completing module", "module", name)
				o.transition(name, interfaces.StatusCompleted, "pending condition satisfied after reboot")
			}
		}
		lock.Unlock()
	}
}

// admit resolves the module and performs the lock+gate handshake. On
// admission it has already transitioned the module to installing and returns
// the held lock; the caller must unlock after the install finishes. A nil
// lock with a reason means the request was denied.
func (o *Orchestrator) admit(ctx context.Context, name string) (interfaces.Module, *sync.Mutex, string, error) {
	m, err := o.registry.Get(name)
	if err != nil {
		return nil, nil, "", err
	}

	lock := o.locks[name]
	if !lock.TryLock() {
		metrics.InstallsDenied.WithLabelValues(name).Inc()
		return nil, nil, modules.ReasonInstallInProgress, nil
	}

	// Re-evaluate under the lock: the gate's status read and our start must
	// be one atomic step.
	if allowed, reason := modules.CanInstall(ctx, m, o.Statuses()); !allowed {
		lock.Unlock()
		metrics.InstallsDenied.WithLabelValues(name).Inc()
		return nil, nil, reason, nil
	}

	o.transition(name, interfaces.StatusInstalling, "")
	metrics.InstallsStarted.WithLabelValues(name).Inc()
	o.log.Info("Install started", "module", name)
	return m, lock, "", nil
}

// finish runs the install routine and records its terminal status. The
// caller holds the module's lock.
func (o *Orchestrator) finish(ctx context.Context, m interfaces.Module) interfaces.InstallResult {
	name := m.Descriptor().Name

	res := o.invoke(ctx, m)
	if !res.Status.Terminal() {
		res = interfaces.Failed(fmt.Sprintf("install routine returned non-terminal status %q: %s", res.Status, res.Message))
	}

	o.transition(name, res.Status, res.Message)
	metrics.InstallOutcomes.WithLabelValues(name, string(res.Status)).Inc()

	if res.Status == interfaces.StatusFailed {
		o.log.Error("Install failed", "module", name, "message", res.Message)
	} else {
		o.log.Info("Install finished", "module", name, "status", string(res.Status), "message", res.Message)
	}
	return res
}

// invoke calls the install routine, converting a panic into a reported
// failure so a faulty module cannot take the process down.
func (o *Orchestrator) invoke(ctx context.Context, m interfaces.Module) (res interfaces.InstallResult) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("Install routine panicked", "module", m.Descriptor().Name, "panic", fmt.Sprintf("%v", r))
			res = interfaces.Failed(fmt.Sprintf("install routine panicked: %v", r))
		}
	}()
	return m.Install(ctx)
}

// transition persists a status change immediately. Transitions run under the
// module's lock, so they are totally ordered per module.
func (o *Orchestrator) transition(name string, status interfaces.ModuleStatus, message string) {
	if err := o.store.Set(interfaces.ModuleStatusKey(name), string(status)); err != nil {
		o.log.Error("Failed to record module status", "module", name, "status", string(status), "err", err)
	}
	if err := o.store.Persist(); err != nil {
		o.log.Error("Failed to persist module status", "module", name, "status", string(status), "err", err)
	}

	o.mu.Lock()
	if message != "" {
		o.lastMessage[name] = message
	}
	o.mu.Unlock()
}
