// Package interfaces defines the shared types and narrow contracts that the
// provisioning core is built against.
//
// The core packages (modules, orchestrator, enrollment) depend on these
// interfaces rather than on concrete collaborators, so that the settings
// store, the shell runner, and the install units themselves are all
// injectable and testable in isolation.
//
// # Module lifecycle
//
// Every installation unit is an implementation of the Module interface with
// an immutable ModuleDescriptor. Its persisted status moves through the
// ModuleStatus state machine:
//
//	pending → installing → completed | failed | mok_pending | reboot_required
//
// A module may be re-attempted from failed, mok_pending, or reboot_required;
// only completed satisfies another module's dependency.
package interfaces
