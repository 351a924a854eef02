// Package modules defines the kiosk installation units, the registry that
// holds them, and the installability gate.
//
// Modules are registered once at startup from an explicit table (see
// DefaultRegistry); the registry is immutable afterwards and safe for
// concurrent reads. The gate, CanInstall, is a pure decision function over a
// module and the current status map; it never caches, so every call reflects
// the statuses it is handed.
//
// The concrete modules delegate all shell effects to the Runner interface,
// which keeps the units testable and keeps package-manager specifics out of
// the orchestration core.
package modules
