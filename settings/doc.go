// Package settings provides the agent's persisted key/value store with
// pluggable backends.
//
// Values are addressed by dotted paths ("kiosk.id", "modules.network") and
// the store is the durability layer for the module status map: the
// orchestrator persists a module's status on every transition, so a crash
// mid-install leaves durable evidence of the last known state.
//
// # Store URI format
//
// Backends are selected by URI scheme:
//
//   - file:///var/lib/kiosk/settings.json (JSON file, atomic rename writes)
//   - bolt:///var/lib/kiosk/settings.db (bbolt database, durable per write)
//
// Both backends are safe for concurrent use.
package settings
