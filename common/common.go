// Package common holds process-wide identity and logging setup shared by all
// executables in this repository.
package common

// PackageName identifies this service in logs and metrics.
const PackageName = "provisioning-agent"

// Version is the service version, overridden at build time via
// -ldflags "-X github.com/kioskops/provisioning-agent/common.Version=...".
var Version = "dev"
