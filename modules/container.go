package modules

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/kioskops/provisioning-agent/interfaces"
)

// Prober reports whether the outside network is reachable. Injectable so
// tests do not dial out.
type Prober func(ctx context.Context) error

// DefaultProber dials a well-known endpoint with a short timeout.
func DefaultProber(ctx context.Context) error {
	d := net.Dialer{Timeout: 5 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", "1.1.1.1:443")
	if err != nil {
		return err
	}
	return conn.Close()
}

// ContainerRuntimeModule installs the container engine the kiosk's
// application workloads run in. The install pulls from remote repositories,
// so its prerequisite is outside connectivity.
type ContainerRuntimeModule struct {
	runner Runner
	probe  Prober
	log    *slog.Logger
}

// NewContainerRuntimeModule creates the container runtime module.
func NewContainerRuntimeModule(runner Runner, probe Prober, log *slog.Logger) *ContainerRuntimeModule {
	if probe == nil {
		probe = DefaultProber
	}
	return &ContainerRuntimeModule{runner: runner, probe: probe, log: log}
}

func (m *ContainerRuntimeModule) Descriptor() interfaces.ModuleDescriptor {
	return interfaces.ModuleDescriptor{
		Name:         NameContainerRuntime,
		DisplayName:  "Container Runtime",
		Description:  "Docker engine for kiosk workloads",
		Order:        40,
		Dependencies: []string{NameNetwork},
	}
}

func (m *ContainerRuntimeModule) CheckPrerequisites(ctx context.Context) (bool, string) {
	if err := m.probe(ctx); err != nil {
		return false, "internet not reachable"
	}
	return true, ""
}

func (m *ContainerRuntimeModule) Install(ctx context.Context) interfaces.InstallResult {
	if _, err := m.runner.Run(ctx, "apt-get", "install", "-y", "docker.io", "docker-compose-v2"); err != nil {
		return interfaces.Failed(fmt.Sprintf("docker install failed: %v", err))
	}
	if _, err := m.runner.Run(ctx, "systemctl", "enable", "--now", "docker"); err != nil {
		return interfaces.Failed(fmt.Sprintf("docker enable failed: %v", err))
	}
	return interfaces.Completed("container runtime ready")
}
