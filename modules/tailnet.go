package modules

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kioskops/provisioning-agent/api"
	"github.com/kioskops/provisioning-agent/enrollment"
	"github.com/kioskops/provisioning-agent/interfaces"
)

// TailnetModule joins the kiosk to the private overlay network. The join key
// is not configured locally: the module submits the device's hardware
// fingerprint to the approval service, waits for an administrator to approve
// it, and consumes the returned credential in a single join command. The
// credential is never persisted.
type TailnetModule struct {
	runner      Runner
	client      *enrollment.Client
	fingerprint enrollment.FingerprintProvider
	log         *slog.Logger

	// Polling parameters, overridable in tests.
	ApprovalTimeout time.Duration
	PollInterval    time.Duration
}

// NewTailnetModule creates the tailnet module. client may be nil when no
// approval service is configured; the prerequisite check reports that.
func NewTailnetModule(runner Runner, client *enrollment.Client, fingerprint enrollment.FingerprintProvider, log *slog.Logger) *TailnetModule {
	return &TailnetModule{
		runner:          runner,
		client:          client,
		fingerprint:     fingerprint,
		log:             log,
		ApprovalTimeout: enrollment.DefaultApprovalTimeout,
		PollInterval:    enrollment.DefaultPollInterval,
	}
}

func (m *TailnetModule) Descriptor() interfaces.ModuleDescriptor {
	return interfaces.ModuleDescriptor{
		Name:         NameTailnet,
		DisplayName:  "Private Network",
		Description:  "Overlay network enrollment and join",
		Order:        60,
		Dependencies: []string{NameNetwork},
	}
}

func (m *TailnetModule) CheckPrerequisites(ctx context.Context) (bool, string) {
	if m.client == nil || m.client.ServerAddr == "" {
		return false, "approval server not configured"
	}
	return true, ""
}

func (m *TailnetModule) Install(ctx context.Context) interfaces.InstallResult {
	fp, err := m.fingerprint.Fingerprint(ctx)
	if err != nil {
		return interfaces.Failed(fmt.Sprintf("fingerprinting failed: %v", err))
	}

	req := &api.RegisterRequest{Fingerprint: fp}
	if facts, ok := m.fingerprint.(*enrollment.HostFingerprinter); ok {
		req.Hostname, req.Platform = facts.DeviceFacts(ctx)
	}

	resp, err := m.client.SubmitWithRetry(ctx, req, 2*time.Minute)
	if err != nil {
		return interfaces.Failed(fmt.Sprintf("enrollment submission failed: %v", err))
	}

	credential := resp.Credential
	if resp.Status != api.EnrollmentApproved || credential == "" {
		m.log.Info("Waiting for enrollment approval",
			slog.String("fingerprint", fp),
			slog.Duration("timeout", m.ApprovalTimeout))
		credential, err = m.client.AwaitApproval(ctx, fp, m.ApprovalTimeout, m.PollInterval)
		if err != nil {
			// Rejection carries the administrator's reason; timeout and the
			// approved-without-credential anomaly read as themselves.
			return interfaces.Failed(fmt.Sprintf("no credential obtained: %v", err))
		}
	}

	if _, err := m.runner.Run(ctx, "apt-get", "install", "-y", "tailscale"); err != nil {
		return interfaces.Failed(fmt.Sprintf("tailscale install failed: %v", err))
	}
	out, err := m.runner.Run(ctx, "tailscale", "up", "--auth-key", credential)
	if err != nil {
		if strings.Contains(out, "tun module not loaded") {
			return interfaces.RebootRequired("tun device unavailable; reboot to load the module")
		}
		return interfaces.Failed(fmt.Sprintf("tailnet join failed: %v", err))
	}

	return interfaces.Completed("joined private network")
}

// Recheck probes whether the tunnel came up after the reboot the install
// asked for. It re-runs only the status probe, never the join.
func (m *TailnetModule) Recheck(ctx context.Context) bool {
	out, err := m.runner.Run(ctx, "tailscale", "status", "--json")
	if err != nil {
		return false
	}
	return strings.Contains(out, `"BackendState": "Running"`)
}
