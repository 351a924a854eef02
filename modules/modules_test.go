package modules

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kioskops/provisioning-agent/api/approval"
	"github.com/kioskops/provisioning-agent/enrollment"
	"github.com/kioskops/provisioning-agent/interfaces"
)

// scriptedRunner maps "cmd arg..." prefixes to canned outcomes.
type scriptedRunner struct {
	outputs map[string]string
	errs    map[string]error
	calls   []string
}

func (r *scriptedRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := strings.TrimSpace(name + " " + strings.Join(args, " "))
	r.calls = append(r.calls, cmd)
	for prefix, err := range r.errs {
		if strings.HasPrefix(cmd, prefix) {
			return r.outputs[prefix], err
		}
	}
	for prefix, out := range r.outputs {
		if strings.HasPrefix(cmd, prefix) {
			return out, nil
		}
	}
	return "", nil
}

type fixedFingerprint string

func (f fixedFingerprint) Fingerprint(context.Context) (string, error) {
	return string(f), nil
}

func TestSecurebootStagesMOK(t *testing.T) {
	runner := &scriptedRunner{outputs: map[string]string{
		"mokutil --sb-state": "SecureBoot enabled",
		"mokutil --test-key": "/tmp/MOK.der is not enrolled",
	}}
	m := NewSecurebootModule(runner, "/tmp/MOK.der", testLogger())

	ok, reason := m.CheckPrerequisites(context.Background())
	require.True(t, ok, reason)

	res := m.Install(context.Background())
	assert.Equal(t, interfaces.StatusMOKPending, res.Status)
	assert.Contains(t, strings.Join(runner.calls, "\n"), "mokutil --import /tmp/MOK.der")

	// Before the reboot the key is still not enrolled.
	assert.False(t, m.Recheck(context.Background()))

	// After the firmware enrolls the key, recheck reports satisfied without
	// re-importing.
	imports := len(runner.calls)
	runner.outputs["mokutil --test-key"] = "/tmp/MOK.der is already enrolled"
	assert.True(t, m.Recheck(context.Background()))
	for _, call := range runner.calls[imports:] {
		assert.NotContains(t, call, "--import")
	}
}

func TestSecurebootPrerequisites(t *testing.T) {
	runner := &scriptedRunner{outputs: map[string]string{
		"mokutil --sb-state": "SecureBoot disabled",
	}}
	m := NewSecurebootModule(runner, "/tmp/MOK.der", testLogger())

	ok, reason := m.CheckPrerequisites(context.Background())
	assert.False(t, ok)
	assert.Equal(t, "secure boot disabled in firmware", reason)
}

func newApprovalServer(t *testing.T) (*enrollment.Client, *approval.Handler, string) {
	t.Helper()
	handler := approval.NewHandler(approval.NewMemoryStore(), approval.HandlerConfig{}, testLogger())
	mux := chi.NewRouter()
	handler.RegisterRoutes(mux)
	handler.RegisterAdminRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return enrollment.NewClient(srv.URL, testLogger()), handler, srv.URL
}

func TestTailnetJoinsWithPreApprovedCredential(t *testing.T) {
	client, _, url := newApprovalServer(t)

	// Pre-approve the device so submission is answered with the credential
	// and no polling wait is needed.
	resp, err := http.Post(url+"/api/admin/enrollment/fp-kiosk/approve", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()

	runner := &scriptedRunner{}
	m := NewTailnetModule(runner, client, fixedFingerprint("fp-kiosk"), testLogger())

	ok, reason := m.CheckPrerequisites(context.Background())
	require.True(t, ok, reason)

	res := m.Install(context.Background())
	require.Equal(t, interfaces.StatusCompleted, res.Status, res.Message)

	joined := strings.Join(runner.calls, "\n")
	assert.Contains(t, joined, "apt-get install -y tailscale")
	assert.Contains(t, joined, "tailscale up --auth-key")
}

func TestTailnetWaitsForApproval(t *testing.T) {
	client, _, url := newApprovalServer(t)

	runner := &scriptedRunner{}
	m := NewTailnetModule(runner, client, fixedFingerprint("fp-wait"), testLogger())
	m.ApprovalTimeout = 5 * time.Second
	m.PollInterval = 10 * time.Millisecond

	// An administrator approves while the module polls.
	go func() {
		time.Sleep(50 * time.Millisecond)
		resp, err := http.Post(url+"/api/admin/enrollment/fp-wait/approve", "application/json", nil)
		if err == nil {
			resp.Body.Close()
		}
	}()

	res := m.Install(context.Background())
	assert.Equal(t, interfaces.StatusCompleted, res.Status, res.Message)
}

func TestTailnetRejectionFails(t *testing.T) {
	client, _, url := newApprovalServer(t)

	runner := &scriptedRunner{}
	m := NewTailnetModule(runner, client, fixedFingerprint("fp-bad"), testLogger())
	m.ApprovalTimeout = 5 * time.Second
	m.PollInterval = 10 * time.Millisecond

	go func() {
		time.Sleep(50 * time.Millisecond)
		resp, err := http.Post(url+"/api/admin/enrollment/fp-bad/reject", "application/json", strings.NewReader(`{"reason":"unknown hardware"}`))
		if err == nil {
			resp.Body.Close()
		}
	}()

	res := m.Install(context.Background())
	assert.Equal(t, interfaces.StatusFailed, res.Status)
	assert.Contains(t, res.Message, "no credential obtained")
	assert.Contains(t, res.Message, "unknown hardware")
	assert.Empty(t, runner.calls, "a rejected device must not run the join")
}

func TestTailnetPrerequisiteWithoutClient(t *testing.T) {
	m := NewTailnetModule(&scriptedRunner{}, nil, fixedFingerprint("fp"), testLogger())
	ok, reason := m.CheckPrerequisites(context.Background())
	assert.False(t, ok)
	assert.Equal(t, "approval server not configured", reason)
}

func TestTailnetRebootRequired(t *testing.T) {
	client, _, url := newApprovalServer(t)
	runner := &scriptedRunner{
		outputs: map[string]string{"tailscale up": "tun module not loaded"},
		errs:    map[string]error{"tailscale up": errors.New("exit status 1")},
	}
	m := NewTailnetModule(runner, client, fixedFingerprint("fp-tun"), testLogger())

	resp, err := http.Post(url+"/api/admin/enrollment/fp-tun/approve", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()

	res := m.Install(context.Background())
	assert.Equal(t, interfaces.StatusRebootRequired, res.Status)

	// Recheck consults only the status probe.
	runner.outputs["tailscale status"] = `{"BackendState": "Running"}`
	assert.True(t, m.Recheck(context.Background()))

	runner.outputs["tailscale status"] = `{"BackendState": "NeedsLogin"}`
	assert.False(t, m.Recheck(context.Background()))
}

func TestBaseSystemInstall(t *testing.T) {
	runner := &scriptedRunner{}
	m := NewBaseSystemModule(runner, testLogger())

	res := m.Install(context.Background())
	assert.Equal(t, interfaces.StatusCompleted, res.Status)
	require.GreaterOrEqual(t, len(runner.calls), 2)
	assert.Equal(t, "apt-get update", runner.calls[0])

	runner.errs = map[string]error{"apt-get update": fmt.Errorf("no network")}
	res = m.Install(context.Background())
	assert.Equal(t, interfaces.StatusFailed, res.Status)
	assert.Contains(t, res.Message, "package index refresh failed")
}
