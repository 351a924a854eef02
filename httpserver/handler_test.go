package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kioskops/provisioning-agent/interfaces"
	"github.com/kioskops/provisioning-agent/modules"
	"github.com/kioskops/provisioning-agent/orchestrator"
	"github.com/kioskops/provisioning-agent/settings"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type panelModule struct {
	desc    interfaces.ModuleDescriptor
	install func(ctx context.Context) interfaces.InstallResult
}

func (m *panelModule) Descriptor() interfaces.ModuleDescriptor           { return m.desc }
func (m *panelModule) CheckPrerequisites(context.Context) (bool, string) { return true, "" }
func (m *panelModule) Install(ctx context.Context) interfaces.InstallResult {
	if m.install != nil {
		return m.install(ctx)
	}
	return interfaces.Completed("done")
}

func newPanel(t *testing.T, mods ...interfaces.Module) (http.Handler, *orchestrator.Orchestrator) {
	t.Helper()

	store, err := settings.NewFileStore(filepath.Join(t.TempDir(), "settings.json"), testLogger())
	require.NoError(t, err)

	reg := modules.NewRegistry()
	for _, m := range mods {
		require.NoError(t, reg.Register(m))
	}
	orch := orchestrator.New(reg, store, testLogger())

	mux := chi.NewRouter()
	NewHandler(reg, orch, testLogger()).RegisterRoutes(mux)
	return mux, orch
}

func TestListModules(t *testing.T) {
	a := &panelModule{desc: interfaces.ModuleDescriptor{Name: "module-a", DisplayName: "Module A", Order: 1}}
	b := &panelModule{desc: interfaces.ModuleDescriptor{Name: "module-b", DisplayName: "Module B", Order: 2, Dependencies: []string{"module-a"}}}
	mux, _ := newPanel(t, a, b)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/modules", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var list []ModuleState
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Len(t, list, 2)

	assert.Equal(t, "module-a", list[0].Name)
	assert.Equal(t, "pending", list[0].Status)
	assert.True(t, list[0].Installable)

	assert.Equal(t, "module-b", list[1].Name)
	assert.False(t, list[1].Installable)
	assert.Equal(t, "dependency not met: module-a", list[1].Reason)
}

func TestInstallEndpoint(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	m := &panelModule{
		desc: interfaces.ModuleDescriptor{Name: "module-a", Order: 1},
		install: func(ctx context.Context) interfaces.InstallResult {
			close(started)
			<-release
			return interfaces.Completed("done")
		},
	}
	mux, orch := newPanel(t, m)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/modules/module-a/install", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp InstallResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "installing", resp.Status)
	<-started

	// A second request while the install runs is a conflict with the gate's
	// in-progress reason.
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/modules/module-a/install", nil))
	require.Equal(t, http.StatusConflict, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, modules.ReasonInstallInProgress, resp.Reason)

	close(release)
	deadline := time.Now().Add(5 * time.Second)
	for orch.Status("module-a") != interfaces.StatusCompleted && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, interfaces.StatusCompleted, orch.Status("module-a"))
}

func TestInstallUnknownModule(t *testing.T) {
	mux, _ := newPanel(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/modules/ghost/install", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestModuleStatusEndpoint(t *testing.T) {
	m := &panelModule{desc: interfaces.ModuleDescriptor{Name: "module-a", Order: 1}}
	mux, orch := newPanel(t, m)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/modules/module-a/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp InstallResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "pending", resp.Status)

	_, err := orch.Install(context.Background(), "module-a")
	require.NoError(t, err)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/modules/module-a/status", nil))
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "completed", resp.Status)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/modules/ghost/status", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
