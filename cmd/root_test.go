package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/search-console-tap/internal/app"
	"github.com/JakeFAU/search-console-tap/internal/catalog"
	"github.com/JakeFAU/search-console-tap/internal/config"
	"github.com/JakeFAU/search-console-tap/internal/searchconsole"
	"github.com/JakeFAU/search-console-tap/internal/streams"
	"github.com/JakeFAU/search-console-tap/internal/tap"
)

const testConfigYAML = `
site_urls: "https://example.com/"
start_date: "2024-01-01"
oauth:
  client_id: id
  client_secret: secret
  refresh_token: token
state:
  backend: memory
logging:
  development: false
`

func TestDiscoverPrintsCatalogWithoutConfig(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"discover"})

	require.NoError(t, root.Execute())

	var cat catalog.Catalog
	require.NoError(t, json.Unmarshal(out.Bytes(), &cat))
	require.Len(t, cat.Streams, len(streams.Default().IDs()))
	for _, e := range cat.Streams {
		require.True(t, e.IsSelected(), e.TapStreamID)
	}
}

func TestDiscoverListSites(t *testing.T) {
	fake := &fakeService{sites: []searchconsole.Site{{URL: "https://example.com/", PermissionLevel: "siteOwner"}}}
	useFakeApp(t, fake, nil)

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"discover", "--list-sites", "--config", writeConfig(t)})

	require.NoError(t, root.Execute())
	require.JSONEq(t, `[{"site_url": "https://example.com/", "permission_level": "siteOwner"}]`, out.String())
	require.True(t, fake.closed)
}

func TestDiscoverListSitesNeedsConfig(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"discover", "--list-sites"})

	require.ErrorContains(t, root.Execute(), "configuration not loaded")
}

func TestSyncPassesFlagsToApp(t *testing.T) {
	fake := &fakeService{}
	var gotOpts app.Options
	useFakeApp(t, fake, &gotOpts)

	dir := t.TempDir()
	catPath := filepath.Join(dir, "catalog.json")
	data, err := json.Marshal(catalog.Discover(streams.Default()))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(catPath, data, 0o600))
	statePath := filepath.Join(dir, "state.json")

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{
		"sync",
		"--config", writeConfig(t),
		"--catalog", catPath,
		"--state", statePath,
		"--stream", streams.PerformanceReportDate,
		"--site", "sc-domain:example.org",
	})

	require.NoError(t, root.Execute())
	require.Equal(t, statePath, gotOpts.StatePath)
	require.Len(t, gotOpts.Catalog.Streams, len(streams.Default().IDs()))
	require.Equal(t, tap.RunRequest{
		Streams: []string{streams.PerformanceReportDate},
		Sites:   []string{"sc-domain:example.org"},
	}, fake.req)
	require.True(t, fake.closed)
}

func TestSyncReturnsRunError(t *testing.T) {
	fake := &fakeService{syncErr: errors.New("quota exhausted")}
	useFakeApp(t, fake, nil)

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"sync", "--config", writeConfig(t)})

	err := root.Execute()
	require.ErrorContains(t, err, "quota exhausted")
	require.ErrorContains(t, err, "run-1")
	require.True(t, fake.closed)
}

func TestSyncRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`start_date: "2024-01-01"`), 0o600))

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"sync", "--config", path})

	require.ErrorContains(t, root.Execute(), "site_urls")
}

func TestServeRunsService(t *testing.T) {
	fake := &fakeService{}
	useFakeApp(t, fake, nil)

	root := newRootCmd()
	root.SetArgs([]string{"serve", "--config", writeConfig(t)})

	require.NoError(t, root.Execute())
	require.True(t, fake.served)
	require.True(t, fake.closed)
}

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfigYAML), 0o600))
	return path
}

// useFakeApp swaps the application factory; tests using it must not run in parallel.
func useFakeApp(t *testing.T, fake *fakeService, opts *app.Options) {
	t.Helper()
	orig := newApp
	newApp = func(_ context.Context, _ config.Config, _ *zap.Logger, o app.Options) (Service, error) {
		if opts != nil {
			*opts = o
		}
		return fake, nil
	}
	t.Cleanup(func() { newApp = orig })
}

// --- fakes ---

type fakeService struct {
	req     tap.RunRequest
	syncErr error
	sites   []searchconsole.Site
	served  bool
	closed  bool
}

func (f *fakeService) Sync(_ context.Context, req tap.RunRequest) (string, tap.RunCounters, error) {
	f.req = req
	return "run-1", tap.RunCounters{Streams: 1}, f.syncErr
}

func (f *fakeService) Serve(context.Context) error {
	f.served = true
	return nil
}

func (f *fakeService) ListSites(context.Context) ([]searchconsole.Site, error) {
	return f.sites, nil
}

func (f *fakeService) Close(context.Context) {
	f.closed = true
}
