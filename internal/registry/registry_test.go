package registry_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"toolbridge/internal/marshal"
	"toolbridge/internal/registry"
	"toolbridge/internal/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterValidation(t *testing.T) {
	reg := registry.New()

	assert.Error(t, reg.Register(registry.Adapter{}), "tool identifier required")
	assert.Error(t, reg.Register(registry.Adapter{Tool: "orphan"}), "image or remote required")

	require.NoError(t, reg.Register(registry.Adapter{Tool: "page-crop", Image: "toolbridge/processors:latest"}))
	assert.Error(t, reg.Register(registry.Adapter{Tool: "page-crop", Image: "other:latest"}), "duplicate registration")
}

func TestListIsSorted(t *testing.T) {
	reg := registry.New()
	for _, tool := range []string{"text-recognize", "page-binarize", "line-segment"} {
		require.NoError(t, reg.Register(registry.Adapter{Tool: tool, Image: "img"}))
	}

	var names []string
	for _, a := range reg.List() {
		names = append(names, a.Tool)
	}
	assert.Equal(t, []string{"line-segment", "page-binarize", "text-recognize"}, names)
}

func TestDescribeCachesRemoteDescriptions(t *testing.T) {
	fetches := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			w.WriteHeader(http.StatusOK)
			return
		}
		fetches++
		w.Write([]byte(`{"parameters": {"model": {"type": "string"}}}`))
	}))
	defer server.Close()

	reg := registry.New()
	require.NoError(t, reg.Register(registry.Adapter{Tool: "text-recognize", Remote: server.URL}))

	first, err := reg.Describe(context.Background(), "text-recognize")
	require.NoError(t, err)
	second, err := reg.Describe(context.Background(), "text-recognize")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, fetches)

	_, err = reg.Describe(context.Background(), "unknown")
	assert.Error(t, err)
}

func TestPreflight(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	reg := registry.New()

	local := registry.Adapter{Tool: "page-crop", Image: "img"}
	assert.NoError(t, reg.Preflight(context.Background(), local))

	remote := registry.Adapter{Tool: "text-recognize", Remote: server.URL}
	assert.NoError(t, reg.Preflight(context.Background(), remote))

	server.Close()
	assert.Error(t, reg.Preflight(context.Background(), remote), "dead worker surfaces as a warning")
}

func TestBackendIsFreshPerRun(t *testing.T) {
	reg := registry.New()
	a := registry.Adapter{Tool: "page-crop", Image: "img"}

	first := reg.Backend(a)
	second := reg.Backend(a)
	assert.NotSame(t, first, second)
}

func TestDefaultAdaptersRegister(t *testing.T) {
	reg := registry.New()
	for _, a := range registry.DefaultAdapters("") {
		require.NoError(t, reg.Register(a))
	}

	adapter, ok := reg.Get("text-recognize")
	require.True(t, ok)
	assert.Equal(t, "+", adapter.SubmitOverrides["model"].JoinWith)
}

func TestModelSelectionOverride(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "german_print.mlmodel"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "frak2021.mlmodel"), nil, 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "ignored-subdir"), 0o755))

	adapters := registry.DefaultAdapters(dir)
	var recognize registry.Adapter
	for _, a := range adapters {
		if a.Tool == "text-recognize" {
			recognize = a
		}
	}

	override := recognize.FormOverrides["model"]
	require.NotNil(t, override.Replace)
	assert.Equal(t, schema.KindSelection, override.Replace.Kind)
	assert.Equal(t, []marshal.Option{{Value: "frak2021"}, {Value: "german_print"}}, override.Replace.Options)
}

func TestModelSelectionOverrideEmptyDirIsNoop(t *testing.T) {
	adapters := registry.DefaultAdapters(t.TempDir())
	for _, a := range adapters {
		if a.Tool == "text-recognize" {
			assert.Nil(t, a.FormOverrides["model"].Replace)
		}
	}
}
