package whisper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withBaseURL(t *testing.T, url string) {
	t.Helper()
	old := modelBaseURL
	modelBaseURL = url
	t.Cleanup(func() { modelBaseURL = old })
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ggml-tiny.en.bin", r.URL.Path)
		_, _ = w.Write([]byte("ggml model bytes"))
	}))
	defer srv.Close()
	withBaseURL(t, srv.URL)

	dest := filepath.Join(t.TempDir(), "models", "tiny.en.bin")
	require.NoError(t, Download(context.Background(), "tiny.en", dest, zerolog.Nop()))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "ggml model bytes", string(data))

	_, err = os.Stat(dest + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestDownloadHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()
	withBaseURL(t, srv.URL)

	dest := filepath.Join(t.TempDir(), "base.en.bin")
	err := Download(context.Background(), "base.en", dest, zerolog.Nop())
	assert.ErrorContains(t, err, "HTTP 404")

	_, err = os.Stat(dest)
	assert.True(t, os.IsNotExist(err))
}

func TestDownloadUnknownModel(t *testing.T) {
	err := Download(context.Background(), "enormous", filepath.Join(t.TempDir(), "x.bin"), zerolog.Nop())
	assert.ErrorContains(t, err, "unknown model")
}

func TestModelsAreDownloadable(t *testing.T) {
	for _, m := range Models() {
		_, ok := modelFiles[m]
		assert.True(t, ok, m)
	}
}
