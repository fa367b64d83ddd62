package faqtune

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchAssets(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		switch r.URL.Path {
		case "/vocab.txt":
			w.Write([]byte("[PAD]\n[UNK]\n[CLS]\n[SEP]\n"))
		case "/model.bin":
			w.Write([]byte("binary"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	cacheDir := t.TempDir()
	vocabPath, modelPath, err := FetchAssets(cacheDir, server.URL+"/vocab.txt", server.URL+"/model.bin")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cacheDir, "vocab.txt"), vocabPath)
	assert.Equal(t, filepath.Join(cacheDir, "model.bin"), modelPath)
	assert.Equal(t, 2, hits)

	data, err := os.ReadFile(vocabPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[CLS]")

	t.Run("existingFilesSkipped", func(t *testing.T) {
		_, _, err := FetchAssets(cacheDir, server.URL+"/vocab.txt", server.URL+"/model.bin")
		require.NoError(t, err)
		assert.Equal(t, 2, hits)
	})

	t.Run("httpErrorSurfaces", func(t *testing.T) {
		_, _, err := FetchAssets(t.TempDir(), server.URL+"/missing.txt", server.URL+"/model.bin")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "404")
	})
}
