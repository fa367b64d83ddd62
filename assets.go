package faqtune

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

// Default locations of the pretrained starting point. The checkpoint is the
// gob model format written by SaveCheckpoint; the vocabulary is a plain
// one-token-per-line file.
var (
	DefaultVocabURL      = "https://huggingface.co/faqtune/faqtune/resolve/main/vocab.txt"
	DefaultPretrainedURL = "https://huggingface.co/faqtune/faqtune/resolve/main/model.bin"
)

// FetchAssets downloads the pretrained model and vocabulary into cacheDir,
// skipping files that are already present. It returns the local paths.
func FetchAssets(cacheDir, vocabURL, modelURL string) (vocabPath, modelPath string, err error) {
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return "", "", fmt.Errorf("failed to create cache directory %s: %w", cacheDir, err)
	}
	vocabPath = filepath.Join(cacheDir, filepath.Base(vocabURL))
	modelPath = filepath.Join(cacheDir, filepath.Base(modelURL))
	for _, dl := range []struct {
		path, url string
	}{
		{vocabPath, vocabURL},
		{modelPath, modelURL},
	} {
		if _, err := os.Stat(dl.path); err == nil {
			continue
		}
		if err := downloadFile(dl.path, dl.url); err != nil {
			return "", "", err
		}
	}
	return vocabPath, modelPath, nil
}

func downloadFile(outputPath, url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("failed to get file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code %d for %s", resp.StatusCode, url)
	}

	tempPath := outputPath + ".tmp"
	out, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", tempPath, err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to download %s: %w", url, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to close %s: %w", tempPath, err)
	}
	return os.Rename(tempPath, outputPath)
}
