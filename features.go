package faqtune

import (
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Feature is the tokenized, padded, fixed-length encoding of an Example.
// All three slices have length maxSeqLen.
type Feature struct {
	InputIDs      []int32
	AttentionMask []int32
	TokenTypeIDs  []int32
	Label         int32
}

// PairEncoder is the tokenizer surface feature building needs. Tokenizer
// implements it; tests substitute a counting stub.
type PairEncoder interface {
	EncodePair(textA, textB string, maxLen int) (ids, attentionMask, segmentIDs []int32)
	Fingerprint() string
}

// BuildFeatures tokenizes every example into a fixed-length Feature.
func BuildFeatures(examples []Example, enc PairEncoder, maxSeqLen int) []Feature {
	features := make([]Feature, 0, len(examples))
	for _, ex := range examples {
		ids, mask, segments := enc.EncodePair(ex.Title, ex.Reply, maxSeqLen)
		features = append(features, Feature{
			InputIDs:      ids,
			AttentionMask: mask,
			TokenTypeIDs:  segments,
			Label:         int32(ex.Label),
		})
	}
	return features
}

// FeatureCache persists tokenized features so repeated runs skip
// re-tokenization. Cache files are content-addressed: the name is derived
// from the split, the tokenizer fingerprint, the max sequence length and a
// checksum of the source CSV, so changing any of them computes fresh features
// instead of silently reusing stale ones.
type FeatureCache struct {
	Dir string
}

// fileChecksum hashes the source CSV so edits to the data invalidate the cache.
func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Path returns the cache file for one (split, tokenizer, max length, source)
// combination.
func (c FeatureCache) Path(split Split, enc PairEncoder, maxSeqLen int, sourceChecksum string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\n%s\n%d\n%s\n", split, enc.Fingerprint(), maxSeqLen, sourceChecksum)
	key := hex.EncodeToString(h.Sum(nil))[:16]
	return filepath.Join(c.Dir, fmt.Sprintf("cached_%s_%s", split, key))
}

// LoadOrBuild returns the features for a split, reading the cache file when
// one exists for this exact configuration and building + persisting features
// otherwise. On a cache hit the encoder is never invoked.
func (c FeatureCache) LoadOrBuild(dataDir string, split Split, enc PairEncoder, maxSeqLen int) ([]Feature, error) {
	checksum, err := fileChecksum(splitPath(dataDir, split))
	if err != nil {
		return nil, fmt.Errorf("failed to checksum %s split: %w", split, err)
	}
	path := c.Path(split, enc, maxSeqLen, checksum)
	if features, err := readFeatures(path); err == nil {
		return features, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read feature cache %s: %w", path, err)
	}
	examples, err := ReadExamples(dataDir, split)
	if err != nil {
		return nil, err
	}
	features := BuildFeatures(examples, enc, maxSeqLen)
	if err := writeFeatures(path, features); err != nil {
		return nil, fmt.Errorf("failed to write feature cache %s: %w", path, err)
	}
	return features, nil
}

func readFeatures(path string) ([]Feature, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var features []Feature
	if err := gob.NewDecoder(f).Decode(&features); err != nil {
		return nil, err
	}
	return features, nil
}

// writeFeatures serializes atomically: write a temp file, then rename.
func writeFeatures(path string, features []Feature) error {
	tempPath := path + ".tmp"
	f, err := os.Create(tempPath)
	if err != nil {
		return err
	}
	if err := gob.NewEncoder(f).Encode(features); err != nil {
		f.Close()
		_ = os.Remove(tempPath)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tempPath)
		return err
	}
	return os.Rename(tempPath, path)
}
