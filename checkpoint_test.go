package faqtune

import (
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndLoadCheckpoint(t *testing.T) {
	dir := t.TempDir()
	model := newTinyClassifier(t)
	tok := newTestTokenizer(t)
	args := Args{MaxSeqLength: 8, Seed: 42}

	require.NoError(t, SaveCheckpoint(dir, model, tok, args))

	loaded, err := LoadClassifier(filepath.Join(dir, "model.bin"), rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Equal(t, model.Config, loaded.Config)
	assert.Equal(t, model.Params.Memory, loaded.Params.Memory)

	var savedArgs Args
	require.NoError(t, decodeGobFile(filepath.Join(dir, "training_args.bin"), &savedArgs))
	assert.Equal(t, args, savedArgs)

	reloadedTok, err := NewTokenizer(filepath.Join(dir, "vocab.txt"))
	require.NoError(t, err)
	assert.Equal(t, tok.Fingerprint(), reloadedTok.Fingerprint())
}

func TestLoadClassifierRejectsSizeMismatch(t *testing.T) {
	dir := t.TempDir()
	model := newTinyClassifier(t)
	path := filepath.Join(dir, "model.bin")
	require.NoError(t, encodeGobFile(path, modelCheckpoint{
		Config: model.Config,
		Params: model.Params.Memory[:10],
	}))
	_, err := LoadClassifier(path, rand.New(rand.NewSource(1)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parameters")
}

func TestLoadClassifierMissingFile(t *testing.T) {
	_, err := LoadClassifier(filepath.Join(t.TempDir(), "model.bin"), nil)
	require.Error(t, err)
}

func TestSaveCheckpointOverwrites(t *testing.T) {
	dir := t.TempDir()
	tok := newTestTokenizer(t)
	model := newTinyClassifier(t)
	require.NoError(t, SaveCheckpoint(dir, model, tok, Args{}))

	model.Params.Memory[0] = 123.0
	require.NoError(t, SaveCheckpoint(dir, model, tok, Args{}))
	loaded, err := LoadClassifier(filepath.Join(dir, "model.bin"), rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Equal(t, float32(123.0), loaded.Params.Memory[0])
}
