package faqtune

import (
	"encoding/gob"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
)

const (
	modelFileName = "model.bin"
	argsFileName  = "training_args.bin"
)

// modelCheckpoint is the serialized form of a classifier: its shape and its
// flat parameter memory.
type modelCheckpoint struct {
	Config ClassifierConfig
	Params []float32
}

// encodeGobFile writes v into path atomically via a temp file and rename.
func encodeGobFile(path string, v any) error {
	tempPath := path + ".tmp"
	f, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tempPath, err)
	}
	if err := gob.NewEncoder(f).Encode(v); err != nil {
		f.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to close %s: %w", tempPath, err)
	}
	return os.Rename(tempPath, path)
}

func decodeGobFile(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := gob.NewDecoder(f).Decode(v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

// SaveCheckpoint persists a best model into dir: weights + config, the
// tokenizer vocabulary and the run arguments. Files are overwritten in place;
// there is no versioning, the latest best wins.
func SaveCheckpoint(dir string, model *Classifier, tok Tokenizer, args Args) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory %s: %w", dir, err)
	}
	if err := encodeGobFile(filepath.Join(dir, modelFileName), modelCheckpoint{
		Config: model.Config,
		Params: model.Params.Memory,
	}); err != nil {
		return err
	}
	if err := tok.Save(dir); err != nil {
		return err
	}
	return encodeGobFile(filepath.Join(dir, argsFileName), args)
}

// LoadClassifier restores a checkpointed model from a model.bin file.
func LoadClassifier(path string, rng *rand.Rand) (*Classifier, error) {
	var ckpt modelCheckpoint
	if err := decodeGobFile(path, &ckpt); err != nil {
		return nil, err
	}
	model := NewClassifier(ckpt.Config, rng)
	if len(ckpt.Params) != model.Params.Len() {
		return nil, fmt.Errorf("checkpoint has %d parameters, model expects %d", len(ckpt.Params), model.Params.Len())
	}
	copy(model.Params.Memory, ckpt.Params)
	return model, nil
}
