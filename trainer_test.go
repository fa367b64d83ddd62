package faqtune

import (
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *log.Logger {
	return log.New(io.Discard)
}

func TestBestTracker(t *testing.T) {
	var best bestTracker
	saves := []bool{}
	for _, v := range []float64{0.5, 0.7, 0.6, 0.8} {
		saves = append(saves, best.Improved(v))
	}
	// checkpoints happen on strict improvements only
	assert.Equal(t, []bool{true, true, false, true}, saves)

	t.Run("zeroNeverImproves", func(t *testing.T) {
		var b bestTracker
		assert.False(t, b.Improved(0.0))
	})
	t.Run("equalNeverImproves", func(t *testing.T) {
		var b bestTracker
		require.True(t, b.Improved(0.5))
		assert.False(t, b.Improved(0.5))
	})
}

func TestPrepareLogDir(t *testing.T) {
	t.Run("createsMissing", func(t *testing.T) {
		run := NewRun(Args{OutputDir: t.TempDir(), LogPath: "run1"}, discardLogger())
		require.NoError(t, run.PrepareLogDir())
		info, err := os.Stat(run.logDir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})
	t.Run("clearsExisting", func(t *testing.T) {
		run := NewRun(Args{OutputDir: t.TempDir(), LogPath: "run1"}, discardLogger())
		require.NoError(t, run.PrepareLogDir())
		stale := filepath.Join(run.logDir, "train_loss_file.txt")
		require.NoError(t, os.WriteFile(stale, []byte("old"), 0o644))
		require.NoError(t, run.PrepareLogDir())
		_, err := os.Stat(stale)
		assert.True(t, os.IsNotExist(err))
	})
}

func TestTrainEpoch(t *testing.T) {
	run := NewRun(Args{
		OutputDir:    t.TempDir(),
		LogPath:      "run1",
		MaxGradNorm:  1.0,
		LoggingSteps: 1,
		Seed:         42,
	}, discardLogger())
	require.NoError(t, run.PrepareLogDir())

	model := newTinyClassifier(t)
	features := encodedFeatures(t, 4, model.Config.MaxSeqLen)
	batcher, err := NewBatcher(features, 2, run.RNG)
	require.NoError(t, err)
	opt := NewAdamW(model, 1e-8, 0)
	sched := &WarmupLinear{BaseLR: 1e-3, TotalSteps: 100}

	epochLoss, err := run.TrainEpoch(model, batcher, opt, sched)
	require.NoError(t, err)
	assert.Greater(t, epochLoss, 0.0)

	// LoggingSteps=1 means one line per optimizer step.
	for _, name := range []string{trainLossFileName, trainAccFileName} {
		data, err := os.ReadFile(filepath.Join(run.logDir, name))
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		assert.Len(t, lines, batcher.NumBatches())
		assert.Contains(t, lines[0], "iteration: 1")
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	run := NewRun(Args{Seed: 42}, discardLogger())
	model := newTinyClassifier(t)
	features := encodedFeatures(t, 5, model.Config.MaxSeqLen)
	batcher, err := NewBatcher(features, 2, nil)
	require.NoError(t, err)

	loss1, results1, err := run.Evaluate(model, batcher)
	require.NoError(t, err)
	loss2, results2, err := run.Evaluate(model, batcher)
	require.NoError(t, err)
	assert.Equal(t, loss1, loss2)
	assert.Equal(t, results1.Acc, results2.Acc)
	assert.Equal(t, results1.F1, results2.F1)
	assert.Equal(t, results1.AccAndF1, results2.AccAndF1)
	// an untrained model can predict a single class, turning the correlation
	// fields NaN; the formatted bundle compares those without tripping over
	// NaN != NaN
	assert.Equal(t, results1.String(), results2.String())
}

// encodedFeatures tokenizes n alternating-label pairs with the test
// vocabulary.
func encodedFeatures(t *testing.T, n, maxSeqLen int) []Feature {
	t.Helper()
	tok := newTestTokenizer(t)
	examples := make([]Example, n)
	for i := range examples {
		examples[i] = Example{
			GUID:  i,
			Title: "how do i reset my password",
			Reply: "reset my password",
			Label: i % 2,
		}
	}
	return BuildFeatures(examples, tok, maxSeqLen)
}

func TestRunTrainEndToEnd(t *testing.T) {
	dataDir := t.TempDir()
	writeSplit(t, dataDir, TrainSplit,
		"title,reply,is_best\n"+
			"how do i reset my password,reset my password,1\n"+
			"how do i reset my password,no idea,0\n"+
			"passwords,pass,1\n"+
			"passwords,how,0\n")
	// Identical dev pairs with opposite labels pin accuracy at exactly one
	// half for any model, so the first epoch always improves on zero and a
	// checkpoint is guaranteed.
	writeSplit(t, dataDir, DevSplit,
		"title,reply,is_best\n"+
			"how do i reset my password,reset my password,1\n"+
			"how do i reset my password,reset my password,0\n")

	outputDir := t.TempDir()
	args := Args{
		DataDir:        dataDir,
		OutputDir:      outputDir,
		LogPath:        "run1",
		DoTrain:        true,
		DoEval:         true,
		MaxSeqLength:   16,
		TrainBatchSize: 2,
		NumTrainEpochs: 1,
		LearningRate:   1e-3,
		WeightDecay:    0.01,
		MaxGradNorm:    1.0,
		AdamEpsilon:    1e-8,
		WarmupSteps:    0,
		LoggingSteps:   1,
		Seed:           42,
		NumLayers:      1,
		NumHeads:       2,
		Channels:       8,
		VocabPath:      writeVocab(t, testVocab),
		CacheDir:       t.TempDir(),
	}
	require.NoError(t, runTrain(args, discardLogger()))

	logDir := filepath.Join(outputDir, "run1")
	for _, name := range []string{
		trainLossFileName,
		trainAccFileName,
		evalLossFileName,
		"model.bin",
		"vocab.txt",
		"training_args.bin",
	} {
		info, err := os.Stat(filepath.Join(logDir, name))
		require.NoError(t, err, name)
		assert.Greater(t, info.Size(), int64(0), name)
	}

	t.Run("checkpointReloads", func(t *testing.T) {
		model, err := LoadClassifier(filepath.Join(logDir, "model.bin"), rand.New(rand.NewSource(1)))
		require.NoError(t, err)
		assert.Equal(t, 16, model.Config.MaxSeqLen)
		assert.Equal(t, len(testVocab), model.Config.V)
	})

	t.Run("evalOnlyRun", func(t *testing.T) {
		evalArgs := args
		evalArgs.DoTrain = false
		evalArgs.LogPath = "run2"
		evalArgs.PretrainedPath = filepath.Join(logDir, "model.bin")
		require.NoError(t, runTrain(evalArgs, discardLogger()))
		data, err := os.ReadFile(filepath.Join(outputDir, "run2", evalLossFileName))
		require.NoError(t, err)
		assert.Contains(t, string(data), "eval_loss")
	})
}
