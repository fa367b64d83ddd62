package faqtune

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTinyClassifier(t *testing.T) *Classifier {
	t.Helper()
	config := ClassifierConfig{
		MaxSeqLen: 8,
		V:         16,
		L:         1,
		NH:        2,
		C:         8,
		NumLabels: 2,
	}
	return NewClassifier(config, rand.New(rand.NewSource(42)))
}

func TestClipGradNorm(t *testing.T) {
	t.Run("underMaxUnchanged", func(t *testing.T) {
		grads := []float32{0.3, 0.4}
		norm := ClipGradNorm(grads, 1.0)
		assert.InDelta(t, 0.5, norm, delta)
		assert.Equal(t, []float32{0.3, 0.4}, grads)
	})
	t.Run("overMaxScaledDown", func(t *testing.T) {
		grads := []float32{3, 4}
		norm := ClipGradNorm(grads, 1.0)
		assert.InDelta(t, 5.0, norm, delta)
		var clipped float32
		for _, g := range grads {
			clipped += g * g
		}
		assert.InDelta(t, 1.0, Sqrt(clipped), 1e-4)
	})
	t.Run("zeroGradient", func(t *testing.T) {
		grads := []float32{0, 0}
		assert.Equal(t, float32(0), ClipGradNorm(grads, 1.0))
	})
}

func TestAdamWStep(t *testing.T) {
	model := newTinyClassifier(t)
	model.Grads.Init(model.Config.V, model.Config.C, model.Config.MaxSeqLen, model.Config.L, model.Config.NumLabels)
	opt := NewAdamW(model, 1e-8, 0)

	assert.Nil(t, opt.MMemory)

	// With a constant unit gradient the first bias-corrected update is
	// lr * g / (|g| + eps), i.e. approximately lr.
	for i := range model.Grads.Memory {
		model.Grads.Memory[i] = 1.0
	}
	before := make([]float32, len(model.Params.Memory))
	copy(before, model.Params.Memory)
	opt.Step(model, 0.1)

	require.Len(t, opt.MMemory, model.Params.Len())
	require.Len(t, opt.VMemory, model.Params.Len())
	for _, i := range []int{0, 1, len(before) - 1} {
		assert.InDelta(t, before[i]-0.1, model.Params.Memory[i], 1e-4)
	}
}

func TestAdamWWeightDecayMask(t *testing.T) {
	model := newTinyClassifier(t)
	model.Grads.Init(model.Config.V, model.Config.C, model.Config.MaxSeqLen, model.Config.L, model.Config.NumLabels)
	opt := NewAdamW(model, 1e-8, 0.1)

	// Zero gradient isolates the decay term: decayed weights shrink by
	// lr * wd * w, exempt parameters stay put.
	embedBefore := model.Params.WordTokEmbed.data[0]
	normBefore := model.Params.LayerNorm1W.data[0]
	biasBefore := model.Params.ClassifierB.data[0]
	opt.Step(model, 1.0)

	assert.InDelta(t, embedBefore*0.9, model.Params.WordTokEmbed.data[0], delta)
	assert.Equal(t, normBefore, model.Params.LayerNorm1W.data[0])
	assert.Equal(t, biasBefore, model.Params.ClassifierB.data[0])
}
