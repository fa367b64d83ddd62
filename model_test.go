package faqtune

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tinyBatch is a fixed two-example batch for model tests: ids under the tiny
// vocabulary, one padded position per example, second segment after position 4.
func tinyBatch() (input, segment, mask, target []int32, B, T int) {
	B, T = 2, 8
	input = []int32{
		2, 4, 5, 3, 6, 7, 3, 0,
		2, 8, 9, 3, 10, 11, 3, 0,
	}
	segment = []int32{
		0, 0, 0, 0, 1, 1, 1, 0,
		0, 0, 0, 0, 1, 1, 1, 0,
	}
	mask = []int32{
		1, 1, 1, 1, 1, 1, 1, 0,
		1, 1, 1, 1, 1, 1, 1, 0,
	}
	target = []int32{1, 0}
	return input, segment, mask, target, B, T
}

func TestClassifierForward(t *testing.T) {
	model := newTinyClassifier(t)
	input, segment, mask, target, B, T := tinyBatch()
	model.Forward(input, segment, mask, target, B, T)

	K := model.Config.NumLabels
	for b := 0; b < B; b++ {
		var sum float32
		for k := 0; k < K; k++ {
			p := model.Acts.Probabilities.data[b*K+k]
			assert.Greater(t, p, float32(0))
			sum += p
		}
		assert.InDelta(t, 1.0, sum, delta)
	}
	assert.Greater(t, model.MeanLoss, float32(0))

	preds := model.Predictions()
	require.Len(t, preds, B)
	for b := 0; b < B; b++ {
		probs := model.Acts.Probabilities.data[b*K : b*K+K]
		if probs[1] > probs[0] {
			assert.Equal(t, int32(1), preds[b])
		} else {
			assert.Equal(t, int32(0), preds[b])
		}
	}
}

func TestClassifierForwardWithoutTargets(t *testing.T) {
	model := newTinyClassifier(t)
	input, segment, mask, _, B, T := tinyBatch()
	model.Forward(input, segment, mask, nil, B, T)
	assert.Equal(t, float32(-1.0), model.MeanLoss)
	require.Error(t, model.Backward())
}

func TestClassifierBackward(t *testing.T) {
	model := newTinyClassifier(t)
	input, segment, mask, target, B, T := tinyBatch()
	model.Forward(input, segment, mask, target, B, T)
	require.NoError(t, model.Backward())

	var nonzero int
	for _, g := range model.Grads.Memory {
		if g != 0 {
			nonzero++
		}
	}
	// The loss touches every parameter group, so most gradients are live.
	assert.Greater(t, nonzero, model.Params.Len()/2)

	// Embedding rows of tokens the batch never uses stay at zero.
	C := model.Config.C
	unusedRow := model.Grads.WordTokEmbed.data[15*C : 16*C]
	for _, g := range unusedRow {
		assert.Equal(t, float32(0), g)
	}
}

func TestClassifierTrainingReducesLoss(t *testing.T) {
	model := newTinyClassifier(t)
	input, segment, mask, target, B, T := tinyBatch()
	opt := NewAdamW(model, 1e-8, 0.01)

	model.Forward(input, segment, mask, target, B, T)
	initial := model.MeanLoss
	for i := 0; i < 30; i++ {
		require.NoError(t, model.Backward())
		opt.Step(model, 1e-2)
		model.ZeroGradient()
		model.Forward(input, segment, mask, target, B, T)
	}
	assert.Less(t, model.MeanLoss, initial)
	assert.Equal(t, target, model.Predictions())
}

func TestClassifierReallocatesOnShapeChange(t *testing.T) {
	model := newTinyClassifier(t)
	input, segment, mask, target, B, T := tinyBatch()
	model.Forward(input, segment, mask, target, B, T)
	require.NoError(t, model.Backward())

	// Short final batch: one example.
	model.Forward(input[:T], segment[:T], mask[:T], target[:1], 1, T)
	assert.Equal(t, 1, model.B)
	require.NoError(t, model.Backward())
	assert.Greater(t, model.MeanLoss, float32(0))
}

func TestNewClassifierPanicsOnBadHeads(t *testing.T) {
	assert.Panics(t, func() {
		NewClassifier(ClassifierConfig{MaxSeqLen: 8, V: 16, L: 1, NH: 3, C: 8, NumLabels: 2}, nil)
	})
}

func TestParameterDecayMask(t *testing.T) {
	model := newTinyClassifier(t)
	decayMask := model.Params.DecayMask()
	require.Len(t, decayMask, model.Params.Len())

	// Spot-check the ends of the layout: embeddings decay, the final
	// classifier bias does not.
	assert.True(t, decayMask[0])
	assert.False(t, decayMask[len(decayMask)-1])
}
