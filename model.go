package faqtune

import (
	"errors"
	"fmt"
	"math/rand"
)

// ClassifierConfig holds the hyper-parameters of the encoder classifier.
type ClassifierConfig struct {
	MaxSeqLen int `json:"max_seq_len"`
	V         int `json:"vocab_size"`
	L         int `json:"num_layers"`
	NH        int `json:"num_heads"`
	C         int `json:"channels"`
	NumLabels int `json:"num_labels"`
}

// Classifier is a bidirectional transformer encoder with a pooled
// classification head, scoring (title, reply) pairs as best-answer or not.
type Classifier struct {
	Config ClassifierConfig
	// Params has the actual weights of the model. Params.Memory is for convenience to be able to set/reset parameters simply
	Params ParameterTensors
	// Grads contains the delta/gradient that will eventually be applied to the params in the model
	Grads ParameterTensors
	Acts  ActivationTensors
	// gradients of the activations
	GradsActs ActivationTensors
	B         int     // Current batch size (B)
	T         int     // Current sequence length (T)
	Inputs    []int32 // Input token ids
	Segments  []int32 // Segment/type ids
	Mask      []int32 // Attention mask, 1 for real tokens
	Targets   []int32 // Target labels
	MeanLoss  float32 // Mean loss after a forward pass with targets
	Rand      *rand.Rand
}

// NewClassifier builds a randomly initialised model. Embedding and projection
// weights get small gaussian noise, layernorm gains start at one and every
// bias at zero, the usual transformer starting point.
func NewClassifier(config ClassifierConfig, rng *rand.Rand) *Classifier {
	if config.C%config.NH != 0 {
		panic("channels must divide evenly into heads")
	}
	model := &Classifier{
		Config: config,
		Rand:   rng,
	}
	model.Params.Init(config.V, config.C, config.MaxSeqLen, config.L, config.NumLabels)
	model.initWeights()
	return model
}

func (model *Classifier) initWeights() {
	const initStd = 0.02
	gaussian := func(t tensor) {
		for i := range t.data {
			t.data[i] = float32(model.Rand.NormFloat64() * initStd)
		}
	}
	ones := func(t tensor) {
		for i := range t.data {
			t.data[i] = 1.0
		}
	}
	zeros := func(t tensor) {
		for i := range t.data {
			t.data[i] = 0.0
		}
	}
	p := &model.Params
	gaussian(p.WordTokEmbed)
	gaussian(p.WordPosEmbed)
	gaussian(p.SegmentEmbed)
	ones(p.LayerNorm1W)
	zeros(p.LayerNorm1B)
	gaussian(p.QueryKeyValW)
	zeros(p.QueryKeyValB)
	gaussian(p.AttProjW)
	zeros(p.AttProjB)
	ones(p.Layer2NormW)
	zeros(p.Layer2NormB)
	gaussian(p.FeedFwdW)
	zeros(p.FeedFwdB)
	gaussian(p.FeedFwdProjW)
	zeros(p.FeedFwdProjB)
	ones(p.LayerFinNormW)
	zeros(p.LayerFinNormB)
	gaussian(p.PoolerW)
	zeros(p.PoolerB)
	gaussian(p.ClassifierW)
	zeros(p.ClassifierB)
}

func (model *Classifier) String() string {
	var s string
	s += "[pair classifier]\n"
	s += fmt.Sprintf("max_seq_len: %d\n", model.Config.MaxSeqLen)
	s += fmt.Sprintf("vocab_size: %d\n", model.Config.V)
	s += fmt.Sprintf("num_layers: %d\n", model.Config.L)
	s += fmt.Sprintf("num_heads: %d\n", model.Config.NH)
	s += fmt.Sprintf("channels: %d\n", model.Config.C)
	s += fmt.Sprintf("num_labels: %d\n", model.Config.NumLabels)
	s += fmt.Sprintf("num_parameters: %d\n", len(model.Params.Memory))
	return s
}

// Forward runs the encoder over a batch of tokenized pairs. targets may be nil
// for a label-free pass; with targets the mean cross-entropy loss is stored in
// MeanLoss. Activation memory is (re)allocated when the batch shape changes,
// which happens on the short final batch of an epoch.
func (model *Classifier) Forward(input, segment, mask, target []int32, B, T int) {
	L, NH, C, K := model.Config.L, model.Config.NH, model.Config.C, model.Config.NumLabels
	if model.Acts.Memory == nil || model.B != B || model.T != T {
		model.B, model.T = B, T
		model.Acts.Init(B, C, T, L, NH, K)
		model.GradsActs = ActivationTensors{}
		model.Inputs = make([]int32, B*T)
		model.Segments = make([]int32, B*T)
		model.Mask = make([]int32, B*T)
		model.Targets = make([]int32, B)
	}
	copy(model.Inputs, input)
	copy(model.Segments, segment)
	copy(model.Mask, mask)
	copy(model.Targets, target)
	params, acts := model.Params, model.Acts
	// Token, position and segment embeddings are summed into one vector per
	// position; everything downstream works on those.
	encoderForward(acts.Encoded.data, input, segment, params.WordTokEmbed.data, params.WordPosEmbed.data, params.SegmentEmbed.data, B, T, C)
	var residual []float32
	for l := 0; l < L; l++ {
		// residual carries the previous block's output, or the embeddings for the first block
		if l == 0 {
			residual = acts.Encoded.data
		} else {
			residual = acts.Residual3.data[(l-1)*B*T*C:]
		}
		// Parameters
		l_ln1w := params.LayerNorm1W.data[l*C:]
		l_ln1b := params.LayerNorm1B.data[l*C:]
		l_qkvw := params.QueryKeyValW.data[l*3*C*C:]
		l_qkvb := params.QueryKeyValB.data[l*3*C:]
		l_attprojw := params.AttProjW.data[l*C*C:]
		l_attprojb := params.AttProjB.data[l*C:]
		l_ln2w := params.Layer2NormW.data[l*C:]
		l_ln2b := params.Layer2NormB.data[l*C:]
		l_fcw := params.FeedFwdW.data[l*4*C*C:]
		l_fcb := params.FeedFwdB.data[l*4*C:]
		l_fcprojw := params.FeedFwdProjW.data[l*C*4*C:]
		l_fcprojb := params.FeedFwdProjB.data[l*C:]
		// Activations
		l_ln1 := acts.Layer1Act.data[l*B*T*C:]
		l_ln1_mean := acts.LayerNorm1Mean.data[l*B*T:]
		l_ln1_rstd := acts.LayerNorm1Rstd.data[l*B*T:]
		l_qkv := acts.QueryKeyVal.data[l*B*T*3*C:]
		l_atty := acts.AttentionInter.data[l*B*T*C:]
		l_preatt := acts.PreAttention.data[l*B*NH*T*T:]
		l_att := acts.Attention.data[l*B*NH*T*T:]
		l_attproj := acts.AttentionProj.data[l*B*T*C:]
		l_residual2 := acts.Residual2.data[l*B*T*C:]
		l_ln2 := acts.LayerNorm2Act.data[l*B*T*C:]
		l_ln2_mean := acts.LayerNorm2Mean.data[l*B*T:]
		l_ln2_rstd := acts.LayerNorm2Rstd.data[l*B*T:]
		l_fch := acts.FeedForward.data[l*B*T*4*C:]
		l_fch_gelu := acts.FeedForwardGelu.data[l*B*T*4*C:]
		l_fcproj := acts.FeedForwardProj.data[l*B*T*C:]
		l_residual3 := acts.Residual3.data[l*B*T*C:]

		layernormForward(l_ln1, l_ln1_mean, l_ln1_rstd, residual, l_ln1w, l_ln1b, B, T, C)
		// project into query/key/value space
		matmulForward(l_qkv, l_ln1, l_qkvw, l_qkvb, B, T, C, 3*C)
		// bidirectional self-attention over all unpadded positions
		attentionForward(l_atty, l_preatt, l_att, l_qkv, mask, B, T, C, NH)
		matmulForward(l_attproj, l_atty, l_attprojw, l_attprojb, B, T, C, C)
		residualForward(l_residual2, residual, l_attproj, B*T*C)
		layernormForward(l_ln2, l_ln2_mean, l_ln2_rstd, l_residual2, l_ln2w, l_ln2b, B, T, C)
		matmulForward(l_fch, l_ln2, l_fcw, l_fcb, B, T, C, 4*C)
		geluForward(l_fch_gelu, l_fch, B*T*4*C)
		matmulForward(l_fcproj, l_fch_gelu, l_fcprojw, l_fcprojb, B, T, 4*C, C)
		residualForward(l_residual3, l_residual2, l_fcproj, B*T*C)
	}
	residual = acts.Residual3.data[(L-1)*B*T*C:]
	layernormForward(acts.LayerNormFinal.data, acts.LayerNormFinalMean.data, acts.LayerNormFinalStd.data, residual, params.LayerFinNormW.data, params.LayerFinNormB.data, B, T, C)
	// The pair decision is read from the first position: pooler dense + tanh,
	// then the linear classification head over the label space.
	clsPoolForward(acts.Pooled.data, acts.LayerNormFinal.data, B, T, C)
	matmulForward(acts.PooledTanh.data, acts.Pooled.data, params.PoolerW.data, params.PoolerB.data, B, 1, C, C)
	tanhForward(acts.PooledTanh.data, acts.PooledTanh.data, B*C)
	matmulForward(acts.Logits.data, acts.PooledTanh.data, params.ClassifierW.data, params.ClassifierB.data, B, 1, C, K)
	softmaxForward(acts.Probabilities.data, acts.Logits.data, B, K)
	if len(target) > 0 {
		crossEntropyForward(acts.Losses.data, acts.Probabilities.data, target, B, K)
		var meanLoss float32
		for i := range acts.Losses.data {
			meanLoss += acts.Losses.data[i]
		}
		meanLoss /= float32(B)
		model.MeanLoss = meanLoss
	} else {
		model.MeanLoss = -1.0
	}
}

// Backward propagates the loss gradient through the whole network,
// accumulating into Grads. Forward with targets must have run first.
func (model *Classifier) Backward() error {
	if model.MeanLoss == -1.0 {
		return errors.New("error: must forward with targets before backward")
	}
	B, T, L, NH, C, K := model.B, model.T, model.Config.L, model.Config.NH, model.Config.C, model.Config.NumLabels
	if len(model.Grads.Memory) == 0 {
		model.Grads.Init(model.Config.V, C, model.Config.MaxSeqLen, L, K)
	}
	if len(model.GradsActs.Memory) == 0 {
		model.GradsActs.Init(B, C, T, L, NH, K)
		model.ZeroGradient()
	}
	params, grads, acts, gradsActs := model.Params, model.Grads, model.Acts, model.GradsActs
	// kick off the chain with dloss = 1/B per example to get the mean loss
	dlossMean := 1.0 / float32(B)
	for i := range gradsActs.Losses.data {
		gradsActs.Losses.data[i] = dlossMean
	}
	crossentropySoftmaxBackward(gradsActs.Logits.data, gradsActs.Losses.data, acts.Probabilities.data, model.Targets, B, K)
	// classification head
	matmulBackward(gradsActs.PooledTanh.data, grads.ClassifierW.data, grads.ClassifierB.data, gradsActs.Logits.data, acts.PooledTanh.data, params.ClassifierW.data, B, 1, C, K)
	tanhBackward(gradsActs.Pooled.data, acts.PooledTanh.data, gradsActs.PooledTanh.data, B*C)
	// gradsActs.Pooled now holds the gradient of the pooler's pre-tanh output;
	// reuse PooledTanh grad buffer for the gradient of the pooler input.
	for i := range gradsActs.PooledTanh.data {
		gradsActs.PooledTanh.data[i] = 0.0
	}
	matmulBackward(gradsActs.PooledTanh.data, grads.PoolerW.data, grads.PoolerB.data, gradsActs.Pooled.data, acts.Pooled.data, params.PoolerW.data, B, 1, C, C)
	clsPoolBackward(gradsActs.LayerNormFinal.data, gradsActs.PooledTanh.data, B, T, C)
	residual := acts.Residual3.data[(L-1)*B*T*C:]       // last layer's residual
	dresidual := gradsActs.Residual3.data[(L-1)*B*T*C:] // write to last layer's residual
	layernormBackward(dresidual, grads.LayerFinNormW.data, grads.LayerFinNormB.data, gradsActs.LayerNormFinal.data, residual, params.LayerFinNormW.data, acts.LayerNormFinalMean.data, acts.LayerNormFinalStd.data, B, T, C)
	for l := L - 1; l >= 0; l-- {
		if l == 0 {
			residual = acts.Encoded.data
			dresidual = gradsActs.Encoded.data
		} else {
			residual = acts.Residual3.data[(l-1)*B*T*C:]
			dresidual = gradsActs.Residual3.data[(l-1)*B*T*C:]
		}

		l_ln1w := params.LayerNorm1W.data[l*C:]
		l_qkvw := params.QueryKeyValW.data[l*3*C*C:]
		l_attprojw := params.AttProjW.data[l*C*C:]
		l_ln2w := params.Layer2NormW.data[l*C:]
		l_fcw := params.FeedFwdW.data[l*4*C*C:]
		l_fcprojw := params.FeedFwdProjW.data[l*C*4*C:]
		// Gradients of weights
		dl_ln1w := grads.LayerNorm1W.data[l*C:]
		dl_ln1b := grads.LayerNorm1B.data[l*C:]
		dl_qkvw := grads.QueryKeyValW.data[l*3*C*C:]
		dl_qkvb := grads.QueryKeyValB.data[l*3*C:]
		dl_attprojw := grads.AttProjW.data[l*C*C:]
		dl_attprojb := grads.AttProjB.data[l*C:]
		dl_ln2w := grads.Layer2NormW.data[l*C:]
		dl_ln2b := grads.Layer2NormB.data[l*C:]
		dl_fcw := grads.FeedFwdW.data[l*4*C*C:]
		dl_fcb := grads.FeedFwdB.data[l*4*C:]
		dl_fcprojw := grads.FeedFwdProjW.data[l*C*4*C:]
		dl_fcprojb := grads.FeedFwdProjB.data[l*C:]
		// Activations
		l_ln1 := acts.Layer1Act.data[l*B*T*C:]
		l_ln1_mean := acts.LayerNorm1Mean.data[l*B*T:]
		l_ln1_rstd := acts.LayerNorm1Rstd.data[l*B*T:]
		l_qkv := acts.QueryKeyVal.data[l*B*T*3*C:]
		l_atty := acts.AttentionInter.data[l*B*T*C:]
		l_att := acts.Attention.data[l*B*NH*T*T:]
		l_residual2 := acts.Residual2.data[l*B*T*C:]
		l_ln2 := acts.LayerNorm2Act.data[l*B*T*C:]
		l_ln2_mean := acts.LayerNorm2Mean.data[l*B*T:]
		l_ln2_rstd := acts.LayerNorm2Rstd.data[l*B*T:]
		l_fch := acts.FeedForward.data[l*B*T*4*C:]
		l_fch_gelu := acts.FeedForwardGelu.data[l*B*T*4*C:]

		dl_ln1 := gradsActs.Layer1Act.data[l*B*T*C:]
		dl_qkv := gradsActs.QueryKeyVal.data[l*B*T*3*C:]
		dl_atty := gradsActs.AttentionInter.data[l*B*T*C:]
		dl_preatt := gradsActs.PreAttention.data[l*B*NH*T*T:]
		dl_att := gradsActs.Attention.data[l*B*NH*T*T:]
		dl_attproj := gradsActs.AttentionProj.data[l*B*T*C:]
		dl_residual2 := gradsActs.Residual2.data[l*B*T*C:]
		dl_ln2 := gradsActs.LayerNorm2Act.data[l*B*T*C:]
		dl_fch := gradsActs.FeedForward.data[l*B*T*4*C:]
		dl_fch_gelu := gradsActs.FeedForwardGelu.data[l*B*T*4*C:]
		dl_fcproj := gradsActs.FeedForwardProj.data[l*B*T*C:]
		dl_residual3 := gradsActs.Residual3.data[l*B*T*C:]
		residualBackward(dl_residual2, dl_fcproj, dl_residual3, B*T*C)
		matmulBackward(dl_fch_gelu, dl_fcprojw, dl_fcprojb, dl_fcproj, l_fch_gelu, l_fcprojw, B, T, 4*C, C)
		geluBackward(dl_fch, l_fch, dl_fch_gelu, B*T*4*C)
		matmulBackward(dl_ln2, dl_fcw, dl_fcb, dl_fch, l_ln2, l_fcw, B, T, C, 4*C)
		layernormBackward(dl_residual2, dl_ln2w, dl_ln2b, dl_ln2, l_residual2, l_ln2w, l_ln2_mean, l_ln2_rstd, B, T, C)
		residualBackward(dresidual, dl_attproj, dl_residual2, B*T*C)
		matmulBackward(dl_atty, dl_attprojw, dl_attprojb, dl_attproj, l_atty, l_attprojw, B, T, C, C)
		attentionBackward(dl_qkv, dl_preatt, dl_att, dl_atty, l_qkv, l_att, model.Mask, B, T, C, NH)
		matmulBackward(dl_ln1, dl_qkvw, dl_qkvb, dl_qkv, l_ln1, l_qkvw, B, T, C, 3*C)
		layernormBackward(dresidual, dl_ln1w, dl_ln1b, dl_ln1, residual, l_ln1w, l_ln1_mean, l_ln1_rstd, B, T, C)
	}
	encoderBackward(grads.WordTokEmbed.data, grads.WordPosEmbed.data, grads.SegmentEmbed.data, gradsActs.Encoded.data, model.Inputs, model.Segments, B, T, C)
	return nil
}

// Predictions returns the argmax label for every example of the last forward
// pass.
func (model *Classifier) Predictions() []int32 {
	K := model.Config.NumLabels
	preds := make([]int32, model.B)
	for b := 0; b < model.B; b++ {
		probs := model.Acts.Probabilities.data[b*K : b*K+K]
		var best int32
		for i := 1; i < K; i++ {
			if probs[i] > probs[best] {
				best = int32(i)
			}
		}
		preds[b] = best
	}
	return preds
}

func (model *Classifier) ZeroGradient() {
	for i := range model.GradsActs.Memory {
		model.GradsActs.Memory[i] = 0.0
	}
	for i := range model.Grads.Memory {
		model.Grads.Memory[i] = 0.0
	}
}
