package faqtune

// AdamW updates the classifier's flat parameter memory with decoupled weight
// decay. Biases and layernorm parameters are exempt from decay via the decay
// mask. Moment slices are allocated lazily on the first step.
type AdamW struct {
	Beta1       float32
	Beta2       float32
	Eps         float32
	WeightDecay float32
	MMemory     []float32 // First moment estimates
	VMemory     []float32 // Second moment estimates
	decayMask   []bool
	t           int
}

// NewAdamW builds an optimizer for the model's parameter layout.
func NewAdamW(model *Classifier, eps, weightDecay float32) *AdamW {
	return &AdamW{
		Beta1:       0.9,
		Beta2:       0.999,
		Eps:         eps,
		WeightDecay: weightDecay,
		decayMask:   model.Params.DecayMask(),
	}
}

// Step applies one update at the given learning rate and advances the
// bias-correction timestep.
func (opt *AdamW) Step(model *Classifier, learningRate float32) {
	if opt.MMemory == nil {
		opt.MMemory = make([]float32, model.Params.Len())
		opt.VMemory = make([]float32, model.Params.Len())
	}
	opt.t++
	for i := 0; i < model.Params.Len(); i++ {
		parameter := model.Params.Memory[i]
		gradient := model.Grads.Memory[i]
		// Momentum update
		m := opt.Beta1*opt.MMemory[i] + (1.0-opt.Beta1)*gradient
		// RMSprop update
		v := opt.Beta2*opt.VMemory[i] + (1.0-opt.Beta2)*gradient*gradient
		// Bias correction
		mHat := m / (1.0 - Pow(opt.Beta1, float32(opt.t)))
		vHat := v / (1.0 - Pow(opt.Beta2, float32(opt.t)))
		opt.MMemory[i] = m
		opt.VMemory[i] = v
		update := learningRate * (mHat / (Sqrt(vHat) + opt.Eps))
		if opt.decayMask[i] {
			update += learningRate * opt.WeightDecay * parameter
		}
		model.Params.Memory[i] -= update
	}
}

// ClipGradNorm scales the gradient down when its global L2 norm exceeds
// maxNorm, and returns the norm that was measured.
func ClipGradNorm(grads []float32, maxNorm float32) float32 {
	var normSq float32
	for _, g := range grads {
		normSq += g * g
	}
	norm := Sqrt(normSq)
	if norm > maxNorm {
		scale := maxNorm / (norm + 1e-7)
		for i := range grads {
			grads[i] *= scale
		}
	}
	return norm
}
