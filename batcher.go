package faqtune

import (
	"errors"
	"math/rand"
)

// Batch is a fixed-size group of features flattened into the slices the model
// consumes. The final batch of an epoch may be shorter.
type Batch struct {
	InputIDs      []int32 // (B*T)
	AttentionMask []int32 // (B*T)
	TokenTypeIDs  []int32 // (B*T)
	Labels        []int32 // (B)
	Size          int
	SeqLen        int
}

// Batcher walks a feature slice in batches. With a rand source the visit
// order is a fresh random permutation per epoch (training); without one the
// order is sequential, which keeps evaluation deterministic across runs.
type Batcher struct {
	features  []Feature
	batchSize int
	seqLen    int
	order     []int
	position  int
	rng       *rand.Rand
}

// NewBatcher returns a batcher over features. rng may be nil for sequential
// order.
func NewBatcher(features []Feature, batchSize int, rng *rand.Rand) (*Batcher, error) {
	if len(features) == 0 {
		return nil, errors.New("error: no features to batch")
	}
	if batchSize <= 0 {
		return nil, errors.New("error: batch size must be positive")
	}
	loader := &Batcher{
		features:  features,
		batchSize: batchSize,
		seqLen:    len(features[0].InputIDs),
		rng:       rng,
	}
	loader.Reset()
	return loader, nil
}

// NumBatches is the number of batches per epoch, final short batch included.
func (loader *Batcher) NumBatches() int {
	return (len(loader.features) + loader.batchSize - 1) / loader.batchSize
}

// Reset rewinds to the start of an epoch and reshuffles when randomized.
func (loader *Batcher) Reset() {
	loader.position = 0
	if loader.rng != nil {
		loader.order = loader.rng.Perm(len(loader.features))
	} else {
		loader.order = loader.order[:0]
		for i := range loader.features {
			loader.order = append(loader.order, i)
		}
	}
}

// NextBatch assembles the next batch, or false at the end of the epoch.
func (loader *Batcher) NextBatch() (Batch, bool) {
	if loader.position >= len(loader.features) {
		return Batch{}, false
	}
	end := loader.position + loader.batchSize
	if end > len(loader.features) {
		end = len(loader.features)
	}
	b := end - loader.position
	batch := Batch{
		InputIDs:      make([]int32, 0, b*loader.seqLen),
		AttentionMask: make([]int32, 0, b*loader.seqLen),
		TokenTypeIDs:  make([]int32, 0, b*loader.seqLen),
		Labels:        make([]int32, 0, b),
		Size:          b,
		SeqLen:        loader.seqLen,
	}
	for _, idx := range loader.order[loader.position:end] {
		f := loader.features[idx]
		batch.InputIDs = append(batch.InputIDs, f.InputIDs...)
		batch.AttentionMask = append(batch.AttentionMask, f.AttentionMask...)
		batch.TokenTypeIDs = append(batch.TokenTypeIDs, f.TokenTypeIDs...)
		batch.Labels = append(batch.Labels, f.Label)
	}
	loader.position = end
	return batch, true
}
