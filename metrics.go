package faqtune

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// EvalMetrics is the metric bundle computed over a set of predictions:
// accuracy, binary F1 and their mean, plus Pearson/Spearman correlation and
// their mean. AccAndF1 is the checkpoint-selection criterion.
type EvalMetrics struct {
	Acc      float64
	F1       float64
	AccAndF1 float64
	Pearson  float64
	Spearman float64
	Corr     float64
}

func (m EvalMetrics) String() string {
	return fmt.Sprintf("acc: %.6f, f1: %.6f, acc_and_f1: %.6f, pearson: %.6f, spearmanr: %.6f, corr: %.6f",
		m.Acc, m.F1, m.AccAndF1, m.Pearson, m.Spearman, m.Corr)
}

// SimpleAccuracy is the fraction of matching positions.
func SimpleAccuracy(preds, labels []int32) float64 {
	if len(preds) != len(labels) {
		panic("preds and labels must have equal length")
	}
	if len(preds) == 0 {
		return 0
	}
	var correct int
	for i := range preds {
		if preds[i] == labels[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(preds))
}

// F1Score is the binary F1 with 1 as the positive class. With no positive
// predictions and no positive labels it is zero.
func F1Score(preds, labels []int32) float64 {
	if len(preds) != len(labels) {
		panic("preds and labels must have equal length")
	}
	var tp, fp, fn int
	for i := range preds {
		switch {
		case preds[i] == 1 && labels[i] == 1:
			tp++
		case preds[i] == 1 && labels[i] == 0:
			fp++
		case preds[i] == 0 && labels[i] == 1:
			fn++
		}
	}
	denom := 2*tp + fp + fn
	if denom == 0 {
		return 0
	}
	return float64(2*tp) / float64(denom)
}

// AccAndF1 computes accuracy, F1 and their exact arithmetic mean.
func AccAndF1(preds, labels []int32) (acc, f1, combined float64) {
	acc = SimpleAccuracy(preds, labels)
	f1 = F1Score(preds, labels)
	return acc, f1, (acc + f1) / 2
}

// ranks assigns average ranks to the values, ties sharing the mean of the
// rank positions they occupy.
func ranks(values []float64) []float64 {
	n := len(values)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return values[idx[a]] < values[idx[b]] })
	out := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j+1 < n && values[idx[j+1]] == values[idx[i]] {
			j++
		}
		// positions i..j share the same value
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			out[idx[k]] = avg
		}
		i = j + 1
	}
	return out
}

// PearsonAndSpearman computes both correlations and their exact mean.
// Spearman is Pearson applied to average-tie ranks.
func PearsonAndSpearman(preds, labels []int32) (pearson, spearman, corr float64) {
	x := make([]float64, len(preds))
	y := make([]float64, len(labels))
	for i := range preds {
		x[i] = float64(preds[i])
		y[i] = float64(labels[i])
	}
	pearson = stat.Correlation(x, y, nil)
	spearman = stat.Correlation(ranks(x), ranks(y), nil)
	return pearson, spearman, (pearson + spearman) / 2
}

// ComputeMetrics evaluates the full bundle for one prediction set.
func ComputeMetrics(preds, labels []int32) EvalMetrics {
	acc, f1, accAndF1 := AccAndF1(preds, labels)
	pearson, spearman, corr := PearsonAndSpearman(preds, labels)
	return EvalMetrics{
		Acc:      acc,
		F1:       f1,
		AccAndF1: accAndF1,
		Pearson:  pearson,
		Spearman: spearman,
		Corr:     corr,
	}
}
