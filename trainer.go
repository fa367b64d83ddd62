package faqtune

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
)

// Log file names inside the run's log directory.
const (
	trainLossFileName = "train_loss_file.txt"
	trainAccFileName  = "train_acc_file.txt"
	evalLossFileName  = "eval_loss_file.txt"
)

// Args are the run arguments, bound from CLI flags and saved into every
// checkpoint.
type Args struct {
	DataDir        string
	OutputDir      string
	LogPath        string
	DoTrain        bool
	DoEval         bool
	MaxSeqLength   int
	TrainBatchSize int
	NumTrainEpochs int
	LearningRate   float64
	WeightDecay    float64
	MaxGradNorm    float64
	AdamEpsilon    float64
	WarmupSteps    int
	LoggingSteps   int
	Seed           int64

	// model shape, used when no pretrained checkpoint is given
	NumLayers int
	NumHeads  int
	Channels  int

	VocabPath      string
	PretrainedPath string
	CacheDir       string
}

// Run carries the mutable state of one fine-tuning run: the seeded RNG and
// the log sinks. It is constructed once and passed to every stage instead of
// living in package globals.
type Run struct {
	Args Args
	RNG  *rand.Rand
	Log  *log.Logger

	logDir        string
	trainLossFile string
	trainAccFile  string
	evalLossFile  string
}

// NewRun seeds the RNG from the arguments and wires the log sinks.
func NewRun(args Args, logger *log.Logger) *Run {
	logDir := filepath.Join(args.OutputDir, args.LogPath)
	return &Run{
		Args:          args,
		RNG:           rand.New(rand.NewSource(args.Seed)),
		Log:           logger,
		logDir:        logDir,
		trainLossFile: filepath.Join(logDir, trainLossFileName),
		trainAccFile:  filepath.Join(logDir, trainAccFileName),
		evalLossFile:  filepath.Join(logDir, evalLossFileName),
	}
}

// PrepareLogDir creates the log directory, or removes every file already in
// it. A restart starts from clean logs.
func (r *Run) PrepareLogDir() error {
	entries, err := os.ReadDir(r.logDir)
	if os.IsNotExist(err) {
		return os.MkdirAll(r.logDir, 0755)
	}
	if err != nil {
		return fmt.Errorf("failed to read log directory %s: %w", r.logDir, err)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(r.logDir, entry.Name())); err != nil {
			return fmt.Errorf("failed to clear log directory %s: %w", r.logDir, err)
		}
	}
	return nil
}

// appendLine opens the file in append mode, writes one line and closes it.
func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	if _, err := fmt.Fprintln(f, line); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

// TrainEpoch runs one epoch of gradient descent over randomly ordered
// batches: forward with labels, backward, clip the global gradient norm, take
// an optimizer step at the scheduled rate, advance the schedule, zero the
// gradients. Every LoggingSteps steps one line goes to the loss log and one
// to the metrics log, covering the interval since the previous log event.
// Both the interval logs and the epoch summary use the mean per-batch loss.
// Returns the mean per-batch loss over the epoch.
func (r *Run) TrainEpoch(model *Classifier, batcher *Batcher, opt *AdamW, sched *WarmupLinear) (float64, error) {
	batcher.Reset()
	var (
		trLoss      float64
		loggingLoss float64
		globalStep  int
		stepsInLog  int
		preds       []int32
		labels      []int32
	)
	for {
		batch, ok := batcher.NextBatch()
		if !ok {
			break
		}
		model.Forward(batch.InputIDs, batch.TokenTypeIDs, batch.AttentionMask, batch.Labels, batch.Size, batch.SeqLen)
		if err := model.Backward(); err != nil {
			return 0, err
		}
		ClipGradNorm(model.Grads.Memory, float32(r.Args.MaxGradNorm))
		opt.Step(model, sched.Current())
		sched.Step()
		trLoss += float64(model.MeanLoss)
		loggingLoss += float64(model.MeanLoss)
		preds = append(preds, model.Predictions()...)
		labels = append(labels, batch.Labels...)
		model.ZeroGradient()
		globalStep++
		stepsInLog++

		if r.Args.LoggingSteps > 0 && globalStep%r.Args.LoggingSteps == 0 {
			lr := sched.Current()
			meanLoss := loggingLoss / float64(stepsInLog)
			if err := appendLine(r.trainLossFile,
				fmt.Sprintf("iteration: %d, lr: %g, loss: %g", globalStep, lr, meanLoss)); err != nil {
				return 0, err
			}
			results := ComputeMetrics(preds, labels)
			if err := appendLine(r.trainAccFile,
				fmt.Sprintf("iteration: %d, lr: %g, loss: %g, results: {%s}", globalStep, lr, meanLoss, results)); err != nil {
				return 0, err
			}
			r.Log.Info("train", "iteration", globalStep, "lr", lr, "loss", meanLoss, "acc_and_f1", results.AccAndF1)
			loggingLoss = 0.0
			stepsInLog = 0
			preds = preds[:0]
			labels = labels[:0]
		}
	}
	if globalStep == 0 {
		return 0, fmt.Errorf("training epoch produced no batches")
	}
	return trLoss / float64(globalStep), nil
}

// Evaluate runs the forward pass over the whole split without touching
// gradients, aggregating predictions and labels, and returns the mean
// per-batch loss with the metric bundle. Batches are visited sequentially so
// a given model and split always produce the same metrics.
func (r *Run) Evaluate(model *Classifier, batcher *Batcher) (float64, EvalMetrics, error) {
	batcher.Reset()
	var (
		lossSum float64
		steps   int
		preds   []int32
		labels  []int32
	)
	for {
		batch, ok := batcher.NextBatch()
		if !ok {
			break
		}
		model.Forward(batch.InputIDs, batch.TokenTypeIDs, batch.AttentionMask, batch.Labels, batch.Size, batch.SeqLen)
		lossSum += float64(model.MeanLoss)
		steps++
		preds = append(preds, model.Predictions()...)
		labels = append(labels, batch.Labels...)
	}
	if steps == 0 {
		return 0, EvalMetrics{}, fmt.Errorf("evaluation produced no batches")
	}
	meanLoss := lossSum / float64(steps)
	return meanLoss, ComputeMetrics(preds, labels), nil
}

// bestTracker keeps the monotonic best of the combined metric across epochs.
// A checkpoint happens only on a strict improvement.
type bestTracker struct {
	best float64
}

func (b *bestTracker) Improved(v float64) bool {
	if v > b.best {
		b.best = v
		return true
	}
	return false
}

// RunTraining is the epoch driver: for each of NumTrainEpochs epochs it
// trains, evaluates, appends an epoch summary line, and checkpoints the model
// whenever the combined accuracy/F1 strictly exceeds the best seen so far.
// There is no early stopping and no resume; the loop always runs to the
// configured epoch count.
func (r *Run) RunTraining(model *Classifier, tok Tokenizer, opt *AdamW, sched *WarmupLinear, trainFeatures, devFeatures []Feature) error {
	if err := r.PrepareLogDir(); err != nil {
		return err
	}
	trainBatcher, err := NewBatcher(trainFeatures, r.Args.TrainBatchSize, r.RNG)
	if err != nil {
		return fmt.Errorf("train batcher: %w", err)
	}
	evalBatcher, err := NewBatcher(devFeatures, r.Args.TrainBatchSize, nil)
	if err != nil {
		return fmt.Errorf("eval batcher: %w", err)
	}
	r.Log.Info("running training",
		"num_examples", len(trainFeatures),
		"num_epochs", r.Args.NumTrainEpochs,
		"batch_size", r.Args.TrainBatchSize)

	var best bestTracker
	for epoch := 0; epoch < r.Args.NumTrainEpochs; epoch++ {
		r.Log.Info("epoch", "n", epoch)
		epochLoss, err := r.TrainEpoch(model, trainBatcher, opt, sched)
		if err != nil {
			return err
		}
		r.Log.Info("epoch finished", "n", epoch, "train_loss", epochLoss)
		evalLoss, results, err := r.Evaluate(model, evalBatcher)
		if err != nil {
			return err
		}
		if err := appendLine(r.evalLossFile,
			fmt.Sprintf("epoch: %d, lr: %g, eval_loss: %g, result: {%s}", epoch, sched.Current(), evalLoss, results)); err != nil {
			return err
		}
		r.Log.Info("eval", "epoch", epoch, "loss", evalLoss, "acc_and_f1", results.AccAndF1)
		if best.Improved(results.AccAndF1) {
			r.Log.Info("saving best model", "acc_and_f1", results.AccAndF1)
			if err := SaveCheckpoint(r.logDir, model, tok, r.Args); err != nil {
				return err
			}
		}
	}
	return nil
}

// RunEvaluation evaluates a model on the dev split without training,
// appending the result to the eval log.
func (r *Run) RunEvaluation(model *Classifier, devFeatures []Feature) error {
	if err := os.MkdirAll(r.logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory %s: %w", r.logDir, err)
	}
	evalBatcher, err := NewBatcher(devFeatures, r.Args.TrainBatchSize, nil)
	if err != nil {
		return fmt.Errorf("eval batcher: %w", err)
	}
	evalLoss, results, err := r.Evaluate(model, evalBatcher)
	if err != nil {
		return err
	}
	r.Log.Info("eval", "loss", evalLoss, "acc_and_f1", results.AccAndF1)
	return appendLine(r.evalLossFile,
		fmt.Sprintf("eval_loss: %g, result: {%s}", evalLoss, results))
}
