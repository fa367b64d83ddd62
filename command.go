package faqtune

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var runArgs = Args{}

// CLI-only flags, not persisted into checkpoints.
var (
	flagVocabURL string
	flagModelURL string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "faqtune",
	Short: "Fine-tune a transformer pair classifier for FAQ best-answer selection",
	Long: `
faqtune fine-tunes a small transformer encoder to score (title, reply) pairs
read from CSV files, evaluating on a held-out split each epoch and keeping the
checkpoint with the best combined accuracy/F1.
`,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Download the pretrained model and vocabulary",
	Long:  `This command fetches the pretrained starting checkpoint and its vocabulary into the local cache directory, skipping files that already exist.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		vocabPath, modelPath, err := FetchAssets(runArgs.CacheDir, flagVocabURL, flagModelURL)
		if err != nil {
			return err
		}
		fmt.Println("vocab:", vocabPath)
		fmt.Println("model:", modelPath)
		return nil
	},
}

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Run fine-tuning and/or evaluation",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})
		return runTrain(runArgs, logger)
	},
}

func runTrain(args Args, logger *log.Logger) error {
	run := NewRun(args, logger)

	logger.Info("loading tokenizer", "vocab", args.VocabPath)
	tok, err := NewTokenizer(args.VocabPath)
	if err != nil {
		return fmt.Errorf("failed to load tokenizer: %w", err)
	}

	logger.Info("loading dataset", "data_dir", args.DataDir)
	cache := FeatureCache{Dir: args.CacheDir}
	var trainFeatures []Feature
	if args.DoTrain {
		trainFeatures, err = cache.LoadOrBuild(args.DataDir, TrainSplit, tok, args.MaxSeqLength)
		if err != nil {
			return err
		}
	}
	devFeatures, err := cache.LoadOrBuild(args.DataDir, DevSplit, tok, args.MaxSeqLength)
	if err != nil {
		return err
	}

	var model *Classifier
	if args.PretrainedPath != "" {
		logger.Info("loading pretrained model", "path", args.PretrainedPath)
		model, err = LoadClassifier(args.PretrainedPath, run.RNG)
		if err != nil {
			return fmt.Errorf("failed to load pretrained model: %w", err)
		}
	} else {
		model = NewClassifier(ClassifierConfig{
			MaxSeqLen: args.MaxSeqLength,
			V:         tok.VocabSize(),
			L:         args.NumLayers,
			NH:        args.NumHeads,
			C:         args.Channels,
			NumLabels: len(Labels()),
		}, run.RNG)
	}
	fmt.Println(model)

	if args.DoTrain {
		opt := NewAdamW(model, float32(args.AdamEpsilon), float32(args.WeightDecay))
		sched := &WarmupLinear{
			BaseLR:      float32(args.LearningRate),
			WarmupSteps: args.WarmupSteps,
			TotalSteps:  len(trainFeatures) * args.NumTrainEpochs * args.TrainBatchSize,
		}
		if err := run.RunTraining(model, tok, opt, sched, trainFeatures, devFeatures); err != nil {
			return err
		}
	}
	if args.DoEval && !args.DoTrain {
		if err := run.RunEvaluation(model, devFeatures); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	f := trainCmd.Flags()
	f.StringVar(&runArgs.DataDir, "data_dir", "", "directory containing train.csv and dev.csv")
	f.StringVar(&runArgs.OutputDir, "output_dir", "", "model output directory")
	f.StringVar(&runArgs.LogPath, "log_path", "", "run subdirectory under output_dir for logs and checkpoints")
	f.BoolVar(&runArgs.DoTrain, "do_train", false, "whether to run training")
	f.BoolVar(&runArgs.DoEval, "do_eval", false, "whether to run eval on the dev set")
	f.IntVar(&runArgs.MaxSeqLength, "max_seq_length", 100, "maximum sequence length for the pair encoding")
	f.IntVar(&runArgs.TrainBatchSize, "train_batch_size", 64, "batch size for train and eval")
	f.IntVar(&runArgs.NumTrainEpochs, "num_train_epochs", 3, "total number of training epochs to perform")
	f.Float64Var(&runArgs.LearningRate, "learning_rate", 1e-5, "the initial learning rate for AdamW")
	f.Float64Var(&runArgs.WeightDecay, "weight_decay", 0.0, "weight decay if we apply some")
	f.Float64Var(&runArgs.MaxGradNorm, "max_grad_norm", 1.0, "max gradient norm")
	f.Float64Var(&runArgs.AdamEpsilon, "adam_epsilon", 1e-8, "epsilon for the AdamW optimizer")
	f.IntVar(&runArgs.WarmupSteps, "warmup_steps", 0, "linear warmup over warmup_steps")
	f.IntVar(&runArgs.LoggingSteps, "logging_steps", 100, "log every X update steps")
	f.Int64Var(&runArgs.Seed, "seed", 42, "random seed for initialization")
	f.IntVar(&runArgs.NumLayers, "num_layers", 4, "encoder layers when training from scratch")
	f.IntVar(&runArgs.NumHeads, "num_heads", 4, "attention heads when training from scratch")
	f.IntVar(&runArgs.Channels, "channels", 128, "embedding dimension when training from scratch")
	f.StringVar(&runArgs.VocabPath, "vocab_path", "", "path to the tokenizer vocab.txt")
	f.StringVar(&runArgs.PretrainedPath, "pretrained_path", "", "path to a pretrained model.bin; empty trains from scratch")
	f.StringVar(&runArgs.CacheDir, "cache_dir", ".", "directory for cached features and downloaded assets")
	for _, name := range []string{"data_dir", "output_dir", "log_path", "vocab_path"} {
		if err := trainCmd.MarkFlagRequired(name); err != nil {
			panic(err)
		}
	}

	initCmd.Flags().StringVar(&runArgs.CacheDir, "cache_dir", ".", "directory for downloaded assets")
	initCmd.Flags().StringVar(&flagVocabURL, "vocab_url", DefaultVocabURL, "vocabulary download URL")
	initCmd.Flags().StringVar(&flagModelURL, "model_url", DefaultPretrainedURL, "pretrained model download URL")

	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(initCmd)
}

// Execute runs the CLI. Called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
