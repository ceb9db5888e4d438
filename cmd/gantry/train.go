package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/gantryml/gantry/callbacks"
	"github.com/gantryml/gantry/data"
	"github.com/gantryml/gantry/engine"
	"github.com/gantryml/gantry/logger"
	"github.com/gantryml/gantry/monitor"
	"github.com/gantryml/gantry/native"
	"github.com/gantryml/gantry/tensor"
)

func trainCmd() *cli.Command {
	var (
		configPath   string
		epochs       int64
		learningRate float64
		gamma        float64
		patience     int64
		accumulation int64
		samples      int64
		batchSize    int64
		seed         int64
		checkpoint   string
		output       string
		monitorAddr  string
		logFormat    string
	)

	return &cli.Command{
		Name:  "train",
		Usage: "Train a linear regression demo model on synthetic data",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Usage:       "YAML config file",
				Destination: &configPath,
			},
			&cli.Int64Flag{
				Name:        "epochs",
				Usage:       "maximum number of epochs",
				Value:       20,
				Destination: &epochs,
			},
			&cli.Float64Flag{
				Name:        "lr",
				Usage:       "learning rate",
				Value:       0.05,
				Destination: &learningRate,
			},
			&cli.Float64Flag{
				Name:        "gamma",
				Usage:       "per-epoch learning rate decay (0 disables)",
				Destination: &gamma,
			},
			&cli.Int64Flag{
				Name:        "patience",
				Usage:       "early stopping patience in epochs (0 disables)",
				Destination: &patience,
			},
			&cli.Int64Flag{
				Name:        "accumulation",
				Usage:       "gradient accumulation steps",
				Value:       1,
				Destination: &accumulation,
			},
			&cli.Int64Flag{
				Name:        "samples",
				Usage:       "number of synthetic training samples",
				Value:       256,
				Destination: &samples,
			},
			&cli.Int64Flag{
				Name:        "batch-size",
				Usage:       "samples per batch",
				Value:       16,
				Destination: &batchSize,
			},
			&cli.Int64Flag{
				Name:        "seed",
				Usage:       "random seed for data and weights",
				Value:       1,
				Destination: &seed,
			},
			&cli.StringFlag{
				Name:        "checkpoint",
				Usage:       "path for best-model state checkpoints during training",
				Destination: &checkpoint,
			},
			&cli.StringFlag{
				Name:        "output",
				Usage:       "path for the final trained system envelope",
				Destination: &output,
			},
			&cli.StringFlag{
				Name:        "monitor-addr",
				Usage:       "serve live training status on this address",
				Destination: &monitorAddr,
			},
			&cli.StringFlag{
				Name:        "log-format",
				Usage:       "log format: text or json",
				Value:       "text",
				Destination: &logFormat,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			applyTrainConfig(cmd, cfg,
				&epochs, &patience, &accumulation, &samples, &batchSize, &seed,
				&learningRate, &gamma,
				&checkpoint, &monitorAddr, &logFormat)

			log := logger.Default()
			if logFormat == "json" {
				log = logger.JSON(os.Stderr, slog.LevelInfo)
			}

			trainLoader, evalLoader, err := syntheticRegression(seed, int(samples), int(batchSize))
			if err != nil {
				return err
			}

			model, err := native.NewLinear(2, 1, seed)
			if err != nil {
				return err
			}
			system, err := engine.NewSystem(model, engine.SystemConfig{
				LastActivation: native.ActivationIdentity,
				Device:         tensor.CPU,
				Codec:          native.Codec{},
			})
			if err != nil {
				return err
			}
			optimizer, err := native.NewSGD(model, float32(learningRate))
			if err != nil {
				return err
			}
			loss, err := native.NewMSELoss(model)
			if err != nil {
				return err
			}

			cbs := []engine.Callback{
				engine.NewEpochLimit(int(epochs)),
				callbacks.NewHistoryLogger(log),
			}
			watched := callbacks.Monitored{
				Dataset:   "validation",
				Evaluator: "mae",
				Mode:      callbacks.MinMode,
			}
			if gamma > 0 {
				cbs = append(cbs, callbacks.NewLRScheduler(float32(gamma)))
			}
			if patience > 0 {
				stopper := callbacks.NewEarlyStopping(watched, int(patience))
				stopper.RestoreBest = true
				cbs = append(cbs, stopper)
			}
			if checkpoint != "" {
				cbs = append(cbs, callbacks.NewCheckpointer(checkpoint, &watched, log))
			}
			if monitorAddr != "" {
				mon := monitor.New()
				cbs = append(cbs, mon)
				monCtx, cancel := context.WithCancel(ctx)
				defer cancel()
				go func() {
					if err := mon.Serve(monCtx, monitorAddr); err != nil {
						log.Error("monitor server stopped", "error", err)
					}
				}()
				log.Info("monitor listening", "address", monitorAddr)
			}

			history, err := system.Train(engine.TrainConfig{
				LossWrapper: loss,
				Optimizer:   optimizer,
				TrainLoader: trainLoader,
				EvaluationLoaders: map[string]data.DataLoader{
					"validation": evalLoader,
				},
				Evaluators: map[string]tensor.Evaluator{
					"mae": native.NewMAE(),
				},
				Callbacks:                 cbs,
				GradientAccumulationSteps: int(accumulation),
				Logger:                    log,
			})
			if err != nil {
				return fmt.Errorf("training failed: %v", err)
			}
			log.Info("training complete", "epochs", len(history))

			if output != "" {
				file, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create output file: %v", err)
				}
				defer file.Close()
				if err := system.Save(file); err != nil {
					return fmt.Errorf("failed to save system: %v", err)
				}
				log.Info("system saved", "path", output)
			}
			return nil
		},
	}
}

// syntheticRegression builds train and validation loaders for the demo
// target y = 3*x1 - 2*x2 + 0.5 with Gaussian noise.
func syntheticRegression(seed int64, samples, batchSize int) (data.DataLoader, data.DataLoader, error) {
	if samples < 2 {
		return nil, nil, fmt.Errorf("need at least 2 samples, got %d", samples)
	}
	if batchSize < 1 {
		return nil, nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}

	rng := rand.New(rand.NewSource(seed))
	makeBatches := func(n int) ([]tensor.Batch, error) {
		var batches []tensor.Batch
		for start := 0; start < n; start += batchSize {
			rows := batchSize
			if start+rows > n {
				rows = n - start
			}
			inputs := make([]float32, 0, rows*2)
			targets := make([]float32, 0, rows)
			for i := 0; i < rows; i++ {
				x1 := rng.Float32()*4 - 2
				x2 := rng.Float32()*4 - 2
				noise := float32(rng.NormFloat64()) * 0.05
				inputs = append(inputs, x1, x2)
				targets = append(targets, 3*x1-2*x2+0.5+noise)
			}
			input, err := native.NewTensor(inputs, []int{rows, 2})
			if err != nil {
				return nil, err
			}
			target, err := native.NewTensor(targets, []int{rows, 1})
			if err != nil {
				return nil, err
			}
			batches = append(batches, tensor.Batch{"input": input, "target": target})
		}
		return batches, nil
	}

	evalSamples := samples / 4
	if evalSamples < 1 {
		evalSamples = 1
	}
	trainBatches, err := makeBatches(samples)
	if err != nil {
		return nil, nil, err
	}
	evalBatches, err := makeBatches(evalSamples)
	if err != nil {
		return nil, nil, err
	}
	trainLoader, err := data.NewSliceLoader(trainBatches)
	if err != nil {
		return nil, nil, err
	}
	evalLoader, err := data.NewSliceLoader(evalBatches)
	if err != nil {
		return nil, nil, err
	}
	return trainLoader, evalLoader, nil
}
