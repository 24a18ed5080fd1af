package device

import (
	"context"
	"math/rand"
	"time"

	"github.com/sarchlab/fedcomm/task"
)

// SyntheticTrainer produces random gradients of the right shape after a fixed
// delay per epoch. It stands in for a real model when exercising the
// protocol.
type SyntheticTrainer struct {
	EpochTime time.Duration
	Samples   int
	Seed      int64
}

// Train pretends to train for the configured number of epochs.
func (t SyntheticTrainer) Train(
	ctx context.Context,
	config task.Config,
	weights task.Weights,
) (task.Update, task.Metrics, error) {
	epochs := max(config.Epochs, 1)
	for i := 0; i < epochs; i++ {
		select {
		case <-ctx.Done():
			return task.Update{}, nil, ctx.Err()
		case <-time.After(t.EpochTime):
		}
	}

	//nolint:gosec
	rng := rand.New(rand.NewSource(t.Seed))

	grads := weights.Clone()
	for _, l := range grads {
		for i := range l.Values {
			l.Values[i] = float32(rng.NormFloat64()) *
				float32(config.LRParams.InitialLR)
		}
	}

	loss := rng.Float64()
	metrics := task.Metrics{
		"accuracy": 1 - loss/2,
		"nll":      loss,
		"error":    loss / 2,
	}

	return task.Update{Gradients: grads, Samples: t.Samples}, metrics, nil
}
