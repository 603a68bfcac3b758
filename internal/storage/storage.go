package storage

import (
	"context"
	"errors"

	"pairsync/internal/model"
)

// Sink receives pairs newly merged into a network partition.
type Sink interface {
	PutPairBatch(ctx context.Context, network string, pairs []model.Pair) error
}

// Multi fans a batch out to every sink and joins their errors.
type Multi []Sink

func (m Multi) PutPairBatch(ctx context.Context, network string, pairs []model.Pair) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.PutPairBatch(ctx, network, pairs); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
