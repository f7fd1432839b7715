package parpipe

import (
	"context"

	"github.com/FerroO2000/parpipe/internal/input"
)

// Map applies fn to every item in parallel and returns the results.
// The results are NOT in the order of the items.
func Map[T, U any](ctx context.Context, cfg *Config, items []T, fn func(T) U) ([]U, error) {
	results := make([]U, 0, len(items))

	err := Run(ctx, cfg, input.Slice(items), fn, func(res U) {
		results = append(results, res)
	})
	if err != nil {
		return nil, err
	}

	return results, nil
}

// Iter calls fn on every item in parallel.
func Iter[T any](ctx context.Context, cfg *Config, items []T, fn func(T)) error {
	return Run(ctx, cfg, input.Slice(items),
		func(item T) struct{} {
			fn(item)
			return struct{}{}
		},
		func(struct{}) {},
	)
}

// Fold applies fn to every item in parallel and folds the results into
// init with acc. Since the results arrive in no particular order,
// acc should be commutative and associative.
func Fold[T, U, A any](ctx context.Context, cfg *Config, items []T, fn func(T) U, init A, acc func(A, U) A) (A, error) {
	state := init

	err := Run(ctx, cfg, input.Slice(items), fn, func(res U) {
		state = acc(state, res)
	})
	if err != nil {
		return init, err
	}

	return state, nil
}
