package storage

import "context"

// Disabled stands in for a Store when no database is configured. Writes are
// dropped and every lookup misses.
type Disabled struct{}

func (Disabled) GetGeneration(context.Context, string) (*Generation, error) {
	return nil, ErrNotFound
}

func (Disabled) GetUserGeneration(context.Context, string, string) (*Generation, error) {
	return nil, ErrNotFound
}

func (Disabled) SetGeneration(context.Context, *Generation) error { return nil }

func (Disabled) SetArchiveURL(context.Context, string, string) error { return nil }

func (Disabled) ListGenerations(context.Context, string, int, int) ([]*Generation, error) {
	return []*Generation{}, nil
}
