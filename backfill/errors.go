package backfill

import "errors"

var (
	// ErrRepositoryRequired is returned by NewJob when no repository is given.
	ErrRepositoryRequired = errors.New("record repository is required")

	// ErrEmbeddingClientRequired is returned by NewJob when no embedding client is given.
	ErrEmbeddingClientRequired = errors.New("embedding client is required")

	// ErrInvalidConfig is returned for non-positive batch size or concurrency.
	ErrInvalidConfig = errors.New("invalid backfill config")

	// ErrNoEmbedding marks a record whose embedding could not be generated.
	ErrNoEmbedding = errors.New("no embedding generated")

	// ErrJobPanicked is returned when Run recovers from a panic.
	ErrJobPanicked = errors.New("backfill job panicked")
)
