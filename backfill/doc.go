// Package backfill computes and stores embeddings for records that have none.
package backfill
