package repository

import (
	"context"

	"github.com/foker/tgflats-sub000/internal/domain/entity"
)

// RawPostRepository stores scraped posts. Upsert is keyed by the
// (channel, external_id) pair; a duplicate capture of the same message is an
// idempotent success, not an error.
type RawPostRepository interface {
	Upsert(ctx context.Context, post *entity.RawPost) (*entity.RawPost, error)
	GetByID(ctx context.Context, id string) (*entity.RawPost, error)
	MarkProcessed(ctx context.Context, id string) error
	ListUnprocessed(ctx context.Context, limit int) ([]entity.RawPost, error)
}
