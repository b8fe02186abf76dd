package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chordwave/backend/internal/models"
)

type GalleryRepo struct {
	pool *pgxpool.Pool
}

func NewGalleryRepo(pool *pgxpool.Pool) *GalleryRepo {
	return &GalleryRepo{pool: pool}
}

// CreateTx appends a gallery item inside the settlement transaction.
func (r *GalleryRepo) CreateTx(ctx context.Context, tx pgx.Tx, g *models.GalleryItem) error {
	return tx.QueryRow(ctx, `
		INSERT INTO gallery_items (id, user_id, task_id, kind, title, file_url)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, g.ID, g.UserID, g.TaskID, g.Kind, g.Title, g.FileURL).Scan(&g.CreatedAt)
}

func (r *GalleryRepo) ListByUserID(ctx context.Context, userID uuid.UUID) ([]*models.GalleryItem, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, task_id, kind, title, file_url, created_at
		FROM gallery_items WHERE user_id = $1 ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.GalleryItem
	for rows.Next() {
		var g models.GalleryItem
		if err := rows.Scan(&g.ID, &g.UserID, &g.TaskID, &g.Kind, &g.Title, &g.FileURL, &g.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &g)
	}
	return list, rows.Err()
}
