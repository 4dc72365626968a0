package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const createPhoto = `
INSERT INTO photos (inspection_id, storage_key, category, size_bytes)
VALUES ($1, $2, $3, $4)
RETURNING id, inspection_id, storage_key, thumbnail_key, category, size_bytes, created_at
`

// CreatePhotoParams holds the attributes of a newly recorded photo.
type CreatePhotoParams struct {
	InspectionID uuid.UUID
	StorageKey   string
	Category     sql.NullString
	SizeBytes    int64
}

// CreatePhoto records one photo belonging to an inspection.
func (q *Queries) CreatePhoto(ctx context.Context, arg CreatePhotoParams) (Photo, error) {
	row := q.db.QueryRowContext(ctx, createPhoto,
		arg.InspectionID,
		arg.StorageKey,
		arg.Category,
		arg.SizeBytes,
	)
	var p Photo
	err := row.Scan(
		&p.ID,
		&p.InspectionID,
		&p.StorageKey,
		&p.ThumbnailKey,
		&p.Category,
		&p.SizeBytes,
		&p.CreatedAt,
	)
	return p, err
}

const listPhotosByInspectionID = `
SELECT id, inspection_id, storage_key, thumbnail_key, category, size_bytes, created_at
FROM photos
WHERE inspection_id = $1
ORDER BY created_at ASC
`

// ListPhotosByInspectionID returns every photo of an inspection.
func (q *Queries) ListPhotosByInspectionID(ctx context.Context, inspectionID uuid.UUID) ([]Photo, error) {
	rows, err := q.db.QueryContext(ctx, listPhotosByInspectionID, inspectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPhotos(rows)
}

const listPhotosByIDs = `
SELECT id, inspection_id, storage_key, thumbnail_key, category, size_bytes, created_at
FROM photos
WHERE id = ANY($1::uuid[])
ORDER BY created_at ASC
`

// ListPhotosByIDs returns the photos with the given ids (chunk members).
func (q *Queries) ListPhotosByIDs(ctx context.Context, ids []uuid.UUID) ([]Photo, error) {
	rows, err := q.db.QueryContext(ctx, listPhotosByIDs, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPhotos(rows)
}

const updatePhotoCategory = `
UPDATE photos
SET category = $2
WHERE id = $1
`

// UpdatePhotoCategoryParams assigns a category to a photo.
type UpdatePhotoCategoryParams struct {
	ID       uuid.UUID
	Category sql.NullString
}

// UpdatePhotoCategory writes the categorization result for a photo.
func (q *Queries) UpdatePhotoCategory(ctx context.Context, arg UpdatePhotoCategoryParams) error {
	_, err := q.db.ExecContext(ctx, updatePhotoCategory, arg.ID, arg.Category)
	return err
}

const updatePhotoThumbnail = `
UPDATE photos
SET thumbnail_key = $2
WHERE id = $1
`

// UpdatePhotoThumbnailParams records the thumbnail object key.
type UpdatePhotoThumbnailParams struct {
	ID           uuid.UUID
	ThumbnailKey sql.NullString
}

// UpdatePhotoThumbnail records a generated thumbnail's storage key.
func (q *Queries) UpdatePhotoThumbnail(ctx context.Context, arg UpdatePhotoThumbnailParams) error {
	_, err := q.db.ExecContext(ctx, updatePhotoThumbnail, arg.ID, arg.ThumbnailKey)
	return err
}

func scanPhotos(rows *sql.Rows) ([]Photo, error) {
	var items []Photo
	for rows.Next() {
		var p Photo
		if err := rows.Scan(
			&p.ID,
			&p.InspectionID,
			&p.StorageKey,
			&p.ThumbnailKey,
			&p.Category,
			&p.SizeBytes,
			&p.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}
