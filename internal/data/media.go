package data

import (
	"context"
	"database/sql"
	"time"
)

// Media kinds.
const (
	MediaImage = "image"
	MediaVideo = "video"
)

// Media is one stored artifact. Path is relative to the storage root.
// Duration is in seconds and stays zero for images.
type Media struct {
	ID          int64     `json:"id"`
	DetectionID int64     `json:"detection_id"`
	CameraID    int       `json:"camera_id"`
	Kind        string    `json:"kind"`
	Path        string    `json:"path"`
	SizeBytes   int64     `json:"size_bytes"`
	Duration    float64   `json:"duration,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type MediaModel struct {
	DB DBTX
}

func (m MediaModel) Create(ctx context.Context, md *Media) error {
	query := `
		INSERT INTO media (detection_id, camera_id, kind, path, size_bytes, duration_seconds, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	if md.CreatedAt.IsZero() {
		md.CreatedAt = time.Now().UTC()
	}
	return m.DB.QueryRowContext(ctx, query,
		md.DetectionID, md.CameraID, md.Kind, md.Path, md.SizeBytes, md.Duration, md.CreatedAt,
	).Scan(&md.ID)
}

// VideoPath returns the storage-relative clip path for a detection.
func (m MediaModel) VideoPath(ctx context.Context, detectionID int64) (string, error) {
	query := `
		SELECT path
		FROM media
		WHERE detection_id = $1 AND kind = $2
		ORDER BY created_at DESC
		LIMIT 1`

	var path string
	err := m.DB.QueryRowContext(ctx, query, detectionID, MediaVideo).Scan(&path)
	if err == sql.ErrNoRows {
		return "", ErrRecordNotFound
	}
	if err != nil {
		return "", err
	}
	return path, nil
}

// ListForDetection returns all artifacts for a detection, newest
// first.
func (m MediaModel) ListForDetection(ctx context.Context, detectionID int64) ([]Media, error) {
	query := `
		SELECT id, detection_id, camera_id, kind, path, size_bytes, duration_seconds, created_at
		FROM media
		WHERE detection_id = $1
		ORDER BY created_at DESC`

	rows, err := m.DB.QueryContext(ctx, query, detectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Media
	for rows.Next() {
		var md Media
		if err := rows.Scan(&md.ID, &md.DetectionID, &md.CameraID, &md.Kind, &md.Path, &md.SizeBytes, &md.Duration, &md.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, md)
	}
	return out, rows.Err()
}
