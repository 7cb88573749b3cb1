package data

import (
	"context"
	"database/sql"
	"time"
)

// Detection is one persisted detection event.
type Detection struct {
	ID         int64     `json:"id"`
	CameraID   int       `json:"camera_id"`
	CameraName string    `json:"camera_name"`
	ClassName  string    `json:"class_name"`
	Confidence float64   `json:"confidence"`
	X1         int       `json:"x1"`
	Y1         int       `json:"y1"`
	X2         int       `json:"x2"`
	Y2         int       `json:"y2"`
	ImagePath  string    `json:"image_path"`
	ClipPath   string    `json:"clip_path,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

type DetectionModel struct {
	DB DBTX
}

func (m DetectionModel) Create(ctx context.Context, d *Detection) error {
	query := `
		INSERT INTO detections (camera_id, camera_name, class_name, confidence, x1, y1, x2, y2, image_path, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`

	return m.DB.QueryRowContext(ctx, query,
		d.CameraID, d.CameraName, d.ClassName, d.Confidence,
		d.X1, d.Y1, d.X2, d.Y2, d.ImagePath, d.OccurredAt,
	).Scan(&d.ID)
}

func (m DetectionModel) Get(ctx context.Context, id int64) (*Detection, error) {
	query := `
		SELECT id, camera_id, camera_name, class_name, confidence, x1, y1, x2, y2, image_path, clip_path, occurred_at
		FROM detections
		WHERE id = $1`

	var d Detection
	var clip sql.NullString
	err := m.DB.QueryRowContext(ctx, query, id).Scan(
		&d.ID, &d.CameraID, &d.CameraName, &d.ClassName, &d.Confidence,
		&d.X1, &d.Y1, &d.X2, &d.Y2, &d.ImagePath, &clip, &d.OccurredAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	if clip.Valid {
		d.ClipPath = clip.String
	}
	return &d, nil
}

// SetClipPath records the finished post-event clip on the detection
// row.
func (m DetectionModel) SetClipPath(ctx context.Context, id int64, clipPath string) error {
	query := `
		UPDATE detections
		SET clip_path = $1
		WHERE id = $2`

	res, err := m.DB.ExecContext(ctx, query, clipPath, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// ListRecent returns the newest detections for a camera, most recent
// first. cameraID < 0 lists across all cameras.
func (m DetectionModel) ListRecent(ctx context.Context, cameraID int, limit int) ([]Detection, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `
		SELECT id, camera_id, camera_name, class_name, confidence, x1, y1, x2, y2, image_path, clip_path, occurred_at
		FROM detections
		WHERE ($1 < 0 OR camera_id = $1)
		ORDER BY occurred_at DESC
		LIMIT $2`

	rows, err := m.DB.QueryContext(ctx, query, cameraID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Detection
	for rows.Next() {
		var d Detection
		var clip sql.NullString
		if err := rows.Scan(
			&d.ID, &d.CameraID, &d.CameraName, &d.ClassName, &d.Confidence,
			&d.X1, &d.Y1, &d.X2, &d.Y2, &d.ImagePath, &clip, &d.OccurredAt,
		); err != nil {
			return nil, err
		}
		if clip.Valid {
			d.ClipPath = clip.String
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
