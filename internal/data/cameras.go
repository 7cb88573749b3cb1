package data

import (
	"context"
	"database/sql"
)

// Camera is the registration row for one source.
type Camera struct {
	ID      int     `json:"id"`
	Name    string  `json:"name"`
	URL     string  `json:"url"`
	FPS     float64 `json:"fps"`
	Width   int     `json:"width"`
	Height  int     `json:"height"`
	Enabled bool    `json:"enabled"`
}

type CameraModel struct {
	DB DBTX
}

func (m CameraModel) Get(ctx context.Context, id int) (*Camera, error) {
	query := `
		SELECT id, name, url, fps, width, height, enabled
		FROM cameras
		WHERE id = $1`

	var c Camera
	err := m.DB.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.Name, &c.URL, &c.FPS, &c.Width, &c.Height, &c.Enabled,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (m CameraModel) List(ctx context.Context) ([]Camera, error) {
	query := `
		SELECT id, name, url, fps, width, height, enabled
		FROM cameras
		ORDER BY id`

	rows, err := m.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Camera
	for rows.Next() {
		var c Camera
		if err := rows.Scan(&c.ID, &c.Name, &c.URL, &c.FPS, &c.Width, &c.Height, &c.Enabled); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (m CameraModel) Create(ctx context.Context, c *Camera) error {
	query := `
		INSERT INTO cameras (name, url, fps, width, height, enabled)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	return m.DB.QueryRowContext(ctx, query,
		c.Name, c.URL, c.FPS, c.Width, c.Height, c.Enabled,
	).Scan(&c.ID)
}

func (m CameraModel) Update(ctx context.Context, c *Camera) error {
	query := `
		UPDATE cameras
		SET name = $1, url = $2, fps = $3, width = $4, height = $5, enabled = $6
		WHERE id = $7`

	res, err := m.DB.ExecContext(ctx, query, c.Name, c.URL, c.FPS, c.Width, c.Height, c.Enabled, c.ID)
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

func (m CameraModel) Delete(ctx context.Context, id int) error {
	res, err := m.DB.ExecContext(ctx, `DELETE FROM cameras WHERE id = $1`, id)
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
