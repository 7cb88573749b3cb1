// Package live mirrors the newest inference result per camera into
// redis so sibling services can poll detections without touching the
// pipeline.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nexguard/nexguard/internal/frame"
)

const DefaultTTL = 10 * time.Second

var ErrNoSnapshot = errors.New("no live snapshot")

// Snapshot is the cached view of a camera's latest detections.
type Snapshot struct {
	CameraID    int               `json:"camera_id"`
	FrameNumber uint64            `json:"frame_number"`
	Detections  []frame.Detection `json:"detections"`
	TSUnixMS    int64             `json:"ts_unix_ms"`
	AgeMS       int64             `json:"age_ms,omitempty"`
}

type Cache struct {
	Redis *redis.Client
	TTL   time.Duration
}

func NewCache(r *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{Redis: r, TTL: ttl}
}

func key(cameraID int) string {
	return fmt.Sprintf("nexguard:latest:%d", cameraID)
}

// Publish stores the result under the camera key with TTL.
func (c *Cache) Publish(ctx context.Context, res frame.Result) error {
	snap := Snapshot{
		CameraID:    res.CameraID,
		FrameNumber: res.Number,
		Detections:  res.Detections,
		TSUnixMS:    res.Timestamp.UnixMilli(),
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := c.Redis.Set(ctx, key(res.CameraID), data, c.TTL).Err(); err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}
	return nil
}

// Latest returns the cached snapshot with age_ms filled in.
func (c *Cache) Latest(ctx context.Context, cameraID int) (*Snapshot, error) {
	data, err := c.Redis.Get(ctx, key(cameraID)).Result()
	if err == redis.Nil {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	snap.AgeMS = time.Now().UnixMilli() - snap.TSUnixMS
	if snap.AgeMS < 1 {
		snap.AgeMS = 1
	}
	return &snap, nil
}
