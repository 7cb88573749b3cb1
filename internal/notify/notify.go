// Package notify delivers detection alerts to external channels
// without ever blocking the detection path.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/nexguard/nexguard/internal/metrics"
)

// Alert is the payload delivered for an accepted detection event.
type Alert struct {
	DetectionID int64     `json:"detection_id"`
	CameraID    int       `json:"camera_id"`
	CameraName  string    `json:"camera_name"`
	ClassName   string    `json:"class_name"`
	Confidence  float64   `json:"confidence"`
	ImagePath   string    `json:"image_path"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Sink delivers one alert.
type Sink interface {
	SendAlert(ctx context.Context, a Alert) error
}

// NATSSink publishes alerts as JSON with bounded retries.
type NATSSink struct {
	conn       *nats.Conn
	subject    string
	maxRetries int
}

func NewNATSSink(conn *nats.Conn, subject string, maxRetries int) *NATSSink {
	return &NATSSink{conn: conn, subject: subject, maxRetries: maxRetries}
}

func (s *NATSSink) SendAlert(ctx context.Context, a Alert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	for i := 0; i <= s.maxRetries; i++ {
		if err = s.conn.Publish(s.subject, data); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i*100) * time.Millisecond):
		}
	}
	return fmt.Errorf("publish alert after %d retries: %w", s.maxRetries, err)
}

// LogSink just logs. Used when alerting is disabled or NATS is down.
type LogSink struct{}

func (LogSink) SendAlert(ctx context.Context, a Alert) error {
	log.Printf("[ALERT] camera %d (%s): %s %.2f", a.CameraID, a.CameraName, a.ClassName, a.Confidence)
	return nil
}

// Pool fans alerts out to a fixed number of workers over a bounded
// queue. Enqueue never blocks; a full queue drops the alert.
type Pool struct {
	sink  Sink
	queue chan Alert

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPool(sink Sink, workers, queueSize int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 16
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		sink:   sink,
		queue:  make(chan Alert, queueSize),
		cancel: cancel,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.work(ctx)
	}
	return p
}

// Enqueue hands off an alert. Returns false when the queue is full
// and the alert was dropped.
func (p *Pool) Enqueue(a Alert) bool {
	select {
	case p.queue <- a:
		return true
	default:
		metrics.AlertsDroppedTotal.Inc()
		log.Printf("[ALERT] queue full, dropping alert for camera %d", a.CameraID)
		return false
	}
}

// Close stops the workers after draining queued alerts.
func (p *Pool) Close() {
	close(p.queue)
	p.wg.Wait()
	p.cancel()
}

func (p *Pool) work(ctx context.Context) {
	defer p.wg.Done()
	for a := range p.queue {
		if err := p.sink.SendAlert(ctx, a); err != nil {
			log.Printf("[ALERT] delivery failed for camera %d: %v", a.CameraID, err)
		}
	}
}
