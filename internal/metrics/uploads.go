package metrics

import (
	"fmt"

	"rumblebot/internal/bus"
	"rumblebot/internal/domain"
)

// Uploads holds the upload pipeline metrics.
type Uploads struct {
	c *Collector

	Received    *Counter
	Pending     *Gauge
	Expired     *Counter
	InFlight    *Gauge
	Duration    *Histogram
	Downloaded  *Counter
	Checkpoints map[domain.Checkpoint]*Counter
}

// NewUploads registers the upload metrics on c.
func NewUploads(c *Collector) *Uploads {
	u := &Uploads{
		c:          c,
		Received:   c.Counter("rumblebot_uploads_received_total", "Upload requests received", ""),
		Pending:    c.Gauge("rumblebot_uploads_pending_choice", "Requests waiting for a channel choice", ""),
		Expired:    c.Counter("rumblebot_uploads_expired_total", "Parked requests dropped after their choice expired", ""),
		InFlight:   c.Gauge("rumblebot_uploads_in_flight", "Requests currently being processed", ""),
		Downloaded: c.Counter("rumblebot_download_bytes_total", "Bytes downloaded from Telegram", ""),
		Duration: c.Histogram("rumblebot_upload_duration_seconds", "Wall time of the form-driving session", "",
			[]float64{30, 60, 120, 300, 600, 1200, 1800}),
		Checkpoints: map[domain.Checkpoint]*Counter{},
	}
	for _, cp := range []domain.Checkpoint{
		domain.CheckpointDownloaded, domain.CheckpointLoggedIn, domain.CheckpointFileAccepted,
		domain.CheckpointFormFilled, domain.CheckpointSubmitted, domain.CheckpointConfirmed,
	} {
		u.Checkpoints[cp] = c.Counter("rumblebot_checkpoints_total", "Progress checkpoints reached",
			fmt.Sprintf("checkpoint=%q", cp))
	}
	return u
}

// Finished counts a terminal result.
func (u *Uploads) Finished(res domain.UploadResult) {
	u.c.Counter("rumblebot_uploads_total", "Finished uploads by status",
		fmt.Sprintf("status=%q", res.Status)).Inc()
	if res.Kind != "" {
		u.c.Counter("rumblebot_upload_failures_total", "Failed or unconfirmed uploads by kind",
			fmt.Sprintf("kind=%q", res.Kind)).Inc()
	}
	if res.Duration > 0 {
		u.Duration.Observe(res.Duration.Seconds())
	}
}

// Subscribe keeps the metrics current from the event bus.
func (u *Uploads) Subscribe(eb *bus.EventBus) {
	eb.On(bus.EventReceived, func(bus.Event) {
		u.Received.Inc()
		u.InFlight.Inc()
	})
	eb.On(bus.EventCheckpoint, func(e bus.Event) {
		if ctr, ok := u.Checkpoints[e.Checkpoint]; ok {
			ctr.Inc()
		}
		if e.Checkpoint == domain.CheckpointDownloaded && e.Bytes > 0 {
			u.Downloaded.Add(e.Bytes)
		}
	})
	eb.On(bus.EventParked, func(bus.Event) {
		u.Pending.Inc()
		u.InFlight.Dec()
	})
	eb.On(bus.EventResumed, func(bus.Event) {
		u.Pending.Dec()
		u.InFlight.Inc()
	})
	eb.On(bus.EventExpired, func(bus.Event) {
		u.Pending.Dec()
		u.Expired.Inc()
	})
	eb.On(bus.EventFinished, func(e bus.Event) {
		u.InFlight.Dec()
		if e.Result != nil {
			u.Finished(*e.Result)
		}
	})
}
