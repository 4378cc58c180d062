package queue

import "time"

// Recorder receives queue events for metrics. Implementations must be safe
// for concurrent use.
type Recorder interface {
	Enqueued(kind Kind)
	Evicted(kind Kind)
	Dropped(kind Kind)
	Submitted(kind Kind, outcome Outcome)
	Depth(kind Kind, size int)
	PassFinished(kind Kind, d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) Enqueued(Kind)                    {}
func (nopRecorder) Evicted(Kind)                     {}
func (nopRecorder) Dropped(Kind)                     {}
func (nopRecorder) Submitted(Kind, Outcome)          {}
func (nopRecorder) Depth(Kind, int)                  {}
func (nopRecorder) PassFinished(Kind, time.Duration) {}
