// Package progress carries fetch-progress events out to an external UI
// collaborator and tracks download speed as an EWMA fed by a periodic
// tick, updated from byte counts observed on the hot path.
package progress

import (
	"time"

	"github.com/rcrowley/go-metrics"
)

// Event is emitted once per completed piece so an external UI collaborator
// can render progress.
type Event struct {
	WorkerID string
	Filename string
	PieceID  uint32
	Done     int
	Total    int
}

// Speed wraps an EWMA: bytes observed between ticks feed Update, and a
// background ticker calls Tick on the interval given to New.
type Speed struct {
	ewma   metrics.EWMA
	ticker *time.Ticker
	stop   chan struct{}
}

// New starts a Speed tracker that ticks its EWMA every interval until
// Stop is called.
func New(interval time.Duration) *Speed {
	s := &Speed{
		ewma:   metrics.NewEWMA1(),
		ticker: time.NewTicker(interval),
		stop:   make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Speed) run() {
	for {
		select {
		case <-s.ticker.C:
			s.ewma.Tick()
		case <-s.stop:
			return
		}
	}
}

// Update records n newly transferred bytes.
func (s *Speed) Update(n int64) {
	s.ewma.Update(n)
}

// Rate returns the current one-minute EWMA rate in bytes/second. go-metrics'
// EWMA assumes Tick is called every 5 seconds, so the figure has those
// units only when New was given a 5-second interval.
func (s *Speed) Rate() float64 {
	return s.ewma.Rate()
}

// Stop halts the background ticker goroutine.
func (s *Speed) Stop() {
	s.ticker.Stop()
	close(s.stop)
}
