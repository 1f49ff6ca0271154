// Live HTTP debug charts for bench builds
// https://github.com/kestrel-debug/kestrel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build kestrel_diag

// Package diag wires github.com/mkevac/debugcharts into a probe-core bench
// build, the same "live charts over HTTP" pattern the teacher wires in its
// example/ tree. It is only ever linked in with the kestrel_diag build tag,
// never into the production probe image, and adds three kestrel-specific
// series (RTT poll period, FPB/DWT comparator occupancy, DP sticky-fault
// rate) alongside debugcharts' own goroutine/heap series.
package diag

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	_ "github.com/mkevac/debugcharts" // registers /debug/charts/ on http.DefaultServeMux

	"github.com/kestrel-debug/kestrel/dispatch"
	"github.com/kestrel-debug/kestrel/kestrelpb"
)

// Snapshot is the kestrel-specific series this package samples on top of
// debugcharts' own goroutine/heap charts.
type Snapshot struct {
	Time                 time.Time `json:"time"`
	RTTPollPeriodMs      float64   `json:"rtt_poll_period_ms"`
	ComparatorsOccupied  int       `json:"comparators_occupied"`
	StickyFaultsObserved uint64    `json:"sticky_faults_observed"`
}

// Server samples a Dispatcher on an interval and serves the resulting
// history as JSON at /debug/kestrel/metrics, next to debugcharts' own charts
// at /debug/charts/.
type Server struct {
	d        *dispatch.Dispatcher
	interval time.Duration

	mu      sync.Mutex
	history []Snapshot
	maxLen  int

	stickyFaults uint64
}

// NewServer returns a Server sampling d every interval, keeping the most
// recent maxLen snapshots.
func NewServer(d *dispatch.Dispatcher, interval time.Duration, maxLen int) *Server {
	if maxLen <= 0 {
		maxLen = 600 // ten minutes at a 1s interval
	}
	return &Server{d: d, interval: interval, maxLen: maxLen}
}

// Run samples on s.interval until ctx is done.
func (s *Server) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.sample()
		}
	}
}

func (s *Server) sample() {
	snap := Snapshot{Time: time.Now()}

	if t := s.d.Current(); t != nil {
		if t.Controller != nil {
			for _, bw := range t.Controller.Breakwatches() {
				if bw.Armed {
					snap.ComparatorsOccupied++
				}
			}
		}
		if t.AP != nil && t.AP.DP().StickyError() != nil {
			s.mu.Lock()
			s.stickyFaults++
			s.mu.Unlock()
		}
	}

	if rttStatus, err := kestrelpb.UnmarshalRTTStatus(s.d.RTTSnapshot()); err == nil {
		snap.RTTPollPeriodMs = float64(rttStatus.PollPeriodNs) / float64(time.Millisecond)
	}

	s.mu.Lock()
	snap.StickyFaultsObserved = s.stickyFaults
	s.history = append(s.history, snap)
	if len(s.history) > s.maxLen {
		s.history = s.history[len(s.history)-s.maxLen:]
	}
	s.mu.Unlock()
}

// Handler returns the /debug/kestrel/metrics HTTP handler: the sampled
// history as JSON.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		hist := append([]Snapshot(nil), s.history...)
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(hist)
	})
}

// ListenAndServe registers the metrics handler alongside debugcharts' own
// mux entries and serves both on addr. It blocks until the listener fails
// or ctx is canceled.
func ListenAndServe(ctx context.Context, addr string, s *Server) error {
	http.Handle("/debug/kestrel/metrics", s.Handler())

	srv := &http.Server{Addr: addr}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	return srv.ListenAndServe()
}
