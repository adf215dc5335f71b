package scheduler

import "time"

// Stats accumulates per-tool call accounting. The mean duration is a
// cumulative average over total calls.
type Stats struct {
	TotalCalls   int64         `json:"total_calls"`
	Successful   int64         `json:"successful"`
	Failed       int64         `json:"failed"`
	MeanDuration time.Duration `json:"mean_duration"`
}

// record updates statistics for one finished call.
func (s *Scheduler) record(name string, duration time.Duration, success bool) {
	s.mu.Lock()
	st, ok := s.stats[name]
	if !ok {
		st = &Stats{}
		s.stats[name] = st
	}
	st.TotalCalls++
	if success {
		st.Successful++
	} else {
		st.Failed++
	}
	st.MeanDuration += (duration - st.MeanDuration) / time.Duration(st.TotalCalls)
	s.mu.Unlock()

	if s.metrics != nil && duration > 0 {
		s.metrics.ToolDuration.WithLabelValues(name).Observe(duration.Seconds())
	}
}

// recordLookup counts an unknown-tool call without touching the
// success and failure tallies.
func (s *Scheduler) recordLookup(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stats[name]
	if !ok {
		st = &Stats{}
		s.stats[name] = st
	}
	st.TotalCalls++
}

// Stats returns a copy of the statistics for one tool.
func (s *Scheduler) Stats(name string) (Stats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stats[name]
	if !ok {
		return Stats{}, false
	}
	return *st, true
}

// AllStats returns a snapshot of every tool's statistics.
func (s *Scheduler) AllStats() map[string]Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Stats, len(s.stats))
	for name, st := range s.stats {
		out[name] = *st
	}
	return out
}
