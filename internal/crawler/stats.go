package crawler

// RunStatistics are the per-run counters reported in the summary.
type RunStatistics struct {
	Discovered int `json:"discovered"`
	Success    int `json:"success"`
	Failed     int `json:"failed"`
	NoContent  int `json:"no_content"`
	Errors     int `json:"errors"`
	Skipped    int `json:"skipped"`
}

// Record folds one outcome into the counters. Unknown statuses count as skipped.
func (s *RunStatistics) Record(status Status) {
	switch status {
	case StatusSuccess:
		s.Success++
	case StatusFailed:
		s.Failed++
	case StatusNoContent:
		s.NoContent++
	case StatusError:
		s.Errors++
	default:
		s.Skipped++
	}
}

// Processed is the number of outcomes folded so far.
func (s RunStatistics) Processed() int {
	return s.Success + s.Failed + s.NoContent + s.Errors + s.Skipped
}
