package model

import (
	"maps"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition is expected.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// DaySeconds is the length of one result row.
const DaySeconds int64 = 86400

// TimeRange is an inclusive-exclusive window of Unix seconds.
type TimeRange struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Days returns one timestamp per day boundary counted from Start, all
// strictly lower than End.
func (r TimeRange) Days() []int64 {
	if r.End <= r.Start {
		return nil
	}
	days := make([]int64, 0, (r.End-r.Start+DaySeconds-1)/DaySeconds)
	for ts := r.Start; ts < r.End; ts += DaySeconds {
		days = append(days, ts)
	}
	return days
}

// Report is one data-collection job for a subject over a time window.
type Report struct {
	ID             string              `json:"id"`
	SubjectID      string              `json:"subjectId"`
	SubjectName    string              `json:"subjectName"`
	ReportName     string              `json:"reportName"`
	TimeRange      TimeRange           `json:"timeRange"`
	Platforms      map[Platform]bool   `json:"platforms"`
	Status         Status              `json:"status"`
	PlatformStatus map[Platform]Status `json:"platformStatus"`
	PlatformErrors map[Platform]string `json:"platformErrors,omitempty"`
	ResultFilePath string              `json:"resultFilePath"`
	CreatedAt      time.Time           `json:"createdAt"`
	UpdatedAt      time.Time           `json:"updatedAt"`
	CompletionTime *time.Time          `json:"completionTime"`
	Error          string              `json:"error,omitempty"`
}

// Enabled returns the requested platforms in canonical order.
func (r Report) Enabled() []Platform {
	ret := make([]Platform, 0, len(r.Platforms))
	for _, p := range Platforms {
		if r.Platforms[p] {
			ret = append(ret, p)
		}
	}
	return ret
}

// Clone returns a deep copy, so callers never share maps with the owner.
func (r Report) Clone() Report {
	r.Platforms = maps.Clone(r.Platforms)
	r.PlatformStatus = maps.Clone(r.PlatformStatus)
	r.PlatformErrors = maps.Clone(r.PlatformErrors)
	if r.CompletionTime != nil {
		t := *r.CompletionTime
		r.CompletionTime = &t
	}
	return r
}

// DeriveStatus computes the overall status from the per-platform vector of
// the enabled platforms. When every platform is still pending the current
// value (pending or running) is kept.
func DeriveStatus(current Status, enabled []Platform, platformStatus map[Platform]Status) Status {
	if len(enabled) == 0 {
		return current
	}
	var completed, failed, started int
	for _, p := range enabled {
		switch platformStatus[p] {
		case StatusCompleted:
			completed++
			started++
		case StatusFailed:
			failed++
		case StatusRunning:
			started++
		}
	}
	switch {
	case completed == len(enabled):
		return StatusCompleted
	case failed > 0:
		return StatusFailed
	case started > 0:
		return StatusRunning
	case current == StatusRunning:
		return StatusRunning
	default:
		return StatusPending
	}
}
