package model

import (
	"bytes"
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// DataPoint is one day of the merged result. A nil score means the
// platform has not delivered a value for that day.
type DataPoint struct {
	Timestamp int64    `json:"timestamp"`
	Reddit    *float64 `json:"reddit"`
	Twitter   *float64 `json:"twitter"`
	YouTube   *float64 `json:"youtube"`
}

func (d DataPoint) Score(p Platform) *float64 {
	switch p {
	case Reddit:
		return d.Reddit
	case Twitter:
		return d.Twitter
	case YouTube:
		return d.YouTube
	}
	return nil
}

func (d *DataPoint) SetScore(p Platform, v *float64) {
	if v != nil {
		f := *v
		v = &f
	}
	switch p {
	case Reddit:
		d.Reddit = v
	case Twitter:
		d.Twitter = v
	case YouTube:
		d.YouTube = v
	}
}

var ErrNotSequence = errors.New("result is not a sequence of data points")

// EmptySeries returns the all-null sequence spanning r.
func EmptySeries(r TimeRange) []DataPoint {
	days := r.Days()
	ret := make([]DataPoint, len(days))
	for i, ts := range days {
		ret[i] = DataPoint{Timestamp: ts}
	}
	return ret
}

// DecodeSeries parses a result file payload.
func DecodeSeries(raw []byte) ([]DataPoint, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, ErrNotSequence
	}
	var series []DataPoint
	if err := json.Unmarshal(trimmed, &series); err != nil {
		return nil, fmt.Errorf("decoding data points: %w", err)
	}
	if series == nil {
		series = []DataPoint{}
	}
	return series, nil
}

func EncodeSeries(series []DataPoint) ([]byte, error) {
	if series == nil {
		series = []DataPoint{}
	}
	return json.MarshalIndent(series, "", "  ")
}

// HasScores reports whether at least one day carries a value for p.
func HasScores(series []DataPoint, p Platform) bool {
	for _, d := range series {
		if d.Score(p) != nil {
			return true
		}
	}
	return false
}

// Overlay copies every non-null score of incoming onto the row of base with
// the same timestamp. Rows of incoming without a counterpart in base are
// kept and the result is ordered by timestamp. base is not modified.
func Overlay(base, incoming []DataPoint) []DataPoint {
	ret := make([]DataPoint, len(base), len(base)+len(incoming))
	copy(ret, base)
	idx := make(map[int64]int, len(ret))
	for i, d := range ret {
		idx[d.Timestamp] = i
	}
	extra := false
	for _, in := range incoming {
		i, ok := idx[in.Timestamp]
		if !ok {
			i = len(ret)
			idx[in.Timestamp] = i
			ret = append(ret, DataPoint{Timestamp: in.Timestamp})
			extra = true
		}
		for _, p := range Platforms {
			if v := in.Score(p); v != nil {
				ret[i].SetScore(p, v)
			}
		}
	}
	if extra {
		slices.SortStableFunc(ret, func(a, b DataPoint) int {
			return cmp.Compare(a.Timestamp, b.Timestamp)
		})
	}
	return ret
}

// EqualSeries compares two sequences row by row.
func EqualSeries(a, b []DataPoint) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Timestamp != b[i].Timestamp {
			return false
		}
		for _, p := range Platforms {
			x, y := a[i].Score(p), b[i].Score(p)
			if (x == nil) != (y == nil) || (x != nil && *x != *y) {
				return false
			}
		}
	}
	return true
}

// PlatformPoint is one day of output of a single platform, as pushed by a
// collector that does not write its own result file.
type PlatformPoint struct {
	Timestamp int64    `json:"timestamp"`
	Score     *float64 `json:"score"`
}
