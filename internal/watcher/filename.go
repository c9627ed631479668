package watcher

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sentimentjester/jester/internal/model"
)

const resultExt = ".json"

var ErrFileName = errors.New("not a result file name")

// FileInfo is what a result file name says about its content:
// {hint}_{start}_{end}.json where the hint is optional and may itself
// contain underscores.
type FileInfo struct {
	Hint    string
	HasHint bool
	Window  model.TimeRange
}

func ParseFileName(name string) (FileInfo, error) {
	stem, ok := strings.CutSuffix(name, resultExt)
	if !ok {
		return FileInfo{}, fmt.Errorf("%w: %q: extension", ErrFileName, name)
	}
	parts := strings.Split(stem, "_")
	if len(parts) < 2 {
		return FileInfo{}, fmt.Errorf("%w: %q: expected {start}_{end}", ErrFileName, name)
	}
	n := len(parts)
	start, err := strconv.ParseInt(parts[n-2], 10, 64)
	if err != nil {
		return FileInfo{}, fmt.Errorf("%w: %q: start: %w", ErrFileName, name, err)
	}
	end, err := strconv.ParseInt(parts[n-1], 10, 64)
	if err != nil {
		return FileInfo{}, fmt.Errorf("%w: %q: end: %w", ErrFileName, name, err)
	}
	info := FileInfo{Window: model.TimeRange{Start: start, End: end}}
	if n > 2 {
		info.Hint = strings.Join(parts[:n-2], "_")
		info.HasHint = true
	}
	return info, nil
}

// Matches reports whether a file described by info belongs to r. The
// window must be equal, the subject name and the hint are compared after
// normalization as substrings in either direction.
func (info FileInfo) Matches(r model.Report) bool {
	if r.TimeRange != info.Window {
		return false
	}
	if !info.HasHint {
		return true
	}
	hint, name := normalize(info.Hint), normalize(r.SubjectName)
	return strings.Contains(hint, name) || strings.Contains(name, hint)
}

func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isResultFile(name string) bool {
	return strings.HasSuffix(name, resultExt) && !strings.HasPrefix(name, ".")
}
