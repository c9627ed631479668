package orchestrator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sentimentjester/jester/internal/model"
)

// dateLayouts are tried in order for non numeric dates.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// Date is a window bound given either as Unix seconds or as a date string.
// Date strings resolve to midnight UTC of that day.
type Date int64

func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty date", model.ErrInvalidRequest)
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Date(n), nil
	}
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		t = t.UTC()
		return Date(time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).Unix()), nil
	}
	return 0, fmt.Errorf("%w: cannot parse date %q", model.ErrInvalidRequest, s)
}

func (d *Date) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		parsed, err := ParseDate(s)
		if err != nil {
			return err
		}
		*d = parsed
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("%w: date must be a number or a string", model.ErrInvalidRequest)
	}
	i, err := n.Int64()
	if err != nil {
		f, ferr := n.Float64()
		if ferr != nil {
			return fmt.Errorf("%w: date %s: %w", model.ErrInvalidRequest, n, err)
		}
		i = int64(f)
	}
	*d = Date(i)
	return nil
}
