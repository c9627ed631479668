package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Platform is one external data source with its own collector process.
type Platform uint8

const (
	Reddit Platform = iota + 1
	Twitter
	YouTube
)

// Platforms lists every supported platform in canonical order.
var Platforms = []Platform{Reddit, Twitter, YouTube}

func (p Platform) String() string {
	switch p {
	case Reddit:
		return "reddit"
	case Twitter:
		return "twitter"
	case YouTube:
		return "youtube"
	default:
		return "platform(" + strconv.Itoa(int(p)) + ")"
	}
}

// Valid reports whether p is one of the supported platforms.
func (p Platform) Valid() bool {
	return p >= Reddit && p <= YouTube
}

func ParsePlatform(s string) (Platform, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "reddit":
		return Reddit, nil
	case "twitter":
		return Twitter, nil
	case "youtube":
		return YouTube, nil
	}
	return 0, fmt.Errorf("%w: unknown platform %q", ErrInvalidRequest, s)
}

func (p Platform) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("cannot marshal %s", p)
	}
	return []byte(p.String()), nil
}

func (p *Platform) UnmarshalText(b []byte) error {
	parsed, err := ParsePlatform(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
