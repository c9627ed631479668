package model

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
)

const (
	StoreJSON   = "json"
	StoreSQLite = "sqlite"

	DefaultListen      = "127.0.0.1:7311"
	DefaultTimeout     = "30m"
	DefaultDebounce    = "2s"
	DefaultResumeDelay = "5s"
	DefaultRescan      = "5m"

	ResultExt = ".json"
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}
	if err := compiled.Validate(); err != nil {
		panic(err)
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
}

type Config struct {
	Version     int        `json:"version" yaml:"version"` // fixed 0 for now
	Verbose     bool       `json:"verbose,omitempty" yaml:"verbose,omitempty"`
	DataDir     string     `json:"data_dir,omitempty" yaml:"data_dir,omitempty"` // empty => user config dir
	Listen      string     `json:"listen,omitempty" yaml:"listen,omitempty"`
	Store       Store      `json:"store" yaml:"store"`
	Collectors  Collectors `json:"collectors" yaml:"collectors"`
	Timeout     string     `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Debounce    string     `json:"debounce,omitempty" yaml:"debounce,omitempty"`
	ResumeDelay string     `json:"resume_delay,omitempty" yaml:"resume_delay,omitempty"`
	Rescan      Rescan     `json:"rescan" yaml:"rescan"`
}

// Store selects the Job Store backend.
type Store struct {
	Type string `json:"type" yaml:"type"`                     // "json" | "sqlite"
	Path string `json:"path,omitempty" yaml:"path,omitempty"` // empty => under data_dir
}

type Collectors struct {
	Reddit  *Collector `json:"reddit,omitempty" yaml:"reddit,omitempty"`
	Twitter *Collector `json:"twitter,omitempty" yaml:"twitter,omitempty"`
	YouTube *Collector `json:"youtube,omitempty" yaml:"youtube,omitempty"`
}

func (c Collectors) For(p Platform) *Collector {
	switch p {
	case Reddit:
		return c.Reddit
	case Twitter:
		return c.Twitter
	case YouTube:
		return c.YouTube
	}
	return nil
}

// Collector describes how to invoke the external program of one platform.
// Args may contain the {subject}, {start} and {end} placeholders.
type Collector struct {
	Path    string            `json:"path" yaml:"path"`
	Script  string            `json:"script,omitempty" yaml:"script,omitempty"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	EnvFile string            `json:"env_file,omitempty" yaml:"env_file,omitempty"`
	Dir     string            `json:"dir,omitempty" yaml:"dir,omitempty"`
}

// Rescan schedules a periodic scan of the results directory, either cron or
// duration based.
type Rescan struct {
	Cron     string `json:"cron,omitempty" yaml:"cron,omitempty"`
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"`
}

// Durations holds the parsed duration settings of a Config.
type Durations struct {
	Timeout     time.Duration
	Debounce    time.Duration
	ResumeDelay time.Duration
}

func (c Config) Durations() (Durations, error) {
	var d Durations
	for _, f := range []struct {
		name  string
		value string
		dflt  string
		dst   *time.Duration
	}{
		{"timeout", c.Timeout, DefaultTimeout, &d.Timeout},
		{"debounce", c.Debounce, DefaultDebounce, &d.Debounce},
		{"resume_delay", c.ResumeDelay, DefaultResumeDelay, &d.ResumeDelay},
	} {
		v := f.value
		if v == "" {
			v = f.dflt
		}
		parsed, err := ParseCueDuration(v)
		if err != nil {
			return Durations{}, fmt.Errorf("parsing %s: %w", f.name, err)
		}
		*f.dst = parsed
	}
	return d, nil
}

// Paths resolves the on-disk layout below the data directory.
type Paths struct {
	Data    string
	Results string
	Logs    string
	Store   string
}

func (c Config) Paths() (Paths, error) {
	data := c.DataDir
	if data == "" {
		d, err := os.UserConfigDir()
		if err != nil {
			return Paths{}, fmt.Errorf("getting user config dir: %w", err)
		}
		data = filepath.Join(d, "jester")
	}
	store := c.Store.Path
	if store == "" {
		if c.Store.Type == StoreSQLite {
			store = filepath.Join(data, "jester.db")
		} else {
			store = filepath.Join(data, "store")
		}
	}
	return Paths{
		Data:    data,
		Results: filepath.Join(data, "reports"),
		Logs:    filepath.Join(data, "logs"),
		Store:   store,
	}, nil
}

func DefaultConfig(_ context.Context) Config {
	collector := func(script, flag string) *Collector {
		return &Collector{
			Path:    "python3",
			Script:  filepath.Join("scrape", script),
			Args:    []string{"--" + flag + "={subject}", "--start={start}", "--end={end}"},
			EnvFile: filepath.Join("scrape", ".env"),
		}
	}
	return Config{
		Version: 0,
		Listen:  DefaultListen,
		Store:   Store{Type: StoreJSON},
		Collectors: Collectors{
			Reddit:  collector("reddit.py", "reddit"),
			Twitter: collector("twitter.py", "hashtag"),
			YouTube: collector("youtube.py", "search"),
		},
		Timeout:     DefaultTimeout,
		Debounce:    DefaultDebounce,
		ResumeDelay: DefaultResumeDelay,
		Rescan:      Rescan{Duration: DefaultRescan},
	}
}

// LoadConfig validates YAML from r against CUE schema and decodes to Config.
func LoadConfig(r io.Reader) (Config, error) {
	yamlFile, err := yaml.Extract("jester.yaml", r)
	if err != nil {
		return Config{}, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),
		cue.Concrete(true),
	); err != nil {
		return Config{}, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return Config{}, err
	}
	if out.Store.Type == "" {
		out.Store.Type = StoreJSON
	}
	if out.Listen == "" {
		out.Listen = DefaultListen
	}
	return out, nil
}

// LogCueErrors logs every schema violation found in err.
func LogCueErrors(ctx context.Context, err error) {
	for _, d := range CueErrDetails(err) {
		slog.ErrorContext(ctx, "invalid configuration", d.Attr("detail"))
	}
}
