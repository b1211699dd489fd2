// Package manifest reads declaration files listing the wanted items.
//
//	startup_delay = "3s"
//
//	[[files]]
//	sha256 = "1111..."
//	duration = "3s"
package manifest

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/afero"
	"github.com/warpdl/warpmaster/common"
	"github.com/warpdl/warpmaster/internal/config"
	"github.com/warpdl/warpmaster/internal/master"
)

// ErrInvalidEntry is returned for a "sha:duration" flag value that does not
// parse.
var ErrInvalidEntry = errors.New("invalid file entry")

// File is the on-disk declaration.
type File struct {
	StartupDelay config.Duration `toml:"startup_delay"`
	Files        []Entry         `toml:"files"`
}

// Entry is one declared item.
type Entry struct {
	SHA256   string          `toml:"sha256"`
	Duration config.Duration `toml:"duration"`
}

// Input converts the file to coordinator input.
func (f *File) Input() master.Input {
	in := master.Input{StartupDelay: f.StartupDelay.Duration, Files: make([]common.Item, 0, len(f.Files))}
	for _, e := range f.Files {
		in.Files = append(in.Files, common.Item{SHA256: e.SHA256, Duration: e.Duration.Duration})
	}
	return in
}

// Parse decodes a manifest and validates its declaration.
func Parse(data []byte) (*File, error) {
	var f File
	md, err := toml.Decode(string(data), &f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("failed to parse manifest: unknown key %q", undecoded[0].String())
	}
	if _, err := master.NewDesiredSet(f.Input().Files); err != nil {
		return nil, err
	}
	return &f, nil
}

// Load reads and parses the manifest at path.
func Load(fs afero.Fs, path string) (*File, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return Parse(data)
}

// LoadInput reads the manifest at path and returns coordinator input.
func LoadInput(fs afero.Fs, path string) (master.Input, error) {
	f, err := Load(fs, path)
	if err != nil {
		return master.Input{}, err
	}
	return f.Input(), nil
}

// Save writes in as a manifest.
func Save(fs afero.Fs, path string, in master.Input) error {
	f := File{StartupDelay: config.Duration{Duration: in.StartupDelay}}
	for _, it := range in.Files {
		f.Files = append(f.Files, Entry{SHA256: it.SHA256, Duration: config.Duration{Duration: it.Duration}})
	}
	var b strings.Builder
	if err := toml.NewEncoder(&b).Encode(f); err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := afero.WriteFile(fs, path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// ParseEntry parses a "sha256:duration" flag value such as "abc:5s".
func ParseEntry(s string) (common.Item, error) {
	i := strings.LastIndex(s, ":")
	if i <= 0 || i == len(s)-1 {
		return common.Item{}, fmt.Errorf("%w %q: expected sha256:duration", ErrInvalidEntry, s)
	}
	d, err := time.ParseDuration(s[i+1:])
	if err != nil {
		return common.Item{}, fmt.Errorf("%w %q: %v", ErrInvalidEntry, s, err)
	}
	if d < 0 {
		return common.Item{}, fmt.Errorf("%w %q: negative duration", ErrInvalidEntry, s)
	}
	return common.Item{SHA256: s[:i], Duration: d}, nil
}

// Params converts in to master.start parameters.
func Params(in master.Input) common.StartParams {
	p := common.StartParams{Files: make([]common.FileParam, 0, len(in.Files))}
	if in.StartupDelay > 0 {
		p.StartupDelay = in.StartupDelay.String()
	}
	for _, it := range in.Files {
		p.Files = append(p.Files, common.FileParam{SHA256: it.SHA256, Duration: it.Duration.String()})
	}
	return p
}

// FromParams converts master.start parameters to coordinator input. Empty
// durations are zero.
func FromParams(p common.StartParams) (master.Input, error) {
	var in master.Input
	var err error
	if in.StartupDelay, err = parseDuration(p.StartupDelay); err != nil {
		return master.Input{}, fmt.Errorf("startupDelay: %w", err)
	}
	in.Files = make([]common.Item, 0, len(p.Files))
	for _, f := range p.Files {
		d, err := parseDuration(f.Duration)
		if err != nil {
			return master.Input{}, fmt.Errorf("%w %q: %v", ErrInvalidEntry, f.SHA256, err)
		}
		in.Files = append(in.Files, common.Item{SHA256: f.SHA256, Duration: d})
	}
	if _, err := master.NewDesiredSet(in.Files); err != nil {
		return master.Input{}, err
	}
	return in, nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", s)
	}
	return d, nil
}
