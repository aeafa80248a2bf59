// Package config reads and writes canopy's layered settings.
//
// Settings live in two JSONC files with the same schema:
//
//	<repo-root>/.canopy/config.json   project scope
//	<home>/.canopy/config.json        global scope
//
// The project file overrides the global file, and absence of both yields
// model.DefaultLayout. Files may contain // and /* */ comments, which are
// stripped with github.com/tidwall/jsonc before strict decoding with
// encoding/json. Unknown keys are rejected so that a typo such as "layuot"
// is reported instead of silently ignored.
//
// A file that does not parse, or whose layout value is not recognized, reads
// as absent: resolution must never fail because of a broken settings file.
// The problem is logged at warn level so the user can fix it.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/shinji-kodama/canopy/internal/logging"
	"github.com/shinji-kodama/canopy/internal/model"
)

const (
	// DirName is the directory holding canopy's files in both the repository
	// root and the home directory.
	DirName = ".canopy"

	// FileName is the settings file name inside DirName.
	FileName = "config.json"

	// HomeEnv overrides the home directory used for global files.
	HomeEnv = "CANOPY_HOME"
)

// Scope identifies which settings file a value came from or goes to.
type Scope string

const (
	ScopeProject Scope = "project"
	ScopeGlobal  Scope = "global"

	// ScopeDefault is reported by Get when neither file defines a layout.
	ScopeDefault Scope = "default"
)

// File is the on-disk schema. Every field is optional.
type File struct {
	Layout string `json:"layout,omitempty"`
}

// ErrMalformed is returned by Read for a file that exists but does not parse
// or carries an unrecognized layout value.
var ErrMalformed = errors.New("malformed config file")

// Store resolves settings for one repository.
type Store struct {
	ProjectPath string
	GlobalPath  string

	log *logging.Logger
}

// NewStore creates a Store for the given repository root and home directory.
func NewStore(repoRoot, home string, log *logging.Logger) *Store {
	return &Store{
		ProjectPath: filepath.Join(repoRoot, DirName, FileName),
		GlobalPath:  filepath.Join(home, DirName, FileName),
		log:         log.Named("config"),
	}
}

// Home returns $CANOPY_HOME when set, otherwise the user's home directory.
func Home() (string, error) {
	if h := strings.TrimSpace(os.Getenv(HomeEnv)); h != "" {
		return h, nil
	}
	h, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return h, nil
}

// Path returns the settings file path for scope.
func (s *Store) Path(scope Scope) (string, error) {
	switch scope {
	case ScopeProject:
		return s.ProjectPath, nil
	case ScopeGlobal:
		return s.GlobalPath, nil
	default:
		return "", fmt.Errorf("unknown config scope %q", scope)
	}
}

// Get returns the effective layout and the scope that defined it.
func (s *Store) Get() (model.Layout, Scope) {
	for _, scope := range []Scope{ScopeProject, ScopeGlobal} {
		if l, ok := s.lookup(scope); ok {
			return l, scope
		}
	}
	return model.DefaultLayout, ScopeDefault
}

// lookup returns the layout defined in one scope. Missing and malformed files
// both count as "not defined"; only the latter is logged.
func (s *Store) lookup(scope Scope) (model.Layout, bool) {
	path, _ := s.Path(scope)
	f, err := Read(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.log.Warn("ignoring config file", "scope", scope, "path", path, "error", err)
		}
		return "", false
	}
	if f.Layout == "" {
		return "", false
	}
	l, _ := model.ParseLayout(f.Layout)
	return l, true
}

// Set validates value and stores it as the layout for scope.
//
// An existing file that parses is rewritten with the field replaced; comments
// in it are not preserved. A missing file is created with only the layout field.
// An existing file that does not parse is left untouched and an error is
// returned, since rewriting it would discard whatever the user wrote there.
func (s *Store) Set(scope Scope, value string) (model.Layout, error) {
	l, err := model.ParseLayout(value)
	if err != nil {
		return "", model.WrapCLIError(model.ExitConfigInvalid, "invalid layout value", err).
			WithHint("valid layouts: nested, outer-nested, sibling")
	}

	path, err := s.Path(scope)
	if err != nil {
		return "", model.WrapCLIError(model.ExitConfigInvalid, "invalid config scope", err)
	}

	f, err := Read(path)
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist):
		f = File{}
	default:
		return "", model.WrapCLIError(model.ExitConfigInvalid,
			fmt.Sprintf("refusing to overwrite %s", path), err).
			WithHint("fix or delete %s and retry", path)
	}

	f.Layout = l.String()
	if err := write(path, f); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	s.log.Debug("layout stored", "scope", scope, "path", path, "layout", l)
	return l, nil
}

// Read loads and strictly decodes one settings file. It returns an error
// wrapping fs.ErrNotExist for a missing file and ErrMalformed for a file that
// does not parse or names an unknown layout.
func Read(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, err
	}
	return Parse(data)
}

// Parse decodes settings content. An empty or comment-only document is an
// empty File.
func Parse(data []byte) (File, error) {
	clean := bytes.TrimSpace(jsonc.ToJSON(data))
	if len(clean) == 0 {
		return File{}, nil
	}

	var f File
	dec := json.NewDecoder(bytes.NewReader(clean))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return File{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if dec.More() {
		return File{}, fmt.Errorf("%w: trailing data after object", ErrMalformed)
	}
	if f.Layout != "" {
		if _, err := model.ParseLayout(f.Layout); err != nil {
			return File{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	return f, nil
}

// write replaces path atomically via a temp file in the same directory.
func write(path string, f File) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	payload = append(payload, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(path), FileName+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
