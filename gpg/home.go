package gpg

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/x/fileutil"
	"github.com/effective-security/xlog"
)

// TemporaryHome is the configuration value that selects an ephemeral home
const TemporaryHome = "temporary"

// HomeDir selects the keyring location used by engine invocations.
// It is either Ephemeral or Persistent.
type HomeDir interface {
	String() string
	resolve(workDir string) (*Home, error)
}

// Ephemeral is a home directory created under Parent for the duration of a
// pipeline run and removed with all its content when the run ends.
// When Parent is empty, the work directory is used.
type Ephemeral struct {
	Parent string
}

// Persistent is a home directory at Path. It is created if missing and never
// removed.
//
// Runs that share one Persistent path are not serialized: interleaving of
// keyring updates is undefined and coordinating access is up to the caller.
type Persistent struct {
	Path string
}

// ParseHomeDir converts the configuration form of a home directory.
// Empty value or "temporary" selects Ephemeral, anything else is a
// Persistent path.
func ParseHomeDir(s string) HomeDir {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, TemporaryHome) {
		return Ephemeral{}
	}
	return Persistent{Path: s}
}

func (e Ephemeral) String() string {
	if e.Parent == "" {
		return TemporaryHome
	}
	return TemporaryHome + ":" + e.Parent
}

func (p Persistent) String() string {
	return p.Path
}

func (e Ephemeral) resolve(workDir string) (*Home, error) {
	parent := e.Parent
	if parent == "" {
		parent = workDir
	}
	if parent == "" {
		return nil, InvalidConfigurationf("ephemeral home requires a parent or work directory")
	}
	dir, err := os.MkdirTemp(parent, "home")
	if err != nil {
		return nil, directoryUnavailable(err, parent)
	}
	logger.KV(xlog.DEBUG, "home", dir, "ephemeral", true)
	return &Home{path: dir, ephemeral: true}, nil
}

func (p Persistent) resolve(_ string) (*Home, error) {
	if p.Path == "" {
		return nil, InvalidConfigurationf("persistent home requires a path")
	}
	if err := fileutil.EnsureFolderExists(p.Path, 0o700); err != nil {
		return nil, directoryUnavailable(err, p.Path)
	}
	logger.KV(xlog.DEBUG, "home", p.Path, "ephemeral", false)
	return &Home{path: p.Path}, nil
}

// Home is a resolved home directory. It exists on disk until Release is
// called.
type Home struct {
	path      string
	ephemeral bool
	released  bool
}

// ResolveHome produces a usable home directory for dir.
// workDir is the parent of an Ephemeral home without explicit Parent.
func ResolveHome(dir HomeDir, workDir string) (*Home, error) {
	if dir == nil {
		dir = Ephemeral{}
	}
	return dir.resolve(workDir)
}

// Path returns the location of the home directory
func (h *Home) Path() string {
	return h.path
}

// Ephemeral returns true if the directory is removed on Release
func (h *Home) Ephemeral() bool {
	return h.ephemeral
}

// Release removes an ephemeral home directory and its content.
// It is a no-op for a persistent home, and safe to call more than once.
func (h *Home) Release() error {
	if h == nil || !h.ephemeral || h.released {
		return nil
	}
	h.released = true
	if err := os.RemoveAll(h.path); err != nil {
		logger.KV(xlog.WARNING, "reason", "remove_home", "home", h.path, "err", err.Error())
		return errors.WithMessagef(err, "unable to remove home: %q", h.path)
	}
	logger.KV(xlog.DEBUG, "status", "removed_home", "home", h.path)
	return nil
}

// EnsureDirectory creates the folder and its ancestors if they are missing.
func EnsureDirectory(path string) error {
	if path == "" {
		return InvalidConfigurationf("directory path is empty")
	}
	if err := fileutil.EnsureFolderExists(path, 0o755); err != nil {
		return directoryUnavailable(err, path)
	}
	return nil
}

// EnsureParentDirectory creates the parent folder of file if it is missing.
func EnsureParentDirectory(file string) error {
	if file == "" {
		return InvalidConfigurationf("file path is empty")
	}
	return EnsureDirectory(filepath.Dir(file))
}
