// Package wtdb implements the home-directory and build-file promotion
// discipline: every on-disk artifact is written under a PID-suffixed
// build name and only renamed to its final name once its writer closes
// cleanly, so a crash leaves only build-suffixed files that a
// subsequent open treats as absent.
package wtdb

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jeromekelleher/wormtable/internal/werr"
)

// EnsureHomeDir makes sure dir exists and is a directory, creating it
// (and any missing parents) if absent.
func EnsureHomeDir(dir string) error {
	info, err := os.Stat(dir)
	if err == nil {
		if !info.IsDir() {
			return werr.Newf(werr.InvalidArgument, "wtdb: %s exists and is not a directory", dir)
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return werr.Wrapf(werr.IOError, err, "wtdb: stat %s", dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return werr.Wrapf(werr.IOError, err, "wtdb: create %s", dir)
	}
	return nil
}

// BuildPath returns the in-flight, PID-suffixed path for finalName
// within dir, e.g. _build_4213_table.db.
func BuildPath(dir, finalName string) string {
	return filepath.Join(dir, fmt.Sprintf("_build_%d_%s", os.Getpid(), finalName))
}

// FinalPath returns the sealed path for finalName within dir.
func FinalPath(dir, finalName string) string {
	return filepath.Join(dir, finalName)
}

// Exists reports whether the sealed (non-build) artifact finalName is
// present in dir; in-flight build files are never treated as present.
func Exists(dir, finalName string) bool {
	_, err := os.Stat(FinalPath(dir, finalName))
	return err == nil
}

// Promote renames a build-named file to its sealed final name. It is
// the last step of a successful close and must run after every byte
// of the build file has been flushed and synced.
func Promote(dir, finalName string) error {
	build := BuildPath(dir, finalName)
	final := FinalPath(dir, finalName)
	if err := os.Rename(build, final); err != nil {
		return werr.Wrapf(werr.IOError, err, "wtdb: promote %s", finalName)
	}
	return nil
}

// PromoteAll promotes a set of build files together; it stops and
// returns the first error, leaving already-promoted files promoted
// (promotion is only ever run after every file has synced cleanly, so
// a partial PromoteAll still leaves a self-consistent sealed prefix).
func PromoteAll(dir string, finalNames ...string) error {
	for _, name := range finalNames {
		if err := Promote(dir, name); err != nil {
			return err
		}
	}
	return nil
}

// ParseCacheSize parses a cache size expressed with an optional K, M,
// or G suffix (case-insensitive, e.g. "64M", "512K", "2G") or a bare
// byte count, returning the size in bytes.
func ParseCacheSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, werr.New(werr.InvalidArgument, "wtdb: empty cache size")
	}
	mult := int64(1)
	suffix := s[len(s)-1]
	switch suffix {
	case 'k', 'K':
		mult = 1 << 10
		s = s[:len(s)-1]
	case 'm', 'M':
		mult = 1 << 20
		s = s[:len(s)-1]
	case 'g', 'G':
		mult = 1 << 30
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, werr.Wrapf(werr.InvalidArgument, err, "wtdb: invalid cache size %q", s)
	}
	if n < 0 {
		return 0, werr.Newf(werr.InvalidArgument, "wtdb: cache size must be non-negative, got %d", n)
	}
	return n * mult, nil
}
