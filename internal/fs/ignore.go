package fs

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// IgnoreFileName is the per-directory file listing extra ignore patterns.
const IgnoreFileName = ".hrbignore"

// builtinIgnores are applied in every directory.
var builtinIgnores = []string{IgnoreFileName, tempPrefix + "*", ".DS_Store", "Thumbs.db"}

type ignoreRule struct {
	glob   string
	negate bool
}

// IgnoreMatcher decides which file names a scan skips. Rules are shell globs
// matched against the base name and applied in order; a rule starting with
// '!' re-includes names matched by earlier rules.
type IgnoreMatcher struct {
	rules []ignoreRule
}

// NewIgnoreMatcher parses raw patterns. Blank lines and lines starting with
// '#' are skipped, as are patterns filepath.Match rejects.
func NewIgnoreMatcher(patterns []string) *IgnoreMatcher {
	m := &IgnoreMatcher{}
	for _, raw := range patterns {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		rule := ignoreRule{glob: raw}
		if strings.HasPrefix(raw, "!") {
			rule = ignoreRule{glob: raw[1:], negate: true}
		}
		if _, err := filepath.Match(rule.glob, ""); err != nil {
			continue
		}
		m.rules = append(m.rules, rule)
	}
	return m
}

// Match reports whether name should be ignored.
func (m *IgnoreMatcher) Match(name string) bool {
	base := filepath.Base(name)
	ignored := false
	for _, r := range m.rules {
		if ok, _ := filepath.Match(r.glob, base); ok {
			ignored = !r.negate
		}
	}
	return ignored
}

// readIgnoreFile returns the lines of dir's ignore file, or nil when there
// is none.
func readIgnoreFile(afs afero.Fs, dir string) ([]string, error) {
	f, err := afs.Open(filepath.Join(dir, IgnoreFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening ignore file: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}
	return lines, nil
}
