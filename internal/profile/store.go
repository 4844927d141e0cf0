package profile

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/errors"
)

// profiles.txt holds one profile per line:
//
//	name,<threshold0>,<threshold1>,...
//
// with -1 marking an unset slot. Any negative value loads as unset and
// is written back as -1.

// LoadFile reads profiles from path. A missing or unreadable file yields
// the Guest profile.
func LoadFile(path string, size int, lc logger.LoggingClient) *Set {
	f, err := os.Open(path)
	if err != nil {
		lc.Infof("Profiles file %s could not be loaded: %v", path, err)
		return NewSet(size, lc)
	}
	defer f.Close()
	return Load(f, size, lc)
}

// Load parses profiles for size sensors. Lines that cannot be parsed are
// skipped with a warning; the result always has an active profile.
func Load(r io.Reader, size int, lc logger.LoggingClient) *Set {
	s := &Set{lc: lc, size: size, profiles: make(map[string]*Profile)}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		name, thresholds, err := parseLine(scanner.Text())
		if err != nil {
			lc.Warnf("Skipping profiles line %d: %v", lineNum, err)
			continue
		}
		if name == "" {
			continue
		}
		s.add(name, thresholds)
	}
	if err := scanner.Err(); err != nil {
		lc.Warnf("Reading profiles stopped early: %v", err)
	}

	s.ensureActive()
	return s
}

func parseLine(line string) (string, []Threshold, error) {
	parts := strings.Split(line, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	name := parts[0]
	if name == "" {
		return "", nil, nil
	}

	fields := parts[1:]
	if len(fields) == 1 && fields[0] == "" {
		fields = nil
	}
	thresholds := make([]Threshold, len(fields))
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return "", nil, fmt.Errorf("profile %s threshold %d: %w", name, i, err)
		}
		thresholds[i] = Value(n)
	}
	return name, thresholds, nil
}

// Save writes every profile, sorted by name, to w.
func (s *Set) Save(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, name := range s.Names() {
		p := s.profiles[name]
		raw := make([]string, len(p.Thresholds))
		for i, t := range p.Thresholds {
			raw[i] = t.String()
		}
		if _, err := fmt.Fprintf(bw, "%s,%s\n", name, strings.Join(raw, ",")); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Persist replaces the file at path with the current profiles. The new
// content is written to a temporary file in the same directory and
// renamed over the old one.
func (s *Set) Persist(path string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".profiles-*")
	if err != nil {
		return errors.NewCommonEdgeX(errors.KindIOError, "create temporary profiles file", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		return errors.NewCommonEdgeX(errors.KindIOError, "chmod profiles", err)
	}
	if err := s.Save(tmp); err != nil {
		tmp.Close()
		return errors.NewCommonEdgeX(errors.KindIOError, "write profiles", err)
	}
	if err := tmp.Close(); err != nil {
		return errors.NewCommonEdgeX(errors.KindIOError, "close profiles", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.NewCommonEdgeX(errors.KindIOError, fmt.Sprintf("replace %s", path), err)
	}
	s.lc.Info("Saved profiles.")
	return nil
}
