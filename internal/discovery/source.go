package discovery

/*
domaingate — discovery gating and domain vetting in Go
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/x-stp/domaingate/internal/trigger"
)

// Request is what a cycle hands the discovery mechanism: the signals that
// opened the gate, so the search can aim at them.
type Request struct {
	CycleID          string
	Triggers         trigger.Triggers
	IndexGaps        []string
	TrendingKeywords []string
}

// Source produces candidate domains for one cycle.
type Source interface {
	Discover(ctx context.Context, req Request) ([]string, error)
}

// FileSource reads candidates from a text file, one per line. Blank lines and
// lines starting with '#' are skipped; anything after whitespace on a line is
// ignored. The file is re-read on every call so it can be replaced between
// cycles.
type FileSource struct {
	Path string
}

// NewFileSource returns a FileSource for path.
func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

// Discover implements Source.
func (f *FileSource) Discover(ctx context.Context, _ Request) ([]string, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("open candidate file: %w", err)
	}
	defer file.Close()
	return ReadCandidates(ctx, file)
}

// ReadCandidates parses the candidate file format from r and returns the
// normalised, de-duplicated domains.
func ReadCandidates(ctx context.Context, r io.Reader) ([]string, error) {
	var raw []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if fields := strings.Fields(line); len(fields) > 0 {
			raw = append(raw, fields[0])
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read candidates: %w", err)
	}
	return Dedupe(raw), nil
}
