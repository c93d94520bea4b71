// ABOUTME: Report persistence: JSON, CSV and plain-text renderings on disk
// ABOUTME: Locates the newest search report in a directory by modification time

package report

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	filePrefix = "search-report-"

	// TimestampLayout renders yyyyMMdd-HHmmss
	TimestampLayout = "20060102-150405"

	// DefaultDir is the directory reports are written to when none is configured
	DefaultDir = "reports"
)

// ErrNoReport is returned by FindLatest when the directory holds no report
var ErrNoReport = errors.New("report: no search report found")

// Files names the renderings of one report
type Files struct {
	JSON string
	CSV  string
	Text string
}

// Timestamp formats t for use in report file names
func Timestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

// Paths returns the file names for a report generated at ts
func Paths(dir, ts string) Files {
	base := filepath.Join(dir, filePrefix+ts)
	return Files{
		JSON: base + ".json",
		CSV:  base + ".csv",
		Text: base + ".txt",
	}
}

// EnsureDir creates dir if needed and returns its absolute path
func EnsureDir(dir string) (string, error) {
	if dir == "" {
		dir = DefaultDir
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve reports dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return "", fmt.Errorf("failed to create reports dir: %w", err)
	}
	return abs, nil
}

// WriteJSON writes the report as indented JSON
func WriteJSON(w io.Writer, r *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}

// WriteCSV writes one row per entry. Fields render as path:count joined by ';'.
func WriteCSV(w io.Writer, r *Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"id", "slug", "docUrl", "totalOccurrences", "fields", "collection"}); err != nil {
		return err
	}
	for _, e := range r.Entries {
		slug := ""
		if e.Slug != nil {
			slug = *e.Slug
		}
		parts := make([]string, len(e.Fields))
		for i, f := range e.Fields {
			parts[i] = f.Path + ":" + strconv.Itoa(f.Count)
		}
		row := []string{e.ID, slug, e.DocURL, strconv.Itoa(e.TotalOccurrences), strings.Join(parts, ";"), e.Collection}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteText writes a short human-readable summary
func WriteText(w io.Writer, r *Report) error {
	s := r.Summary
	var b strings.Builder
	fmt.Fprintf(&b, "Search: %s\n", s.SearchURL)
	fmt.Fprintf(&b, "Generated: %s\n", s.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Documents with matches: %d/%d\n", s.TotalDocumentsWithMatches, s.TotalDocuments)
	fmt.Fprintf(&b, "Total occurrences: %d\n", s.TotalOccurrences)

	for _, name := range r.CollectionOrder() {
		g, ok := r.Collections[name]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "\n[%s]", name)
		if g.CollectionURL != "" {
			fmt.Fprintf(&b, " %s", g.CollectionURL)
		}
		fmt.Fprintf(&b, "\n  %d/%d documents, %d occurrences\n",
			g.TotalDocumentsWithMatches, g.TotalDocuments, g.TotalOccurrences)
		for _, e := range r.Entries {
			if e.Collection != name {
				continue
			}
			fmt.Fprintf(&b, "  %s %s (%d)\n", e.ID, e.DocURL, e.TotalOccurrences)
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// Save writes all renderings of r into dir, named after its generation time
func Save(dir string, r *Report) (Files, error) {
	abs, err := EnsureDir(dir)
	if err != nil {
		return Files{}, err
	}
	files := Paths(abs, Timestamp(r.Summary.GeneratedAt.Local()))

	writers := []struct {
		path  string
		write func(io.Writer, *Report) error
	}{
		{files.JSON, WriteJSON},
		{files.CSV, WriteCSV},
		{files.Text, WriteText},
	}
	for _, wr := range writers {
		if err := writeFile(wr.path, r, wr.write); err != nil {
			return Files{}, err
		}
	}
	return files, nil
}

func writeFile(path string, r *Report, write func(io.Writer, *Report) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := write(f, r); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

// Load reads a JSON report. Entries without a collection inherit the summary's.
func Load(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse report %s: %w", path, err)
	}
	for i := range r.Entries {
		if r.Entries[i].Collection == "" {
			r.Entries[i].Collection = r.Summary.Collection
		}
	}
	return &r, nil
}

// FindLatest returns the most recently modified search-report-*.json in dir
func FindLatest(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNoReport
		}
		return "", fmt.Errorf("failed to list reports: %w", err)
	}

	var latest string
	var latestMod time.Time
	for _, de := range entries {
		name := de.Name()
		if de.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		if latest == "" || info.ModTime().After(latestMod) {
			latest = filepath.Join(dir, name)
			latestMod = info.ModTime()
		}
	}
	if latest == "" {
		return "", ErrNoReport
	}
	return latest, nil
}
