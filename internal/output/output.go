// Package output writes undex results to files.
package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"undex/internal/dexfmt"
)

// SmaliPath maps a class descriptor to its file path relative to the
// output root: "Lcom/ex/A$B;" → "com/ex/A$B.smali". Components that would
// escape or alias the root ("", ".", "..") and path separators other than
// '/' are neutralised, so the result is always a relative path below root.
func SmaliPath(desc string) string {
	name := strings.TrimSuffix(strings.TrimPrefix(desc, "L"), ";")
	parts := strings.Split(name, "/")
	out := parts[:0]
	for _, p := range parts {
		p = strings.Map(func(r rune) rune {
			if r == '\\' || r == 0 || r == ':' {
				return '_'
			}
			return r
		}, p)
		switch p {
		case "":
			continue
		case ".", "..":
			p = strings.Repeat("_", len(p))
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		out = append(out, "_")
	}
	return filepath.Join(out...) + ".smali"
}

// WriteSmali writes one rendered class to <dir>/<SmaliPath(desc)> and
// returns the path written.
func WriteSmali(dir, desc, text string) (string, error) {
	path := filepath.Join(dir, SmaliPath(desc))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("output: mkdir %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		return "", fmt.Errorf("output: write %s: %w", path, err)
	}
	return path, nil
}

// DiagEntry is one diagnostic in diagnostics.json.
type DiagEntry struct {
	Severity string `json:"severity"`
	Kind     string `json:"kind"`
	Offset   string `json:"offset"`
	Message  string `json:"message"`
}

// ClassDiagnostics groups the diagnostics of one class.
type ClassDiagnostics struct {
	Dex   string      `json:"dex,omitempty"` // member name inside an APK
	Index int         `json:"index"`
	Class string      `json:"class"`
	Diags []DiagEntry `json:"diags"`
}

// NewClassDiagnostics converts rendered-class diagnostics to their JSON form.
func NewClassDiagnostics(dex string, index int, class string, diags []dexfmt.Diag) ClassDiagnostics {
	cd := ClassDiagnostics{Dex: dex, Index: index, Class: class, Diags: make([]DiagEntry, len(diags))}
	for i, d := range diags {
		cd.Diags[i] = DiagEntry{
			Severity: d.Severity().String(),
			Kind:     string(d.Kind),
			Offset:   fmt.Sprintf("0x%x", d.Offset),
			Message:  d.Msg,
		}
	}
	return cd
}

// WriteDiagnosticsJSON writes diagnostics.json. Classes without
// diagnostics should not be passed in.
func WriteDiagnosticsJSON(dir string, classes []ClassDiagnostics) error {
	if classes == nil {
		classes = []ClassDiagnostics{}
	}
	return writeJSON(filepath.Join(dir, "diagnostics.json"), classes)
}

// WriteJSON writes v as indented JSON to <dir>/<name>.
func WriteJSON(dir, name string, v any) error {
	return writeJSON(filepath.Join(dir, name), v)
}

// WriteJSONL writes one JSON record per line to <dir>/<name>.
func WriteJSONL[T any](dir, name string, records []T) error {
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("output: create %s: %w", name, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("output: write %s: %w", name, err)
		}
	}
	return f.Close()
}

// ReadJSONL reads records written by WriteJSONL.
func ReadJSONL[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var records []T
	dec := json.NewDecoder(f)
	for dec.More() {
		var rec T
		if err := dec.Decode(&rec); err != nil {
			return records, fmt.Errorf("line %d: %w", len(records)+1, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// WriteDOT writes a Graphviz document to <dir>/<name>.
func WriteDOT(dir, name, dot string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("output: mkdir %s: %w", dir, err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(dot), 0644); err != nil {
		return fmt.Errorf("output: write %s: %w", name, err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("output: create %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("output: encode %s: %w", path, err)
	}
	return nil
}
