// Package dexfmt provides the byte-level primitives, error taxonomy and
// diagnostics shared by every DEX decoding layer.
package dexfmt

import "fmt"

// Diag records a non-fatal issue encountered while decoding one unit.
type Diag struct {
	Offset uint64 `json:"offset"`
	Kind   Kind   `json:"kind"`
	Msg    string `json:"msg"`
}

func (d Diag) String() string {
	return fmt.Sprintf("[%s] 0x%x: %s", d.Kind, d.Offset, d.Msg)
}

// Severity is the severity of the diagnostic's kind.
func (d Diag) Severity() Severity { return d.Kind.Severity() }

// Err converts the diagnostic back into an *Error.
func (d Diag) Err() *Error {
	return &Error{Kind: d.Kind, Offset: int64(d.Offset), Detail: d.Msg}
}

// Diags accumulates diagnostics.
type Diags struct {
	items []Diag
}

func (d *Diags) Add(offset uint64, kind Kind, msg string) {
	d.items = append(d.items, Diag{Offset: offset, Kind: kind, Msg: msg})
}

func (d *Diags) Addf(offset uint64, kind Kind, format string, args ...any) {
	d.items = append(d.items, Diag{Offset: offset, Kind: kind, Msg: fmt.Sprintf(format, args...)})
}

// AddErr records err at offset, keeping its Kind and detail.
func (d *Diags) AddErr(offset uint64, err error) {
	msg := err.Error()
	if e, ok := err.(*Error); ok && e.Detail != "" && e.Cause == nil {
		msg = e.Detail
	}
	d.items = append(d.items, Diag{Offset: offset, Kind: KindOf(err), Msg: msg})
}

// Merge appends all of other's diagnostics.
func (d *Diags) Merge(other []Diag) {
	d.items = append(d.items, other...)
}

func (d *Diags) Items() []Diag { return d.items }
func (d *Diags) Len() int      { return len(d.items) }

// HasErrors reports whether any diagnostic has error severity.
func HasErrors(diags []Diag) bool {
	return FirstError(diags) != nil
}

// FirstError returns the first error-severity diagnostic, or nil.
func FirstError(diags []Diag) *Diag {
	for i := range diags {
		if diags[i].Severity() == SeverityError {
			return &diags[i]
		}
	}
	return nil
}

// Mode controls error handling behavior.
type Mode int

const (
	ModeTolerant Mode = iota // record per-unit errors and keep going
	ModeStrict               // first per-unit error aborts the walk
)

func (m Mode) String() string {
	if m == ModeStrict {
		return "strict"
	}
	return "tolerant"
}
