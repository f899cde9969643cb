// Package smali renders DEX classes as baksmali-compatible assembly text.
//
// Rendering never fails outright. Anything that cannot be decoded or
// resolved is reported as a diagnostic and marked in the text with a
// "# error:" line at the point of failure.
package smali

import (
	"fmt"
	"strings"

	"undex/internal/dex"
	"undex/internal/dexfmt"
	"undex/internal/pool"
)

// Options controls rendering.
type Options struct {
	// ParamRegisters names the incoming argument registers p0..pN and
	// emits .locals instead of .registers.
	ParamRegisters bool
}

// Renderer renders classes of one container.
type Renderer struct {
	c    *dex.Container
	pool *pool.Resolver
	opts Options
}

// New returns a renderer that resolves references through r.
func New(r *pool.Resolver, opts Options) *Renderer {
	return &Renderer{c: r.Container(), pool: r, opts: opts}
}

// Class is the rendered form of one class_def_item.
type Class struct {
	Descriptor string
	Text       string
	Diags      []dexfmt.Diag
	Methods    int
	Insts      int
}

// Degraded reports whether any part of the class failed to decode.
func (c *Class) Degraded() bool { return dexfmt.HasErrors(c.Diags) }

type writer struct {
	strings.Builder
}

func (w *writer) line(s string) {
	w.WriteString(s)
	w.WriteByte('\n')
}

func (w *writer) linef(format string, args ...any) {
	fmt.Fprintf(w, format, args...)
	w.WriteByte('\n')
}

// marker writes a failure comment for d at the given indent.
func (w *writer) marker(indent string, d dexfmt.Diag) {
	w.linef("%s# %s: %s at 0x%x: %s", indent, d.Severity(), d.Kind, d.Offset, d.Msg)
}

func flagPrefix(f dex.AccessFlags, target dex.FlagTarget) string {
	if s := f.Format(target); s != "" {
		return s + " "
	}
	return ""
}

// RenderClass renders def.
func (r *Renderer) RenderClass(def dex.ClassDef) *Class {
	out := &Class{}
	var diags dexfmt.Diags
	var w writer

	// flush marks every diagnostic recorded since the last call at the
	// current position.
	marked := 0
	flush := func() {
		for _, d := range diags.Items()[marked:] {
			w.marker("", d)
		}
		marked = diags.Len()
	}

	desc, err := r.pool.Type(def.ClassIdx)
	if err != nil {
		desc = fmt.Sprintf("type@%d", def.ClassIdx)
		diags.AddErr(uint64(def.Offset), fmt.Errorf("class: %w", err))
	}
	out.Descriptor = desc

	w.linef(".class %s%s", flagPrefix(def.AccessFlags, dex.ForClass), desc)
	flush()
	if def.HasSuperclass() {
		super, err := r.pool.Type(def.SuperclassIdx)
		if err != nil {
			super = fmt.Sprintf("type@%d", def.SuperclassIdx)
			diags.AddErr(uint64(def.Offset), fmt.Errorf("superclass: %w", err))
		}
		w.linef(".super %s", super)
		flush()
	}
	if def.HasSourceFile() {
		if s, err := r.pool.String(def.SourceFileIdx); err == nil {
			w.linef(".source %s", quoteString(s))
		} else {
			diags.AddErr(uint64(def.Offset), fmt.Errorf("source file: %w", err))
			flush()
		}
	}

	if def.InterfacesOff != 0 {
		ifaces, err := r.pool.TypeList(def.InterfacesOff)
		if err != nil {
			diags.AddErr(uint64(def.InterfacesOff), fmt.Errorf("interfaces: %w", err))
		}
		if len(ifaces) > 0 || err != nil {
			w.line("")
			w.line("# interfaces")
			for _, t := range ifaces {
				w.linef(".implements %s", t)
			}
			flush()
		}
	}

	data, err := r.c.ClassData(def)
	if err != nil {
		diags.AddErr(uint64(def.ClassDataOff), fmt.Errorf("class data: %w", err))
		w.line("")
		flush()
		out.Text, out.Diags = w.String(), diags.Items()
		return out
	}

	statics, err := r.c.StaticValues(def)
	if err != nil {
		diags.AddErr(uint64(def.StaticValuesOff), fmt.Errorf("static values: %w", err))
		statics = nil
		if len(data.StaticFields) == 0 {
			w.line("")
			flush()
		}
	}

	if len(data.StaticFields) > 0 {
		w.WriteString("\n\n# static fields\n")
		flush()
		for i, f := range data.StaticFields {
			if i > 0 {
				w.WriteByte('\n')
			}
			var init *dex.Value
			if i < len(statics) && !statics[i].IsZero() {
				init = &statics[i]
			}
			r.writeField(&w, f, init, &diags)
			flush()
		}
	}
	if len(data.InstanceFields) > 0 {
		w.WriteString("\n\n# instance fields")
		for _, f := range data.InstanceFields {
			w.WriteByte('\n')
			r.writeField(&w, f, nil, &diags)
			flush()
		}
	}
	if len(data.DirectMethods) > 0 {
		w.WriteString("\n\n# direct methods")
		for _, m := range data.DirectMethods {
			w.WriteByte('\n')
			out.Insts += r.writeMethod(&w, m, &diags)
			out.Methods++
		}
	}
	if len(data.VirtualMethods) > 0 {
		w.WriteString("\n\n# virtual methods")
		for _, m := range data.VirtualMethods {
			w.WriteByte('\n')
			out.Insts += r.writeMethod(&w, m, &diags)
			out.Methods++
		}
	}

	out.Text, out.Diags = w.String(), diags.Items()
	return out
}

// writeField renders f. Failures are recorded in diags for the caller to
// mark after the field line.
func (r *Renderer) writeField(w *writer, f dex.EncodedField, init *dex.Value, diags *dexfmt.Diags) {
	ref, err := r.pool.Field(f.FieldIdx)
	if err != nil {
		diags.AddErr(uint64(f.Offset), err)
		w.linef(".field %sfield@%d", flagPrefix(f.AccessFlags, dex.ForField), f.FieldIdx)
		return
	}
	w.WriteString(".field ")
	w.WriteString(flagPrefix(f.AccessFlags, dex.ForField))
	w.WriteString(ref.Name)
	w.WriteByte(':')
	w.WriteString(ref.Type)
	if init != nil {
		s, err := r.value(*init, "")
		if err != nil {
			diags.AddErr(uint64(f.Offset), fmt.Errorf("%s initial value: %w", ref, err))
		} else {
			w.WriteString(" = ")
			w.WriteString(s)
		}
	}
	w.WriteByte('\n')
}
