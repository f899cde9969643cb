package smali

import (
	"fmt"
	"sort"
	"strconv"

	"undex/internal/dex"
	"undex/internal/dexfmt"
	"undex/internal/disasm"
	"undex/internal/pool"
)

const indent = "    "

// method holds the state for rendering one code item.
type method struct {
	r     *Renderer
	code  *dex.CodeItem
	res   *disasm.Result
	diags dexfmt.Diags

	labels map[uint32]map[string]bool
	lead   []string            // try lines for ranges that end before the first instruction
	after  map[uint32][]string // try_end and .catch lines, keyed by the instruction they follow
}

// writeMethod renders m and returns the number of decoded instructions.
func (r *Renderer) writeMethod(w *writer, m dex.EncodedMethod, diags *dexfmt.Diags) int {
	flags := flagPrefix(m.AccessFlags, dex.ForMethod)
	ref, err := r.pool.Method(m.MethodIdx)
	if err != nil {
		var local dexfmt.Diags
		local.AddErr(uint64(m.Offset), err)
		diags.Merge(local.Items())
		w.linef(".method %smethod@%d", flags, m.MethodIdx)
		w.marker(indent, local.Items()[0])
		w.line(".end method")
		return 0
	}
	w.linef(".method %s%s%s", flags, ref.Name, ref.Proto.Descriptor())
	if !m.HasCode() {
		w.line(".end method")
		return 0
	}

	code, err := r.c.CodeItem(m.CodeOff)
	if err != nil {
		var local dexfmt.Diags
		local.AddErr(uint64(m.CodeOff), err)
		w.marker(indent, local.Items()[0])
		w.line(".end method")
		diags.Merge(qualify(ref, local.Items()))
		return 0
	}

	mr := &method{
		r:      r,
		code:   code,
		res:    disasm.Decode(r.c, code),
		labels: make(map[uint32]map[string]bool),
		after:  make(map[uint32][]string),
	}
	mr.diags.Merge(mr.res.Diags)
	mr.write(w)
	w.line(".end method")
	diags.Merge(qualify(ref, mr.diags.Items()))
	return len(mr.res.Insts)
}

// qualify prefixes each message with the method so class-level diagnostics
// stay attributable. Offsets remain code-unit addresses.
func qualify(ref pool.MethodRef, diags []dexfmt.Diag) []dexfmt.Diag {
	out := make([]dexfmt.Diag, len(diags))
	for i, d := range diags {
		d.Msg = ref.String() + ": " + d.Msg
		out[i] = d
	}
	return out
}

func (m *method) write(w *writer) {
	if m.r.opts.ParamRegisters {
		w.linef("%s.locals %d", indent, m.code.FirstParamRegister())
	} else {
		w.linef("%s.registers %d", indent, m.code.RegistersSize)
	}

	for _, t := range m.res.Targets() {
		if m.res.Valid(t) {
			m.label(t.Addr, t.Label())
		}
	}
	m.tries()

	// operand rendering can add diagnostics, so it runs before markers are placed
	texts := make([][]string, len(m.res.Insts))
	for i := range m.res.Insts {
		texts[i] = m.inst(&m.res.Insts[i])
	}

	diags := append([]dexfmt.Diag(nil), m.diags.Items()...)
	sort.SliceStable(diags, func(i, j int) bool { return diags[i].Offset < diags[j].Offset })

	for _, s := range m.lead {
		w.line(s)
	}
	next := 0
	for i := range m.res.Insts {
		in := &m.res.Insts[i]
		w.line("")
		for next < len(diags) && diags[next].Offset <= uint64(in.Addr) {
			w.marker(indent, diags[next])
			next++
		}
		for _, l := range m.sortedLabels(in.Addr) {
			w.line(indent + ":" + l)
		}
		for _, s := range texts[i] {
			w.line(s)
		}
		for _, s := range m.after[in.Addr] {
			w.line(s)
		}
	}
	if next < len(diags) {
		w.line("")
		for ; next < len(diags); next++ {
			w.marker(indent, diags[next])
		}
	}
}

func (m *method) label(addr uint32, name string) {
	set := m.labels[addr]
	if set == nil {
		set = make(map[string]bool)
		m.labels[addr] = set
	}
	set[name] = true
}

func (m *method) sortedLabels(addr uint32) []string {
	set := m.labels[addr]
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for l := range set {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// codeAt reports whether addr starts a decoded, non-payload instruction.
func (m *method) codeAt(addr uint32) bool {
	in, ok := m.res.At(addr)
	return ok && !in.IsPayload()
}

// anchor returns the address of the last instruction starting before end.
func (m *method) anchor(end uint32) (uint32, bool) {
	insts := m.res.Insts
	i := sort.Search(len(insts), func(i int) bool { return insts[i].Addr >= end })
	if i == 0 {
		return 0, false
	}
	return insts[i-1].Addr, true
}

func hexLabel(prefix string, addr uint32) string {
	return prefix + "_" + strconv.FormatUint(uint64(addr), 16)
}

func (m *method) tries() {
	for _, t := range m.code.Tries {
		start, end := hexLabel("try_start", t.StartAddr), hexLabel("try_end", t.End())
		if m.codeAt(t.StartAddr) {
			m.label(t.StartAddr, start)
		} else {
			m.diags.Addf(uint64(t.StartAddr), dexfmt.KindMalformedControlFlow,
				"try start 0x%x is not an instruction start", t.StartAddr)
		}

		lines := []string{indent + ":" + end}
		rng := fmt.Sprintf("{:%s .. :%s}", start, end)
		h := m.code.Handlers[t.Handler]
		for _, c := range h.Catches {
			typ, err := m.r.pool.Type(c.TypeIdx)
			if err != nil {
				m.diags.AddErr(uint64(t.StartAddr), err)
				typ = fmt.Sprintf("type@%d", c.TypeIdx)
			}
			lines = append(lines, fmt.Sprintf("%s.catch %s %s :%s", indent, typ, rng, m.handler("catch", c.Addr, t.StartAddr)))
		}
		if h.HasCatchAll {
			lines = append(lines, fmt.Sprintf("%s.catchall %s :%s", indent, rng, m.handler("catchall", h.CatchAll, t.StartAddr)))
		}

		if a, ok := m.anchor(t.End()); ok {
			m.after[a] = append(m.after[a], lines...)
		} else {
			m.lead = append(m.lead, lines...)
		}
	}
}

// handler names a catch target, placing its label when the address is a
// valid instruction start.
func (m *method) handler(prefix string, addr, try uint32) string {
	name := hexLabel(prefix, addr)
	if m.codeAt(addr) {
		m.label(addr, name)
	} else {
		m.diags.Addf(uint64(try), dexfmt.KindMalformedControlFlow,
			"%s handler 0x%x is not an instruction start", prefix, addr)
	}
	return name
}
