package disasm

import (
	"fmt"
	"strings"

	"undex/internal/pool"
)

// CallEdge represents a call site extracted from a decoded method.
type CallEdge struct {
	FromAddr uint32 `json:"from_addr"`
	Kind     string `json:"kind"`             // "virtual", "static", ..., "custom"
	Target   string `json:"target,omitempty"` // callee method descriptor
	Via      string `json:"via,omitempty"`    // bootstrap handle for invoke-custom
}

// Unresolved reports whether the callee index did not resolve.
func (e CallEdge) Unresolved() bool { return unresolvedTarget(e.Target) }

func unresolvedTarget(t string) bool {
	return strings.HasPrefix(t, "method@") || strings.HasPrefix(t, "call_site@")
}

// invokeKind maps "invoke-virtual/range" to "virtual".
func invokeKind(name string) string {
	name = strings.TrimPrefix(name, "invoke-")
	name, _, _ = strings.Cut(name, "/")
	return name
}

// ExtractCallEdges returns one edge per invoke instruction in insts. Callees
// that fail to resolve keep their raw index as the target.
func ExtractCallEdges(insts []Inst, r *pool.Resolver) []CallEdge {
	var edges []CallEdge
	for i := range insts {
		in := &insts[i]
		info := in.Info()
		if info.Flags&FlagInvoke == 0 {
			continue
		}
		ref, idx, ok := in.Index()
		if !ok {
			continue
		}
		e := CallEdge{FromAddr: in.Addr, Kind: invokeKind(info.Name)}
		switch ref {
		case RefMethod:
			if m, err := r.Method(idx); err == nil {
				e.Target = m.String()
			} else {
				e.Target = fmt.Sprintf("method@%d", idx)
			}
		case RefCallSite:
			if cs, err := r.CallSite(idx); err == nil {
				e.Target = cs.Name + cs.Type.Descriptor()
				e.Via = cs.Bootstrap.String()
			} else {
				e.Target = fmt.Sprintf("call_site@%d", idx)
			}
		}
		edges = append(edges, e)
	}
	return edges
}

// ExtractStringRefs maps the address of every const-string and
// const-string/jumbo to its resolved literal.
func ExtractStringRefs(insts []Inst, r *pool.Resolver) map[uint32]string {
	refs := make(map[uint32]string)
	for i := range insts {
		in := &insts[i]
		ref, idx, ok := in.Index()
		if !ok || ref != RefString {
			continue
		}
		if s, err := r.String(idx); err == nil {
			refs[in.Addr] = s
		}
	}
	return refs
}
