package disasm

import (
	"fmt"
	"sort"
)

// MethodRecord is one line in methods.jsonl.
type MethodRecord struct {
	Class     string `json:"class"`
	Name      string `json:"name"`
	Proto     string `json:"proto"`
	CodeUnits int    `json:"code_units"`
	Insts     int    `json:"insts"`
	Degraded  bool   `json:"degraded,omitempty"`
}

// FullName returns the method reference as it appears in call edges,
// e.g. "Lcom/ex/A;->run(I)V".
func (m MethodRecord) FullName() string { return m.Class + "->" + m.Name + m.Proto }

// CallEdgeRecord is one line in call_edges.jsonl.
type CallEdgeRecord struct {
	FromMethod string `json:"from_method"`
	FromAddr   string `json:"from_addr"`
	Kind       string `json:"kind"`
	Target     string `json:"target,omitempty"`
	Via        string `json:"via,omitempty"`
}

// Unresolved reports whether the callee index did not resolve.
func (e CallEdgeRecord) Unresolved() bool {
	return unresolvedTarget(e.Target)
}

// EdgeRecords converts the call edges of one method to records.
func EdgeRecords(from string, edges []CallEdge) []CallEdgeRecord {
	out := make([]CallEdgeRecord, len(edges))
	for i, e := range edges {
		out[i] = CallEdgeRecord{
			FromMethod: from,
			FromAddr:   fmt.Sprintf("0x%x", e.FromAddr),
			Kind:       e.Kind,
			Target:     e.Target,
			Via:        e.Via,
		}
	}
	return out
}

// StringRefRecord is one line in string_refs.jsonl.
type StringRefRecord struct {
	Method string `json:"method"`
	Addr   string `json:"addr"`
	Value  string `json:"value"`
}

// StringRecords converts the string references of one method to records
// in address order.
func StringRecords(from string, refs map[uint32]string) []StringRefRecord {
	addrs := make([]uint32, 0, len(refs))
	for a := range refs {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	out := make([]StringRefRecord, len(addrs))
	for i, a := range addrs {
		out[i] = StringRefRecord{Method: from, Addr: fmt.Sprintf("0x%x", a), Value: refs[a]}
	}
	return out
}
