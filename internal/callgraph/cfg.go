package callgraph

import (
	"fmt"
	"strings"

	"github.com/zboralski/lattice"

	"undex/internal/disasm"
)

// isNoisyCallee reports calls present in nearly every method that carry no
// signal in a summary: constructor chaining and string concatenation.
func isNoisyCallee(target string) bool {
	switch target {
	case "Ljava/lang/Object;-><init>()V",
		"Ljava/lang/StringBuilder;-><init>()V",
		"Ljava/lang/StringBuilder;->toString()Ljava/lang/String;",
		"Ljava/lang/StringBuilder;->append(Ljava/lang/String;)Ljava/lang/StringBuilder;":
		return true
	}
	return false
}

// isInterestingCallee returns true if the callee is a resolved method or
// call site worth listing in a summary.
func isInterestingCallee(e disasm.CallEdge) bool {
	switch {
	case e.Target == "" || e.Unresolved():
		return false
	case isNoisyCallee(e.Target):
		return false
	case strings.HasPrefix(e.Target, "Lkotlin/jvm/internal/Intrinsics;->check"): // null checks
		return false
	}
	return true
}

// BuildSummaryCFG builds one single-block FuncCFG per method listing its
// interesting calls and string literals in address order. Methods with
// nothing to show get a FuncCFG with no blocks, which the renderer skips.
func BuildSummaryCFG(methods []MethodInfo) *lattice.CFGGraph {
	cg := &lattice.CFGGraph{}
	for _, m := range methods {
		cg.Funcs = append(cg.Funcs, summaryFuncCFG(m))
	}
	return cg
}

func summaryFuncCFG(m MethodInfo) *lattice.FuncCFG {
	edgeByAddr := make(map[uint32]disasm.CallEdge, len(m.CallEdges))
	for _, e := range m.CallEdges {
		edgeByAddr[e.FromAddr] = e
	}

	seen := make(map[string]bool)
	var calls []lattice.CallSite
	add := func(label string) {
		if seen[label] {
			return
		}
		seen[label] = true
		calls = append(calls, lattice.CallSite{Offset: len(calls), Callee: label})
	}
	for i := range m.Insts {
		addr := m.Insts[i].Addr
		if e, ok := edgeByAddr[addr]; ok && isInterestingCallee(e) {
			add(e.Target)
		}
		if val, ok := m.Strings[addr]; ok {
			if len(val) > 50 {
				val = val[:47] + "..."
			}
			add(fmt.Sprintf("%q", val))
		}
	}

	lcfg := &lattice.FuncCFG{Name: m.Name}
	if len(calls) > 0 {
		lcfg.Blocks = append(lcfg.Blocks, &lattice.BasicBlock{
			ID:    0,
			Start: 0,
			End:   1,
			Term:  true,
			Calls: calls,
		})
	}
	return lcfg
}
