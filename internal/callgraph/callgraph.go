// Package callgraph builds lattice call graphs from decoded DEX methods.
package callgraph

import (
	"github.com/zboralski/lattice"
	"go.uber.org/zap"

	"undex/internal/dexfmt"
	"undex/internal/disasm"
	"undex/internal/session"
)

// MethodInfo holds the data needed to build the call graph and the summary
// CFG for one method.
type MethodInfo struct {
	Name      string // full method reference, "Lcom/ex/A;->run()V"
	Record    disasm.MethodRecord
	Insts     []disasm.Inst
	CallEdges []disasm.CallEdge
	Strings   map[uint32]string // const-string address → literal
}

// Collect decodes every method of every class in s. Methods without code
// are included with no instructions. In strict mode the first degraded
// method stops collection; in tolerant mode classes whose data cannot be
// read are skipped and logged.
func Collect(s *session.Session) ([]MethodInfo, error) {
	log := session.Logger()
	strict := s.Mode() == dexfmt.ModeStrict
	var out []MethodInfo
	for i := 0; i < s.NumClasses(); i++ {
		ms, err := s.ClassMethods(i)
		if err != nil {
			if strict {
				return out, err
			}
			log.Warn("class methods unreadable", zap.Int("class", i), zap.Error(err))
			continue
		}
		for _, m := range ms {
			res, err := s.DecodeMethod(m)
			if err != nil {
				if strict {
					return out, err
				}
				if res == nil {
					log.Warn("method undecodable", zap.Stringer("method", m.Ref), zap.Error(err))
					continue
				}
			}
			info := MethodInfo{
				Name: m.Ref.String(),
				Record: disasm.MethodRecord{
					Class: m.Ref.Class,
					Name:  m.Ref.Name,
					Proto: m.Ref.Proto.Descriptor(),
				},
			}
			if res != nil {
				info.Insts = res.Insts
				info.CallEdges = disasm.ExtractCallEdges(res.Insts, s.Resolver())
				info.Strings = disasm.ExtractStringRefs(res.Insts, s.Resolver())
				info.Record.CodeUnits = res.Consumed
				info.Record.Insts = len(res.Insts)
				info.Record.Degraded = res.Degraded()
			}
			out = append(out, info)
		}
	}
	return out, nil
}

// Records splits collected methods into the JSONL record streams.
func Records(methods []MethodInfo) ([]disasm.MethodRecord, []disasm.CallEdgeRecord) {
	recs := make([]disasm.MethodRecord, 0, len(methods))
	var edges []disasm.CallEdgeRecord
	for _, m := range methods {
		recs = append(recs, m.Record)
		edges = append(edges, disasm.EdgeRecords(m.Name, m.CallEdges)...)
	}
	return recs, edges
}

// StringRecords flattens the string references of collected methods.
func StringRecords(methods []MethodInfo) []disasm.StringRefRecord {
	var out []disasm.StringRefRecord
	for _, m := range methods {
		out = append(out, disasm.StringRecords(m.Name, m.Strings)...)
	}
	return out
}

// BuildCallGraph constructs a lattice.Graph from decoded methods.
// Each method becomes a node. Each resolved call edge becomes an edge;
// callees that did not resolve are skipped.
func BuildCallGraph(methods []MethodInfo) *lattice.Graph {
	g := &lattice.Graph{}
	for _, m := range methods {
		g.Nodes = append(g.Nodes, m.Name)
		for _, e := range m.CallEdges {
			if e.Target == "" || e.Unresolved() {
				continue
			}
			g.Edges = append(g.Edges, lattice.Edge{
				Caller: m.Name,
				Callee: e.Target,
			})
		}
	}
	g.Dedup()
	return g
}
