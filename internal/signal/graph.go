package signal

import (
	"sort"

	"undex/internal/disasm"
)

// Method roles in the signal graph.
const (
	RoleSignal  = "signal"
	RoleContext = "context"
)

// ClassifiedString is a string literal with its signal categories.
type ClassifiedString struct {
	Addr       string   `json:"addr"`
	Value      string   `json:"value"`
	Categories []string `json:"categories"`
}

// APICall is a call to a tracked Android or Java API.
type APICall struct {
	Addr     string `json:"addr"`
	Target   string `json:"target"`
	Category string `json:"category"`
}

// SignalMethod is a method in the signal graph.
type SignalMethod struct {
	Name         string             `json:"name"`
	Class        string             `json:"class"`
	Strings      []ClassifiedString `json:"strings,omitempty"`
	APICalls     []APICall          `json:"api_calls,omitempty"`
	Categories   []string           `json:"categories,omitempty"`
	Severity     string             `json:"severity,omitempty"`
	Role         string             `json:"role"` // "signal", "context", ""
	IsEntryPoint bool               `json:"is_entry_point,omitempty"`
}

// SignalEdge is a deduplicated resolved call edge.
type SignalEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
	Kind string `json:"kind"`
}

// SignalGraph is the complete signal graph.
type SignalGraph struct {
	Methods []SignalMethod `json:"methods"`
	Edges   []SignalEdge   `json:"edges"`
	Stats   SignalStats    `json:"stats"`
}

// SignalStats holds summary statistics.
type SignalStats struct {
	TotalMethods   int            `json:"total_methods"`
	SignalMethods  int            `json:"signal_methods"`
	ContextMethods int            `json:"context_methods"`
	TotalEdges     int            `json:"total_edges"`
	StringRefCount int            `json:"string_ref_count"`
	APICallCount   int            `json:"api_call_count"`
	Categories     map[string]int `json:"categories"` // methods per category
}

// BuildSignalGraph classifies the string literals and API calls of every
// method. Methods with at least one category are signal methods; methods
// within k resolved call hops of one, in either direction, are context.
// entryPoints may be nil.
func BuildSignalGraph(
	methods []disasm.MethodRecord,
	edges []disasm.CallEdgeRecord,
	strs []disasm.StringRefRecord,
	k int,
	entryPoints map[string]bool,
) *SignalGraph {
	type hits struct {
		strs []ClassifiedString
		apis []APICall
		cats map[string]bool
	}
	byMethod := make(map[string]*hits)
	get := func(name string) *hits {
		h, ok := byMethod[name]
		if !ok {
			h = &hits{cats: make(map[string]bool)}
			byMethod[name] = h
		}
		return h
	}

	for _, sr := range strs {
		cats := ClassifyString(sr.Value)
		if len(cats) == 0 {
			continue
		}
		h := get(sr.Method)
		h.strs = append(h.strs, ClassifiedString{Addr: sr.Addr, Value: sr.Value, Categories: cats})
		for _, c := range cats {
			h.cats[c] = true
		}
	}
	apiCount := 0
	for _, e := range edges {
		cat := ClassifyCallee(e.Target)
		if cat == "" {
			continue
		}
		h := get(e.FromMethod)
		h.apis = append(h.apis, APICall{Addr: e.FromAddr, Target: e.Target, Category: cat})
		h.cats[cat] = true
		apiCount++
	}

	catCounts := make(map[string]int)
	for _, h := range byMethod {
		for c := range h.cats {
			catCounts[c]++
		}
	}

	fwd := make(map[string][]string)
	rev := make(map[string][]string)
	var graphEdges []SignalEdge
	seen := make(map[SignalEdge]bool)
	for _, e := range edges {
		if e.Target == "" || e.Unresolved() {
			continue
		}
		se := SignalEdge{From: e.FromMethod, To: e.Target, Kind: e.Kind}
		if seen[se] {
			continue
		}
		seen[se] = true
		graphEdges = append(graphEdges, se)
		fwd[e.FromMethod] = append(fwd[e.FromMethod], e.Target)
		rev[e.Target] = append(rev[e.Target], e.FromMethod)
	}

	// BFS k hops from signal methods, both directions.
	contextSet := make(map[string]bool)
	visited := make(map[string]bool, len(byMethod))
	type queueItem struct {
		name  string
		depth int
	}
	var queue []queueItem
	for _, name := range sortedNames(byMethod) {
		visited[name] = true
		queue = append(queue, queueItem{name, 0})
	}
	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]
		if item.depth >= k {
			continue
		}
		for _, adj := range [][]string{fwd[item.name], rev[item.name]} {
			for _, next := range adj {
				if !visited[next] {
					visited[next] = true
					contextSet[next] = true
					queue = append(queue, queueItem{next, item.depth + 1})
				}
			}
		}
	}

	out := make([]SignalMethod, 0, len(methods))
	for _, m := range methods {
		name := m.FullName()
		sm := SignalMethod{Name: name, Class: m.Class, IsEntryPoint: entryPoints[name]}
		if h, ok := byMethod[name]; ok {
			sm.Role = RoleSignal
			sm.Strings = h.strs
			sm.APICalls = h.apis
			for c := range h.cats {
				sm.Categories = append(sm.Categories, c)
			}
			sort.Strings(sm.Categories)
			sm.Severity = MaxSeverity(sm.Categories)
		} else if contextSet[name] {
			sm.Role = RoleContext
		}
		out = append(out, sm)
	}

	// Signal, then context, then the rest. Within a role: entry points,
	// then severity, then category count.
	roleOrd := map[string]int{RoleSignal: 0, RoleContext: 1, "": 2}
	sevOrd := map[string]int{SeverityHigh: 0, SeverityMedium: 1, SeverityLow: 2, "": 3}
	sort.SliceStable(out, func(i, j int) bool {
		si, sj := &out[i], &out[j]
		if si.Role != sj.Role {
			return roleOrd[si.Role] < roleOrd[sj.Role]
		}
		if si.IsEntryPoint != sj.IsEntryPoint {
			return si.IsEntryPoint
		}
		if si.Severity != sj.Severity {
			return sevOrd[si.Severity] < sevOrd[sj.Severity]
		}
		if len(si.Categories) != len(sj.Categories) {
			return len(si.Categories) > len(sj.Categories)
		}
		return si.Name < sj.Name
	})

	stats := SignalStats{
		TotalMethods:   len(methods),
		TotalEdges:     len(graphEdges),
		StringRefCount: len(strs),
		APICallCount:   apiCount,
		Categories:     catCounts,
	}
	for _, sm := range out {
		switch sm.Role {
		case RoleSignal:
			stats.SignalMethods++
		case RoleContext:
			stats.ContextMethods++
		}
	}
	return &SignalGraph{Methods: out, Edges: graphEdges, Stats: stats}
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
