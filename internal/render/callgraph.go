package render

import (
	"fmt"
	"sort"
	"strings"

	"undex/internal/disasm"
)

// Provenance categories derived from CallEdgeRecord.Kind.
const (
	ProvVirtual    = "virtual"
	ProvInterface  = "interface"
	ProvSuper      = "super"
	ProvDirect     = "direct"
	ProvDynamic    = "dynamic"
	ProvUnresolved = "unresolved"
)

// ClassifyEdgeProv returns the provenance category for a call edge.
func ClassifyEdgeProv(e disasm.CallEdgeRecord) string {
	if e.Unresolved() {
		return ProvUnresolved
	}
	switch e.Kind {
	case "virtual":
		return ProvVirtual
	case "interface":
		return ProvInterface
	case "super":
		return ProvSuper
	case "direct", "static":
		return ProvDirect
	case "custom", "polymorphic":
		return ProvDynamic
	}
	return ProvUnresolved
}

// edgeColor returns the DOT color for an edge provenance category.
func edgeColor(prov string, t Theme) string {
	switch prov {
	case ProvVirtual:
		return t.EdgeVirtual
	case ProvInterface:
		return t.EdgeInterface
	case ProvSuper:
		return t.EdgeSuper
	case ProvDynamic:
		return t.EdgeDynamic
	case ProvUnresolved:
		return t.EdgeUnresolved
	default:
		return t.EdgeDirect
	}
}

// edgeStyle returns dot style attributes for provenance.
func edgeStyle(prov string) string {
	switch prov {
	case ProvVirtual, ProvInterface:
		return "dotted"
	case ProvUnresolved:
		return "dashed"
	default:
		return "solid"
	}
}

// CallgraphDOT renders a callgraph from methods and call edges as DOT.
// Methods defined in the file are clustered by class; callees defined
// elsewhere (framework, libraries) are shown as plaintext nodes.
// maxNodes limits the number of method nodes rendered (0 = all).
func CallgraphDOT(methods []disasm.MethodRecord, edges []disasm.CallEdgeRecord, title string, t Theme, maxNodes int) string {
	known := make(map[string]bool, len(methods))
	for _, m := range methods {
		known[m.FullName()] = true
	}

	// Deduplicate edges: caller→callee→prov.
	type edgeKey struct {
		from, to, prov string
	}
	dedup := make(map[edgeKey]int)
	for _, e := range edges {
		if e.Target == "" {
			continue
		}
		dedup[edgeKey{e.FromMethod, e.Target, ClassifyEdgeProv(e)}]++
	}

	// Methods that take part in at least one edge, in record order.
	refNodes := make(map[string]bool)
	for k := range dedup {
		refNodes[k.from] = true
		refNodes[k.to] = true
	}
	var rendered []string
	for _, m := range methods {
		if name := m.FullName(); refNodes[name] {
			rendered = append(rendered, name)
		}
	}
	if maxNodes > 0 && len(rendered) > maxNodes {
		rendered = rendered[:maxNodes]
	}
	renderSet := make(map[string]bool, len(rendered))
	for _, name := range rendered {
		renderSet[name] = true
	}

	external := make(map[string]bool)
	for k := range dedup {
		if renderSet[k.from] && !known[k.to] {
			external[k.to] = true
		}
	}

	byOwner := make(map[string][]string)
	var loose []string
	for _, name := range rendered {
		byOwner[ownerOf(name)] = append(byOwner[ownerOf(name)], name)
	}

	var b strings.Builder
	b.WriteString("digraph callgraph {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  compound=true;\n")
	b.WriteString("  splines=true;\n")
	b.WriteString("  nodesep=0.4;\n")
	b.WriteString("  ranksep=0.6;\n")
	fmt.Fprintf(&b, "  bgcolor=%q;\n", t.Background)
	fmt.Fprintf(&b, "  node [shape=rect, style=filled, fillcolor=%q, color=%q, penwidth=0.5, fontname=\"Helvetica Neue,Helvetica,Arial\", fontsize=9, fontcolor=%q, height=0.3, margin=\"0.12,0.06\"];\n",
		t.NodeFill, t.NodeBorder, t.TextColor)
	b.WriteString("  edge [penwidth=0.5, arrowsize=0.5, arrowhead=vee];\n")
	writeTitle(&b, title, t)
	b.WriteByte('\n')

	owners := sortedKeys(byOwner)
	for _, owner := range owners {
		names := byOwner[owner]
		if len(names) < 2 {
			loose = append(loose, names...)
			continue
		}
		fmt.Fprintf(&b, "  subgraph %s {\n", "cluster_"+dotID(owner))
		fmt.Fprintf(&b, "    label=<<font point-size=\"8\" color=\"%s\">%s</font>>;\n",
			t.ClusterLabel, dotEscape(classLabel(owner)))
		fmt.Fprintf(&b, "    style=dotted; color=%q; penwidth=0.3;\n", t.ClusterBorder)
		for _, name := range names {
			fmt.Fprintf(&b, "    %s [label=%q];\n", dotID(name), truncLabel(stripOwner(name), 50))
		}
		b.WriteString("  }\n")
	}
	for _, name := range loose {
		fmt.Fprintf(&b, "  %s [label=%q];\n", dotID(name), truncLabel(name, 60))
	}
	b.WriteByte('\n')

	for _, name := range sortedKeys(external) {
		fmt.Fprintf(&b, "  %s [label=%q, shape=plaintext, style=\"\", fillcolor=none, fontcolor=%q, fontsize=8];\n",
			dotID(name), truncLabel(name, 50), t.ExternalText)
	}
	b.WriteByte('\n')

	keys := make([]edgeKey, 0, len(dedup))
	for k := range dedup {
		if renderSet[k.from] && (renderSet[k.to] || external[k.to]) {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].from != keys[j].from {
			return keys[i].from < keys[j].from
		}
		if keys[i].to != keys[j].to {
			return keys[i].to < keys[j].to
		}
		return keys[i].prov < keys[j].prov
	})
	for _, k := range keys {
		count := dedup[k]
		color := edgeColor(k.prov, t)
		attrs := fmt.Sprintf("color=%q, style=%q", color, edgeStyle(k.prov))
		if count > 1 {
			attrs += fmt.Sprintf(", penwidth=%.1f", 0.5+float64(count)*0.1)
			if count > 2 {
				attrs += fmt.Sprintf(", label=<<font point-size=\"7\" color=\"%s\">%dx</font>>", color, count)
			}
		}
		fmt.Fprintf(&b, "  %s -> %s [%s];\n", dotID(k.from), dotID(k.to), attrs)
	}

	b.WriteString("}\n")
	return b.String()
}

func writeTitle(b *strings.Builder, title string, t Theme) {
	if title == "" {
		return
	}
	b.WriteString("  labelloc=t;\n  labeljust=l;\n")
	fmt.Fprintf(b, "  label=<<font face=\"Helvetica Neue,Helvetica\" point-size=\"8\" color=\"%s\">%s</font>>;\n",
		t.TextColor, dotEscape(title))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CallgraphStats computes summary statistics from edges.
type CallgraphStats struct {
	TotalMethods int
	TotalEdges   int
	Resolved     int
	Unresolved   int
	External     int // edges whose callee is not defined in the file
	UniqueOwners int
	ProvCounts   map[string]int
	TopCallers   []NameCount // sorted desc
	TopCallees   []NameCount // sorted desc
	TopOwners    []NameCount // sorted desc by method count
}

// NameCount pairs a name with a count.
type NameCount struct {
	Name  string
	Count int
}

// ComputeStats computes callgraph statistics from the JSONL records.
func ComputeStats(methods []disasm.MethodRecord, edges []disasm.CallEdgeRecord) CallgraphStats {
	stats := CallgraphStats{
		TotalMethods: len(methods),
		TotalEdges:   len(edges),
		ProvCounts:   make(map[string]int),
	}

	known := make(map[string]bool, len(methods))
	ownerCount := make(map[string]int)
	for _, m := range methods {
		known[m.FullName()] = true
		ownerCount[m.Class]++
	}
	stats.UniqueOwners = len(ownerCount)

	callerCount := make(map[string]int)
	calleeCount := make(map[string]int)
	for _, e := range edges {
		stats.ProvCounts[ClassifyEdgeProv(e)]++
		callerCount[e.FromMethod]++
		if e.Unresolved() {
			stats.Unresolved++
			continue
		}
		stats.Resolved++
		calleeCount[e.Target]++
		if !known[e.Target] {
			stats.External++
		}
	}

	stats.TopCallers = topNMap(callerCount, 20)
	stats.TopCallees = topNMap(calleeCount, 20)
	stats.TopOwners = topNMap(ownerCount, 30)
	return stats
}

// topNMap returns the top N entries from a map, sorted descending by count
// and then by name.
func topNMap(m map[string]int, n int) []NameCount {
	entries := make([]NameCount, 0, len(m))
	for name, count := range m {
		entries = append(entries, NameCount{name, count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Name < entries[j].Name
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries
}
