package render

import (
	"fmt"
	"sort"
	"strings"

	"undex/internal/disasm"
)

// FindEntryPoints returns methods that no resolved call edge in the file
// targets. Static initializers are always entry points.
func FindEntryPoints(methods []disasm.MethodRecord, edges []disasm.CallEdgeRecord) []string {
	targets := make(map[string]bool)
	for _, e := range edges {
		if !e.Unresolved() {
			targets[e.Target] = true
		}
	}

	var entries []string
	for _, m := range methods {
		name := m.FullName()
		if m.Name == "<clinit>" || !targets[name] {
			entries = append(entries, name)
		}
	}
	sort.Strings(entries)
	return entries
}

// ReachableSet performs BFS from entry points following resolved call
// edges and returns the set of all reachable method names, callees outside
// the file included.
func ReachableSet(entryPoints []string, edges []disasm.CallEdgeRecord) map[string]bool {
	adj := make(map[string][]string)
	for _, e := range edges {
		if !e.Unresolved() {
			adj[e.FromMethod] = append(adj[e.FromMethod], e.Target)
		}
	}

	reachable := make(map[string]bool)
	queue := make([]string, 0, len(entryPoints))
	for _, ep := range entryPoints {
		if !reachable[ep] {
			reachable[ep] = true
			queue = append(queue, ep)
		}
	}
	for len(queue) > 0 {
		fn := queue[0]
		queue = queue[1:]
		for _, target := range adj[fn] {
			if !reachable[target] {
				reachable[target] = true
				queue = append(queue, target)
			}
		}
	}
	return reachable
}

// ReachabilityDOT renders a callgraph filtered to the reachable set.
// Entry points are highlighted and only edges between reachable methods
// are shown.
func ReachabilityDOT(methods []disasm.MethodRecord, edges []disasm.CallEdgeRecord, reachable map[string]bool, entryPoints []string, title string, t Theme) string {
	entrySet := make(map[string]bool, len(entryPoints))
	for _, ep := range entryPoints {
		entrySet[ep] = true
	}
	known := make(map[string]bool, len(methods))
	for _, m := range methods {
		known[m.FullName()] = true
	}

	type edgeKey struct{ from, to string }
	edgeCount := make(map[edgeKey]int)
	for _, e := range edges {
		if e.Unresolved() || !reachable[e.FromMethod] || !reachable[e.Target] {
			continue
		}
		edgeCount[edgeKey{e.FromMethod, e.Target}]++
	}

	refNodes := make(map[string]bool)
	for k := range edgeCount {
		refNodes[k.from] = true
		refNodes[k.to] = true
	}
	for _, ep := range entryPoints {
		refNodes[ep] = true
	}

	ownerMethods := make(map[string][]string)
	var loose []string
	for name := range refNodes {
		if owner := ownerOf(name); owner != "" {
			ownerMethods[owner] = append(ownerMethods[owner], name)
		} else {
			loose = append(loose, name)
		}
	}

	var b strings.Builder
	b.WriteString("digraph reachable {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  compound=true;\n")
	b.WriteString("  splines=true;\n")
	b.WriteString("  nodesep=0.4;\n")
	b.WriteString("  ranksep=0.6;\n")
	fmt.Fprintf(&b, "  bgcolor=%q;\n", t.Background)
	fmt.Fprintf(&b, "  node [shape=rect, style=filled, fillcolor=%q, color=%q, penwidth=0.5, fontname=\"Helvetica Neue,Helvetica,Arial\", fontsize=9, fontcolor=%q, height=0.3, margin=\"0.12,0.06\"];\n",
		t.NodeFill, t.NodeBorder, t.TextColor)
	fmt.Fprintf(&b, "  edge [penwidth=0.5, arrowsize=0.5, arrowhead=vee, color=%q];\n", t.EdgeDirect)
	writeTitle(&b, title, t)
	b.WriteByte('\n')

	writeNode := func(name, label string) {
		id := dotID(name)
		label = truncLabel(label, 50)
		switch {
		case entrySet[name]:
			fmt.Fprintf(&b, "    %s [label=%q, penwidth=1.5, color=%q];\n", id, label, t.EdgeEntryAccent)
		case !known[name]:
			fmt.Fprintf(&b, "    %s [label=%q, fillcolor=%q, fontcolor=%q];\n", id, label, t.ExternalFill, t.ExternalText)
		default:
			fmt.Fprintf(&b, "    %s [label=%q];\n", id, label)
		}
	}

	for _, owner := range sortedKeys(ownerMethods) {
		names := ownerMethods[owner]
		if len(names) < 2 {
			loose = append(loose, names...)
			continue
		}
		sort.Strings(names)
		fmt.Fprintf(&b, "  subgraph %s {\n", "cluster_"+dotID(owner))
		fmt.Fprintf(&b, "    label=<<font point-size=\"8\" color=\"%s\">%s</font>>;\n",
			t.ClusterLabel, dotEscape(classLabel(owner)))
		fmt.Fprintf(&b, "    style=dotted; color=%q; penwidth=0.3;\n", t.ClusterBorder)
		for _, name := range names {
			writeNode(name, stripOwner(name))
		}
		b.WriteString("  }\n")
	}
	sort.Strings(loose)
	for _, name := range loose {
		b.WriteString("  ")
		writeNode(name, name)
	}
	b.WriteByte('\n')

	keys := make([]edgeKey, 0, len(edgeCount))
	for k := range edgeCount {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].from != keys[j].from {
			return keys[i].from < keys[j].from
		}
		return keys[i].to < keys[j].to
	})
	for _, k := range keys {
		attrs := fmt.Sprintf("color=%q", t.EdgeDirect)
		if count := edgeCount[k]; count > 1 {
			attrs += fmt.Sprintf(", penwidth=%.1f", 0.5+float64(count)*0.1)
		}
		fmt.Fprintf(&b, "  %s -> %s [%s];\n", dotID(k.from), dotID(k.to), attrs)
	}

	b.WriteString("}\n")
	return b.String()
}
