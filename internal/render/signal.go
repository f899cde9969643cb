package render

import (
	"fmt"
	"sort"
	"strings"

	"undex/internal/signal"
)

const maxStringsPerMethod = 5

// severityAttrs returns node attributes for a signal method.
func severityAttrs(sev string) string {
	switch sev {
	case signal.SeverityHigh:
		return `fillcolor="#FCE4EC", color="#C62828", penwidth=1.5, fontcolor="#C62828"`
	case signal.SeverityMedium:
		return `fillcolor="#FFF3E0", color="#E65100", penwidth=1.2, fontcolor="#E65100"`
	default:
		return `fillcolor="#E3F2FD", color="#1565C0", penwidth=1.0`
	}
}

// stringColor picks the leaf color for a literal by its first category.
func stringColor(cats []string) string {
	if len(cats) == 0 {
		return "#C2185B"
	}
	switch signal.CategorySeverity(cats[0]) {
	case signal.SeverityHigh:
		return "#C62828"
	case signal.SeverityMedium:
		return "#0B3D91"
	}
	return "#C2185B"
}

// SignalDOT renders the signal and context methods of g. Signal methods are
// colored by severity and list their categories; their classified string
// literals hang off them as leaves and the tracked APIs they call appear
// as plaintext nodes. Entry points get the accent border.
func SignalDOT(g *signal.SignalGraph, title string, t Theme) string {
	nodes := make(map[string]*signal.SignalMethod)
	for i := range g.Methods {
		if m := &g.Methods[i]; m.Role != "" {
			nodes[m.Name] = m
		}
	}
	apis := make(map[string]string) // target → category
	for _, m := range nodes {
		for _, c := range m.APICalls {
			if _, ok := nodes[c.Target]; !ok {
				apis[c.Target] = c.Category
			}
		}
	}
	shown := func(name string) bool {
		_, isMethod := nodes[name]
		_, isAPI := apis[name]
		return isMethod || isAPI
	}

	var b strings.Builder
	b.WriteString("digraph signal {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  compound=true;\n")
	b.WriteString("  splines=true;\n")
	b.WriteString("  nodesep=0.3;\n")
	b.WriteString("  ranksep=0.5;\n")
	fmt.Fprintf(&b, "  bgcolor=%q;\n", t.Background)
	fmt.Fprintf(&b, "  node [shape=rect, style=filled, fillcolor=%q, color=%q, penwidth=0.5, fontname=\"Helvetica Neue,Helvetica,Arial\", fontsize=9, fontcolor=%q, height=0.3, margin=\"0.10,0.05\"];\n",
		t.NodeFill, t.NodeBorder, t.TextColor)
	fmt.Fprintf(&b, "  edge [penwidth=0.6, arrowsize=0.5, arrowhead=vee, color=%q];\n", t.EdgeDirect)
	writeTitle(&b, title, t)
	b.WriteByte('\n')

	writeNode := func(indent string, m *signal.SignalMethod) {
		label := truncLabel(stripOwner(m.Name), 40)
		var attrs string
		switch {
		case m.Role == signal.RoleSignal:
			attrs = ", " + severityAttrs(m.Severity)
			if len(m.Categories) > 0 {
				label += "\\n" + truncLabel(strings.Join(m.Categories, ","), 33)
			}
		case m.IsEntryPoint:
			attrs = fmt.Sprintf(", color=%q, penwidth=1.2", t.EdgeEntryAccent)
		default:
			attrs = `, fillcolor="#F5F5F5", color="#BDBDBD", fontcolor="#757575"`
		}
		fmt.Fprintf(&b, "%s%s [label=%q%s];\n", indent, dotID(m.Name), label, attrs)
	}

	byOwner := make(map[string][]string)
	for name, m := range nodes {
		byOwner[m.Class] = append(byOwner[m.Class], name)
	}
	var loose []string
	for _, owner := range sortedKeys(byOwner) {
		names := byOwner[owner]
		sort.Strings(names)
		if len(names) < 2 {
			loose = append(loose, names...)
			continue
		}
		fmt.Fprintf(&b, "  subgraph cluster_%s {\n", dotID(owner))
		fmt.Fprintf(&b, "    label=<<font point-size=\"8\" color=\"%s\">%s</font>>;\n",
			t.ClusterLabel, dotEscape(classLabel(owner)))
		fmt.Fprintf(&b, "    style=dotted; color=%q; penwidth=0.3;\n", t.ClusterBorder)
		for _, name := range names {
			writeNode("    ", nodes[name])
		}
		b.WriteString("  }\n")
	}
	sort.Strings(loose)
	for _, name := range loose {
		writeNode("  ", nodes[name])
	}

	for _, target := range sortedKeys(apis) {
		fmt.Fprintf(&b, "  %s [shape=plaintext, style=\"\", fontcolor=%q, label=%q];\n",
			dotID(target), t.ExternalText, truncLabel(classLabel(ownerOf(target))+"."+stripOwner(target), 50)+"\\n"+apis[target])
	}
	b.WriteByte('\n')

	// String literal leaves, capped per method.
	var strEdges []string
	leaf := 0
	for _, name := range sortedKeys(nodes) {
		m := nodes[name]
		if m.Role != signal.RoleSignal {
			continue
		}
		var uniq []signal.ClassifiedString
		seen := make(map[string]bool)
		for _, s := range m.Strings {
			if !seen[s.Value] {
				seen[s.Value] = true
				uniq = append(uniq, s)
			}
		}
		for i, s := range uniq {
			if i == maxStringsPerMethod {
				id := fmt.Sprintf("str_%d", leaf)
				leaf++
				fmt.Fprintf(&b, "  %s [shape=plaintext, style=\"\", fontsize=7, fontcolor=%q, label=\"+%d more\"];\n", id, t.ExternalText, len(uniq)-i)
				strEdges = append(strEdges, fmt.Sprintf("  %s -> %s [style=invis];\n", dotID(name), id))
				break
			}
			id := fmt.Sprintf("str_%d", leaf)
			leaf++
			color := stringColor(s.Categories)
			fmt.Fprintf(&b, "  %s [shape=rect, style=\"filled,rounded\", fillcolor=\"#FFF8E1\", color=%q, penwidth=0.3, fontsize=7, fontcolor=%q, fontname=\"Courier,monospace\", margin=\"0.06,0.03\", height=0.2, label=%q];\n",
				id, color, color, truncLabel(s.Value, 60))
			strEdges = append(strEdges, fmt.Sprintf("  %s -> %s [style=dotted, arrowsize=0.3, penwidth=0.4, color=%q];\n", dotID(name), id, color))
		}
	}

	type pair struct{ from, to string }
	var calls []pair
	seen := make(map[pair]bool)
	for _, e := range g.Edges {
		p := pair{e.From, e.To}
		if e.From == e.To || seen[p] || !shown(e.From) || !shown(e.To) {
			continue
		}
		seen[p] = true
		calls = append(calls, p)
	}
	sort.Slice(calls, func(i, j int) bool {
		if calls[i].from != calls[j].from {
			return calls[i].from < calls[j].from
		}
		return calls[i].to < calls[j].to
	})
	for _, c := range calls {
		attrs := fmt.Sprintf("color=%q", t.EdgeDirect)
		if m, ok := nodes[c.to]; ok && m.Role == signal.RoleSignal {
			attrs = fmt.Sprintf("color=%q, penwidth=1.0", t.EdgeUnresolved)
		} else if _, ok := apis[c.to]; ok {
			attrs = fmt.Sprintf("color=%q, style=dashed", t.EdgeDynamic)
		}
		fmt.Fprintf(&b, "  %s -> %s [%s];\n", dotID(c.from), dotID(c.to), attrs)
	}
	for _, e := range strEdges {
		b.WriteString(e)
	}

	b.WriteString("}\n")
	return b.String()
}
