// Package render produces Graphviz DOT output from undex method and call
// edge records.
package render

import (
	"fmt"
	"strings"

	"undex/internal/dex"
)

// dotEscape escapes a string for use in DOT HTML labels.
func dotEscape(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	return s
}

// dotID creates a safe DOT identifier from a method or class name.
func dotID(name string) string {
	var b strings.Builder
	b.WriteString("n_")
	for _, c := range name {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			b.WriteRune(c)
		} else {
			fmt.Fprintf(&b, "_%04x", c)
		}
	}
	return b.String()
}

// ownerOf returns the class descriptor of a method reference.
// "Lcom/ex/A;->run()V" → "Lcom/ex/A;". Call site targets have no owner.
func ownerOf(method string) string {
	if strings.HasPrefix(method, "call_site_") {
		return ""
	}
	owner, _, ok := strings.Cut(method, "->")
	if !ok {
		return ""
	}
	return owner
}

// stripOwner removes the owner prefix from a method reference.
// "Lcom/ex/A;->run()V" → "run()V".
func stripOwner(method string) string {
	if _, rest, ok := strings.Cut(method, "->"); ok {
		return rest
	}
	return method
}

// classLabel shortens a class descriptor to its dotted display form.
// "Lcom/ex/A$B;" → "com.ex.A$B", "[I" → "int[]".
func classLabel(desc string) string {
	if name, err := dex.DisplayName(desc); err == nil {
		return name
	}
	s := strings.TrimSuffix(strings.TrimPrefix(desc, "L"), ";")
	return strings.ReplaceAll(s, "/", ".")
}

// truncLabel shortens a label to maxLen, appending "..." if truncated.
func truncLabel(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
