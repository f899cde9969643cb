package render

// Theme holds colors for callgraph rendering.
type Theme struct {
	Background string
	NodeFill   string
	NodeBorder string
	TextColor  string

	// Edge colors by invoke kind.
	EdgeVirtual     string // invoke-virtual
	EdgeInterface   string // invoke-interface
	EdgeSuper       string // invoke-super
	EdgeDirect      string // invoke-direct, invoke-static
	EdgeDynamic     string // invoke-custom, invoke-polymorphic
	EdgeUnresolved  string // callee index did not resolve
	EdgeEntryAccent string // entry point border

	// Node accents.
	ExternalFill string // classes not defined in the file
	ExternalText string // external targets

	// Cluster styling.
	ClusterBorder string // subgraph cluster border
	ClusterLabel  string // subgraph cluster label text
}

// NASA is the NASA/Bauhaus theme: geometric, monochrome, sparse color.
var NASA = Theme{
	Background: "#F5F5F5",
	NodeFill:   "white",
	NodeBorder: "#1A1A1A",
	TextColor:  "#1A1A1A",

	EdgeVirtual:     "#9E9E9E", // gray
	EdgeInterface:   "#00695C", // teal
	EdgeSuper:       "#E65100", // deep orange
	EdgeDirect:      "#424242", // dark gray
	EdgeDynamic:     "#0B3D91", // NASA blue
	EdgeUnresolved:  "#FC3D21", // NASA red
	EdgeEntryAccent: "#0B3D91",

	ExternalFill: "#ECEFF1", // blue-gray 50
	ExternalText: "#9E9E9E",

	ClusterBorder: "#BDBDBD",
	ClusterLabel:  "#757575",
}
