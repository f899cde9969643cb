package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
	latrender "github.com/zboralski/lattice/render"
	"go.uber.org/zap"

	"undex/internal/callgraph"
	"undex/internal/output"
	"undex/internal/render"
	"undex/internal/session"
	"undex/internal/signal"
)

type graphOptions struct {
	out      string
	title    string
	maxNodes int
	hops     int
}

func newGraphCmd(root *rootOptions) *cobra.Command {
	opts := &graphOptions{}
	cmd := &cobra.Command{
		Use:   "graph <file.dex|file.apk>",
		Short: "Write call graphs as DOT plus methods and call edges as JSONL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGraph(args[0], root, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.out, "out", "o", "out", "Output directory")
	cmd.Flags().StringVar(&opts.title, "title", "undex", "Graph title")
	cmd.Flags().IntVar(&opts.maxNodes, "max-nodes", 0, "Max method nodes in callgraph (0 = all)")
	cmd.Flags().IntVarP(&opts.hops, "k", "k", 2, "Context hops from signal methods")
	return cmd
}

func runGraph(path string, root *rootOptions, opts *graphOptions) error {
	log := session.Logger()
	inputs, err := loadInputs(path)
	if err != nil {
		return err
	}

	var methods []callgraph.MethodInfo
	for _, in := range inputs {
		log.Info("collecting", logFields(in)...)
		s, err := session.Open(in.Data, session.Options{Mode: root.mode()})
		if err != nil {
			return fmt.Errorf("%s: %w", in.Name, err)
		}
		ms, err := callgraph.Collect(s)
		if err != nil {
			return fmt.Errorf("%s: %w", in.Name, err)
		}
		methods = append(methods, ms...)
	}

	recs, edges := callgraph.Records(methods)
	strs := callgraph.StringRecords(methods)
	if err := os.MkdirAll(opts.out, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", opts.out, err)
	}
	if err := output.WriteJSONL(opts.out, "methods.jsonl", recs); err != nil {
		return err
	}
	if err := output.WriteJSONL(opts.out, "call_edges.jsonl", edges); err != nil {
		return err
	}
	if err := output.WriteJSONL(opts.out, "string_refs.jsonl", strs); err != nil {
		return err
	}

	files := []struct {
		name, dot string
	}{
		{"callgraph.dot", latrender.DOT(callgraph.BuildCallGraph(methods), opts.title)},
		{"summary.dot", latrender.DOTCFG(callgraph.BuildSummaryCFG(methods), opts.title+" (summary)")},
		{"calls.dot", render.CallgraphDOT(recs, edges, opts.title, render.NASA, opts.maxNodes)},
		{"classgraph.dot", render.ClassgraphDOT(recs, edges, opts.title+" (class level)", render.NASA, opts.maxNodes)},
	}
	entryPoints := render.FindEntryPoints(recs, edges)
	reachable := render.ReachableSet(entryPoints, edges)
	entrySet := make(map[string]bool, len(entryPoints))
	for _, ep := range entryPoints {
		entrySet[ep] = true
	}
	sg := signal.BuildSignalGraph(recs, edges, strs, opts.hops, entrySet)
	if err := output.WriteJSON(opts.out, "signal.json", sg); err != nil {
		return err
	}
	files = append(files,
		struct{ name, dot string }{"reachable.dot", render.ReachabilityDOT(recs, edges, reachable, entryPoints, opts.title+" (reachable)", render.NASA)},
		struct{ name, dot string }{"signal.dot", render.SignalDOT(sg, opts.title+" (signal)", render.NASA)},
	)
	for _, f := range files {
		if err := output.WriteDOT(opts.out, f.name, f.dot); err != nil {
			return err
		}
		log.Debug("wrote", zap.String("file", f.name), zap.Int("bytes", len(f.dot)))
	}

	stats := render.ComputeStats(recs, edges)
	log.Info("graph",
		zap.String("out", opts.out),
		zap.Int("methods", stats.TotalMethods),
		zap.Int("edges", stats.TotalEdges),
		zap.Int("unresolved", stats.Unresolved),
		zap.Int("external", stats.External),
		zap.Int("classes", stats.UniqueOwners),
		zap.Int("entry_points", len(entryPoints)),
		zap.Int("reachable", len(reachable)),
		zap.Int("signal", sg.Stats.SignalMethods),
		zap.Int("context", sg.Stats.ContextMethods))
	for _, cat := range sortedCategories(sg.Stats.Categories) {
		log.Debug("signal category", zap.String("category", cat), zap.Int("methods", sg.Stats.Categories[cat]))
	}
	return nil
}

func sortedCategories(m map[string]int) []string {
	cats := make([]string, 0, len(m))
	for c := range m {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	return cats
}
