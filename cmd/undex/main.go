package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"undex/internal/dexfmt"
	"undex/internal/session"
)

// errDegraded reports a tolerant run in which at least one unit failed.
var errDegraded = errors.New("one or more units failed to decode")

func main() {
	err := newRootCmd().Execute()
	switch {
	case err == nil:
	case errors.Is(err, errDegraded):
		fmt.Fprintf(os.Stderr, "warning: %v (see diagnostics.json)\n", err)
		os.Exit(2)
	default:
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	out            string
	strict         bool
	jobs           int
	paramRegisters bool
	verbose        bool
}

func (o *rootOptions) mode() dexfmt.Mode {
	if o.strict {
		return dexfmt.ModeStrict
	}
	return dexfmt.ModeTolerant
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "undex <file.dex|file.apk>",
		Short: "Disassemble DEX bytecode into smali",
		Long: `undex parses a DEX file, or every classes*.dex inside an APK, and writes one
.smali file per class. Classes that fail to decode are still written, with
"# error:" markers in place of the failing instructions.

Exit status is 0 when every class decoded cleanly, 2 when some classes
degraded, and 1 on a fatal error or a --strict abort.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(opts.verbose)
			if err != nil {
				return err
			}
			session.SetLogger(log)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = session.Logger().Sync()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDisasm(cmd.Context(), args[0], opts)
		},
	}

	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Debug logging")
	root.PersistentFlags().BoolVar(&opts.strict, "strict", false, "Abort on the first unit that fails to decode")
	root.Flags().StringVarP(&opts.out, "out", "o", "out", "Output directory")
	root.Flags().IntVarP(&opts.jobs, "jobs", "j", 0, "Render workers (0 = GOMAXPROCS)")
	root.Flags().BoolVar(&opts.paramRegisters, "param-registers", false, "Name parameter registers pN and emit .locals")

	root.AddCommand(newInfoCmd())
	root.AddCommand(newGraphCmd(opts))
	return root
}

// logFields are attached to every per-input log line.
func logFields(in dexInput) []zap.Field {
	return []zap.Field{zap.String("input", in.Name), zap.Int("bytes", len(in.Data))}
}
