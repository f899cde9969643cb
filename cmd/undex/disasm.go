package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"undex/internal/output"
	"undex/internal/session"
	"undex/internal/smali"
)

// disasmStats summarises one run over all inputs.
type disasmStats struct {
	classes  int
	degraded int
	written  int
}

func runDisasm(ctx context.Context, path string, opts *rootOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log := session.Logger()
	inputs, err := loadInputs(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(opts.out, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", opts.out, err)
	}

	var (
		stats  disasmStats
		diags  []output.ClassDiagnostics
		runErr error
	)
	for _, in := range inputs {
		log.Info("disassembling", logFields(in)...)
		s, err := session.Open(in.Data, session.Options{
			Mode:   opts.mode(),
			Render: smali.Options{ParamRegisters: opts.paramRegisters},
			Jobs:   opts.jobs,
		})
		if err != nil {
			runErr = fmt.Errorf("%s: %w", in.Name, err)
			break
		}
		dir := filepath.Join(opts.out, in.Dir)
		err = s.RenderParallel(ctx, func(i int, cls *smali.Class) error {
			stats.classes++
			if len(cls.Diags) > 0 {
				name := ""
				if in.Dir != "" {
					name = in.Name
				}
				diags = append(diags, output.NewClassDiagnostics(name, i, cls.Descriptor, cls.Diags))
			}
			if cls.Degraded() {
				stats.degraded++
			}
			if _, err := output.WriteSmali(dir, cls.Descriptor, cls.Text); err != nil {
				return err
			}
			stats.written++
			return nil
		})
		if err != nil {
			runErr = fmt.Errorf("%s: %w", in.Name, err)
			break
		}
	}

	if err := output.WriteDiagnosticsJSON(opts.out, diags); err != nil && runErr == nil {
		runErr = err
	}
	log.Info("done",
		zap.String("out", opts.out),
		zap.Int("classes", stats.classes),
		zap.Int("written", stats.written),
		zap.Int("degraded", stats.degraded))
	if runErr != nil {
		return runErr
	}
	if stats.degraded > 0 {
		return fmt.Errorf("%d of %d classes: %w", stats.degraded, stats.classes, errDegraded)
	}
	return nil
}
