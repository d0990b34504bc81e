package runtime

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/playperu/snapbooth/internal/booth"
)

// CompileCondition compiles a skipIf expression. Expressions see a single
// variable, answers, mapping step ids to decoded response data.
func CompileCondition(src string) (*vm.Program, error) {
	env := map[string]any{"answers": map[string]any{}}
	program, err := expr.Compile(strings.TrimSpace(src), expr.Env(env), expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile condition %q: %w", src, err)
	}
	return program, nil
}

type conditions struct {
	programs map[string]*vm.Program
	logger   *slog.Logger
}

func newConditions(steps []booth.Step, logger *slog.Logger) *conditions {
	c := &conditions{programs: make(map[string]*vm.Program), logger: logger}
	for _, s := range steps {
		if strings.TrimSpace(s.SkipIf) == "" {
			continue
		}
		p, err := CompileCondition(s.SkipIf)
		if err != nil {
			logger.Warn("ignoring invalid skip condition", "step", s.ID, "error", err)
			continue
		}
		c.programs[s.ID] = p
	}
	return c
}

// skipped reports whether step should be passed over. Evaluation errors
// leave the step visible.
func (c *conditions) skipped(step booth.Step, answers map[string]any) bool {
	p, ok := c.programs[step.ID]
	if !ok {
		return false
	}
	out, err := expr.Run(p, map[string]any{"answers": answers})
	if err != nil {
		c.logger.Warn("skip condition failed", "step", step.ID, "error", err)
		return false
	}
	skip, _ := out.(bool)
	return skip
}
