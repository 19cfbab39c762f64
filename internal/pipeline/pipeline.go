// Package pipeline implements the reconciliation pipeline: five ordered
// steps that normalize base data, neutralize estorno pairs, suppress
// cancelled fiscal rows and finally match the two bases into a per-job
// result table.
//
// Steps run strictly in declared order. Nulls normalization must precede
// estorno and matching (composite keys join on the literal 'NULL' produced
// for missing cells), and estorno/cancelamento marks must land before the
// matcher reads them.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/concilia/concilia/internal/debug"
)

// Step names, as reported to the stage hook.
const (
	StepNullsA       = "NullsBaseA"
	StepEstorno      = "EstornoBaseA"
	StepNullsB       = "NullsBaseB"
	StepCancelamento = "CancelamentoBaseB"
	StepConciliacao  = "ConciliacaoAB"
)

// ErrConfig marks missing or malformed configuration: unknown config ids,
// incompatible base types, column names absent from a base. Fatal for the job.
var ErrConfig = errors.New("configuration error")

// ErrSchema marks a missing required table. Fatal for the job; the message
// carries the remediation hint.
var ErrSchema = errors.New("schema error")

// Step is one pipeline stage. Run must be idempotent for the mark-writing
// steps (estorno, cancelamento) and for nulls normalization.
type Step interface {
	Name() string
	Run(ctx context.Context, pc *Context) error
}

// Pipeline executes steps sequentially, aborting on the first error.
type Pipeline struct {
	steps []Step
}

// New builds a pipeline over the given steps.
func New(steps ...Step) *Pipeline {
	return &Pipeline{steps: steps}
}

// Default returns the five-step reconciliation pipeline in its mandatory
// order.
func Default() *Pipeline {
	return New(
		NullsStep{},
		EstornoStep{},
		NullsStep{Fiscal: true},
		CancelamentoStep{},
		ConciliacaoStep{},
	)
}

// Len returns the number of steps.
func (p *Pipeline) Len() int {
	return len(p.steps)
}

// Run invokes the steps in order against the context. Before each step the
// optional ReportStage hook is called with the step name, its 0-based index
// and the total step count. The first step error aborts the remainder and is
// returned wrapped with the step name.
func (p *Pipeline) Run(ctx context.Context, pc *Context) error {
	total := len(p.steps)
	for i, step := range p.steps {
		if pc.ReportStage != nil {
			pc.ReportStage(step.Name(), i, total)
		}
		debug.Logf("[pipeline] job %d step %d/%d: %s\n", pc.JobID, i+1, total, step.Name())
		if err := step.Run(ctx, pc); err != nil {
			return fmt.Errorf("%s: %w", step.Name(), err)
		}
	}
	return nil
}

// wrapSchemaError folds "no such table" storage failures into ErrSchema with
// the remediation hint; everything else passes through unchanged.
func wrapSchemaError(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(strings.ToLower(err.Error()), "no such table") {
		return fmt.Errorf("%w: %v (run 'concilia init' to create the schema)", ErrSchema, err)
	}
	return err
}
