package pipeline

import (
	"context"
	"regexp"

	"github.com/concilia/concilia/internal/debug"
	"github.com/concilia/concilia/internal/types"
)

// numericTypeRe classifies a declared column type as numeric. Anything else
// is treated as text.
var numericTypeRe = regexp.MustCompile(`(?i)int|real|float|numeric|decimal|number`)

// NullsStep rewrites NULL and empty-string cells of one base: numeric
// columns become 0, textual columns become the literal 'NULL'. The matcher
// then joins missing composite-key cells on that literal, so this step must
// run before estorno and conciliação. Idempotent.
type NullsStep struct {
	// Fiscal selects Base B; the zero value targets Base A.
	Fiscal bool
}

func (s NullsStep) Name() string {
	if s.Fiscal {
		return StepNullsB
	}
	return StepNullsA
}

func (s NullsStep) Run(ctx context.Context, pc *Context) error {
	baseID := pc.BaseContabilID
	if s.Fiscal {
		baseID = pc.BaseFiscalID
	}

	cols, err := pc.Store.BaseColumns(ctx, baseID)
	if err != nil {
		return wrapSchemaError(err)
	}
	numeric, text := splitColumnKinds(cols)
	if len(numeric) == 0 && len(text) == 0 {
		return nil
	}

	affected, err := pc.Store.NormalizeNulls(ctx, baseID, numeric, text)
	if err != nil {
		return wrapSchemaError(err)
	}
	debug.Logf("[pipeline] job %d: normalized %d cells in base %d\n", pc.JobID, affected, baseID)
	return nil
}

// splitColumnKinds partitions base columns into numeric and textual by
// declared type, skipping the ingest bookkeeping columns.
func splitColumnKinds(cols []types.ColumnInfo) (numeric, text []string) {
	for _, col := range cols {
		switch col.Name {
		case "id", "created_at", "updated_at":
			continue
		}
		if numericTypeRe.MatchString(col.DeclaredType) {
			numeric = append(numeric, col.Name)
		} else {
			text = append(text, col.Name)
		}
	}
	return numeric, text
}
