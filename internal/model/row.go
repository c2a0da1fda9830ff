package model

import "fmt"

// TableRow is an ordered list of Cell with the same length and positional
// alignment as its TableSchema.Columns.
type TableRow struct {
	Cells []Cell
}

// Validate checks row against schema per §4.C. kindForOID classifies an
// upstream type OID into the Cell variant it must decode to; callers pass
// internal/convert.KindForOID so model has no dependency on the conversion
// policy package.
func (r TableRow) Validate(schema *TableSchema, kindForOID func(oid uint32) CellKind) error {
	if len(r.Cells) != len(schema.Columns) {
		return &LengthMismatchError{Expected: len(schema.Columns), Got: len(r.Cells)}
	}
	if kindForOID == nil {
		return nil
	}
	for i, c := range r.Cells {
		if c.Kind == CellNull {
			continue
		}
		if c.Kind != kindForOID(schema.Columns[i].Type) {
			return &TypeMismatchError{Column: schema.Columns[i].Name}
		}
	}
	return nil
}

type LengthMismatchError struct {
	Expected, Got int
}

func (e *LengthMismatchError) Error() string {
	return fmt.Sprintf("row length mismatch: expected %d columns, got %d", e.Expected, e.Got)
}

type TypeMismatchError struct {
	Column string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("type mismatch at column %q", e.Column)
}
