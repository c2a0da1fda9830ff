package model

// ColumnSchema describes one column of a TableSchema. Identity marks
// membership in the replica identity (primary key for update/delete
// matching).
type ColumnSchema struct {
	Name     string
	Type     uint32 // upstream PostgreSQL type OID
	Modifier int32  // upstream atttypmod
	Nullable bool
	Identity bool
}

// TableSchema is the neutral representation of a replicated table. Column
// order is significant: it defines positional binding in TableRow.
type TableSchema struct {
	TableId   TableId
	TableName TableName
	Columns   []ColumnSchema
}

// HasIdentity reports whether the schema carries at least one identity
// column, required for Update/Delete application.
func (s *TableSchema) HasIdentity() bool {
	for _, c := range s.Columns {
		if c.Identity {
			return true
		}
	}
	return false
}

// ColumnIndex returns the positional index of the named column, or -1.
func (s *TableSchema) ColumnIndex(name string) int {
	for i, c := range s.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy, used when a Relation bulletin replaces a
// schema in place without aliasing the previous columns slice.
func (s *TableSchema) Clone() *TableSchema {
	cols := make([]ColumnSchema, len(s.Columns))
	copy(cols, s.Columns)
	return &TableSchema{TableId: s.TableId, TableName: s.TableName, Columns: cols}
}
