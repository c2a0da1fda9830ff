package model

import "github.com/jackc/pglogrepl"

// LSN is a 64-bit monotonically non-decreasing log sequence number. Zero
// means "never advanced".
type LSN = pglogrepl.LSN

// TableId is the opaque identifier PostgreSQL assigns to a relation.
type TableId uint32

// TableName is a (schema, name) pair of non-empty identifiers.
type TableName struct {
	Schema string
	Name   string
}

func (t TableName) String() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// TableNamesFrom selects tables either by explicit list or by publication
// membership. Closed tagged union: exactly one field is meaningful,
// discriminated by Kind.
type TableNamesFromKind int

const (
	FromList TableNamesFromKind = iota
	FromPublication
)

type TableNamesFrom struct {
	Kind        TableNamesFromKind
	List        []TableName
	Publication string
}

func NewTableNamesFromList(names []TableName) TableNamesFrom {
	return TableNamesFrom{Kind: FromList, List: names}
}

func NewTableNamesFromPublication(publication string) TableNamesFrom {
	return TableNamesFrom{Kind: FromPublication, Publication: publication}
}
