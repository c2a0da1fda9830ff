package model

import "time"

// CdcEventKind discriminates the CdcEvent tagged union (§3).
type CdcEventKind int

const (
	EventBegin CdcEventKind = iota
	EventCommit
	EventRelation
	EventInsert
	EventUpdate
	EventDelete
	EventType
	EventTruncate
	EventKeepAliveRequested
)

func (k CdcEventKind) String() string {
	switch k {
	case EventBegin:
		return "Begin"
	case EventCommit:
		return "Commit"
	case EventRelation:
		return "Relation"
	case EventInsert:
		return "Insert"
	case EventUpdate:
		return "Update"
	case EventDelete:
		return "Delete"
	case EventType:
		return "Type"
	case EventTruncate:
		return "Truncate"
	case EventKeepAliveRequested:
		return "KeepAliveRequested"
	default:
		return "Unknown"
	}
}

// TruncateOptions carries the flags PostgreSQL attaches to a TRUNCATE
// logical message (CASCADE / RESTART IDENTITY).
type TruncateOptions struct {
	Cascade        bool
	RestartIdentity bool
}

// CdcEvent is the tagged union a Source emits during the stream phase.
// Exactly the fields relevant to Kind are populated, covering Begin,
// Insert/Update/Delete, Truncate, Commit, Relation (table schema), Type
// (user-defined type metadata), and KeepAliveRequested.
type CdcEvent struct {
	Kind CdcEventKind

	// Begin
	FinalLSN LSN
	XID      uint32

	// Commit
	Flags     uint8
	CommitLSN LSN
	EndLSN    LSN

	// shared timestamp for Begin/Commit/KeepAlive (left zero for other kinds)
	Timestamp time.Time

	// Relation
	Schema *TableSchema

	// Insert/Update/Delete
	TableId TableId
	OldRow  *TableRow
	NewRow  *TableRow

	// Update/Delete: columns whose wire value was an unchanged-TOAST
	// placeholder rather than real data (§4.E toast merge). Empty when
	// every column decoded to a real value.
	UnchangedToastColumns []string

	// Type
	TypeOID       uint32
	TypeNamespace string
	TypeName      string

	// Truncate
	TableIds        []TableId
	TruncateOptions TruncateOptions

	// KeepAliveRequested
	WalEnd         LSN
	ReplyRequested bool
}

func BeginEvent(finalLSN LSN, ts time.Time, xid uint32) CdcEvent {
	return CdcEvent{Kind: EventBegin, FinalLSN: finalLSN, Timestamp: ts, XID: xid}
}

func CommitEvent(flags uint8, commitLSN, endLSN LSN, ts time.Time) CdcEvent {
	return CdcEvent{Kind: EventCommit, Flags: flags, CommitLSN: commitLSN, EndLSN: endLSN, Timestamp: ts}
}

func RelationEvent(schema *TableSchema) CdcEvent {
	return CdcEvent{Kind: EventRelation, Schema: schema}
}

func InsertEvent(tableID TableId, row TableRow) CdcEvent {
	return CdcEvent{Kind: EventInsert, TableId: tableID, NewRow: &row}
}

func UpdateEvent(tableID TableId, oldRow *TableRow, newRow TableRow, unchangedToast []string) CdcEvent {
	return CdcEvent{Kind: EventUpdate, TableId: tableID, OldRow: oldRow, NewRow: &newRow, UnchangedToastColumns: unchangedToast}
}

func DeleteEvent(tableID TableId, oldRow TableRow, unchangedToast []string) CdcEvent {
	return CdcEvent{Kind: EventDelete, TableId: tableID, OldRow: &oldRow, UnchangedToastColumns: unchangedToast}
}

func TypeEvent(oid uint32, namespace, name string) CdcEvent {
	return CdcEvent{Kind: EventType, TypeOID: oid, TypeNamespace: namespace, TypeName: name}
}

func TruncateEvent(tableIDs []TableId, opts TruncateOptions) CdcEvent {
	return CdcEvent{Kind: EventTruncate, TableIds: tableIDs, TruncateOptions: opts}
}

func KeepAliveEvent(walEnd LSN, ts time.Time, replyRequested bool) CdcEvent {
	return CdcEvent{Kind: EventKeepAliveRequested, WalEnd: walEnd, Timestamp: ts, ReplyRequested: replyRequested}
}

// PipelineAction selects which phases a pipeline run performs.
type PipelineAction int

const (
	TableCopiesOnly PipelineAction = iota
	CdcOnly
	Both
)

func (a PipelineAction) IncludesCopy() bool   { return a == TableCopiesOnly || a == Both }
func (a PipelineAction) IncludesStream() bool { return a == CdcOnly || a == Both }

// BatchConfig bounds the batcher's size and age triggers (§4.E).
type BatchConfig struct {
	MaxSize int
	MaxFill time.Duration
}

// ResumptionState is what a Sink reports at startup (§4.D get_resumption_state).
type ResumptionState struct {
	LastLSN      LSN
	CopiedTables map[TableId]bool
}
