package source

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"

	"github.com/jfoltran/pgsink/internal/model"
	"github.com/jfoltran/pgsink/internal/wiredecode"
)

// GetCDCStream starts replication at the larger of startLSN and the slot's
// own restart_lsn and emits a neutral model.CdcEvent per wire message,
// including Truncate and relation-Type (schema) decoding alongside the
// usual Insert/Update/Delete/Commit set.
func (s *PostgresSource) GetCDCStream(ctx context.Context, startLSN model.LSN) (<-chan model.CdcEvent, error) {
	effectiveStart := s.StartLSN(startLSN)

	err := pglogrepl.StartReplication(ctx, s.replConn, s.slotName, effectiveStart,
		pglogrepl.StartReplicationOptions{
			PluginArgs: []string{
				"proto_version '1'",
				fmt.Sprintf("publication_names '%s'", s.cfg.Publication),
				"binary 'true'",
			},
		})
	if err != nil {
		return nil, &model.ConnectionError{Reason: "start replication", Err: err}
	}

	if err := s.setState(Streaming); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.confirmedLSN = effectiveStart
	s.mu.Unlock()

	ch := make(chan model.CdcEvent, 4096)
	ctx, s.cancel = context.WithCancel(ctx)
	go s.receiveLoop(ctx, ch)
	return ch, nil
}

func (s *PostgresSource) receiveLoop(ctx context.Context, ch chan<- model.CdcEvent) {
	defer close(ch)
	defer close(s.done)

	const standbyInterval = 1 * time.Second
	const recvTimeout = 2 * time.Second
	lastStatus := time.Now()

	setErr := func(err error) {
		s.mu.Lock()
		s.loopErr = err
		s.mu.Unlock()
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if time.Since(lastStatus) >= standbyInterval {
			if err := s.replyStatus(ctx); err != nil {
				s.logger.Err(err).Msg("standby status failed")
			}
			lastStatus = time.Now()
		}

		recvCtx, cancel := context.WithDeadline(ctx, time.Now().Add(recvTimeout))
		rawMsg, err := s.replConn.ReceiveMessage(recvCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if pgconn.Timeout(err) {
				continue
			}
			setErr(&model.ConnectionError{Reason: "receive replication message", Err: err})
			return
		}

		if errResp, ok := rawMsg.(*pgproto3.ErrorResponse); ok {
			setErr(&model.ConnectionError{Reason: fmt.Sprintf("server error %s: %s", errResp.Code, errResp.Message)})
			return
		}

		copyData, ok := rawMsg.(*pgproto3.CopyData)
		if !ok || len(copyData.Data) == 0 {
			continue
		}

		switch copyData.Data[0] {
		case pglogrepl.PrimaryKeepaliveMessageByteID:
			pkm, err := pglogrepl.ParsePrimaryKeepaliveMessage(copyData.Data[1:])
			if err != nil {
				s.logger.Err(err).Msg("parse keepalive")
				continue
			}
			s.mu.Lock()
			if pglogrepl.LSN(pkm.ServerWALEnd) > s.serverWALEnd {
				s.serverWALEnd = pglogrepl.LSN(pkm.ServerWALEnd)
			}
			s.mu.Unlock()

			s.emit(ctx, ch, model.KeepAliveEvent(pglogrepl.LSN(pkm.ServerWALEnd), pkm.ServerTime, pkm.ReplyRequested))
			if pkm.ReplyRequested {
				if err := s.replyStatus(ctx); err != nil {
					s.logger.Err(err).Msg("keepalive reply failed")
				}
				lastStatus = time.Now()
			}

		case pglogrepl.XLogDataByteID:
			xld, err := pglogrepl.ParseXLogData(copyData.Data[1:])
			if err != nil {
				s.logger.Err(err).Msg("parse xlogdata")
				continue
			}
			s.mu.Lock()
			if pglogrepl.LSN(xld.ServerWALEnd) > s.serverWALEnd {
				s.serverWALEnd = pglogrepl.LSN(xld.ServerWALEnd)
			}
			s.mu.Unlock()
			s.decodeWALData(ctx, ch, xld)
		}
	}
}

func (s *PostgresSource) decodeWALData(ctx context.Context, ch chan<- model.CdcEvent, xld pglogrepl.XLogData) {
	logicalMsg, err := pglogrepl.Parse(xld.WALData)
	if err != nil {
		s.mu.Lock()
		s.loopErr = &model.DecodeError{Reason: "parse WAL data", Err: err}
		s.mu.Unlock()
		return
	}

	switch msg := logicalMsg.(type) {
	case *pglogrepl.BeginMessage:
		s.emit(ctx, ch, model.BeginEvent(pglogrepl.LSN(msg.FinalLSN), msg.CommitTime, msg.Xid))

	case *pglogrepl.CommitMessage:
		s.emit(ctx, ch, model.CommitEvent(msg.Flags, pglogrepl.LSN(msg.CommitLSN), pglogrepl.LSN(msg.TransactionEndLSN), msg.CommitTime))

	case *pglogrepl.RelationMessage:
		schema := s.relationToSchema(msg)
		s.mu.Lock()
		s.relations[model.TableId(msg.RelationID)] = schema
		s.mu.Unlock()
		s.emit(ctx, ch, model.RelationEvent(schema))

	case *pglogrepl.TypeMessage:
		s.emit(ctx, ch, model.TypeEvent(msg.DataType, msg.Namespace, msg.Name))

	case *pglogrepl.InsertMessage:
		schema := s.lookupRelation(msg.RelationID)
		if schema == nil {
			return
		}
		row, _, err := decodeTupleOrGap(msg.Tuple, schema)
		if err != nil {
			s.logger.Err(err).Uint32("table_id", msg.RelationID).Msg("decode error")
			return
		}
		s.emit(ctx, ch, model.InsertEvent(schema.TableId, row))

	case *pglogrepl.UpdateMessage:
		schema := s.lookupRelation(msg.RelationID)
		if schema == nil {
			return
		}
		newRow, unchanged, err := decodeTupleOrGap(msg.NewTuple, schema)
		if err != nil {
			s.logger.Err(err).Uint32("table_id", msg.RelationID).Msg("decode error")
			return
		}
		var oldRow *model.TableRow
		if msg.OldTuple != nil {
			r, _, err := decodeTupleOrGap(msg.OldTuple, schema)
			if err != nil {
				s.logger.Err(err).Uint32("table_id", msg.RelationID).Msg("decode error")
				return
			}
			oldRow = &r
		}
		s.emit(ctx, ch, model.UpdateEvent(schema.TableId, oldRow, newRow, unchanged))

	case *pglogrepl.DeleteMessage:
		schema := s.lookupRelation(msg.RelationID)
		if schema == nil {
			return
		}
		oldRow, unchanged, err := decodeTupleOrGap(msg.OldTuple, schema)
		if err != nil {
			s.logger.Err(err).Uint32("table_id", msg.RelationID).Msg("decode error")
			return
		}
		s.emit(ctx, ch, model.DeleteEvent(schema.TableId, oldRow, unchanged))

	case *pglogrepl.TruncateMessage:
		ids := make([]model.TableId, len(msg.RelationIDs))
		for i, r := range msg.RelationIDs {
			ids[i] = model.TableId(r)
		}
		const cascadeBit = 0x1
		const restartIdentityBit = 0x2
		s.emit(ctx, ch, model.TruncateEvent(ids, model.TruncateOptions{
			Cascade:         msg.Option&cascadeBit != 0,
			RestartIdentity: msg.Option&restartIdentityBit != 0,
		}))

	case *pglogrepl.OriginMessage:
		// Origin precedes the change it annotates and carries no row data
		// of its own; loop-prevention is moot here since a pgsink pipeline
		// is one-directional.
	}
}

func (s *PostgresSource) relationToSchema(msg *pglogrepl.RelationMessage) *model.TableSchema {
	tableID := model.TableId(msg.RelationID)

	s.mu.Lock()
	prev := s.relations[tableID]
	s.mu.Unlock()

	identity := map[string]bool{}
	if prev != nil {
		for _, c := range prev.Columns {
			if c.Identity {
				identity[c.Name] = true
			}
		}
	}

	cols := make([]model.ColumnSchema, len(msg.Columns))
	for i, c := range msg.Columns {
		cols[i] = model.ColumnSchema{
			Name:     c.Name,
			Type:     c.DataType,
			Modifier: c.TypeModifier,
			Identity: c.Flags == 1 || identity[c.Name],
		}
	}
	return &model.TableSchema{
		TableId:   tableID,
		TableName: model.TableName{Schema: msg.Namespace, Name: msg.RelationName},
		Columns:   cols,
	}
}

func (s *PostgresSource) lookupRelation(relationID uint32) *model.TableSchema {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.relations[model.TableId(relationID)]
}

// decodeTupleOrGap decodes a wire tuple, returning the names of any columns
// whose value was an unchanged-TOAST placeholder. The pipeline engine's
// toast merger fills those in from old_row (see internal/pipeline/toast.go);
// the decoder itself never sees old_row, so it cannot resolve them.
func decodeTupleOrGap(tuple *pglogrepl.TupleData, schema *model.TableSchema) (model.TableRow, []string, error) {
	if tuple == nil {
		return model.TableRow{}, nil, nil
	}
	raw := make([]wiredecode.RawColumn, len(tuple.Columns))
	for i, c := range tuple.Columns {
		kind := byte('b')
		switch {
		case c.DataType == 'n':
			kind = 'n'
		case c.DataType == 'u':
			kind = 'u'
		case c.DataType == 't':
			kind = 't'
		}
		raw[i] = wiredecode.RawColumn{Kind: kind, Data: c.Data}
	}
	return wiredecode.DecodeTuple(raw, schema.Columns)
}

func (s *PostgresSource) emit(ctx context.Context, ch chan<- model.CdcEvent, ev model.CdcEvent) {
	select {
	case ch <- ev:
	case <-ctx.Done():
	}
}

// SendStatusUpdate replies to the server with the durable commit position.
// Per §4.E, the keepalive reply must use the last durably acknowledged LSN,
// never the last received one — the pipeline engine calls this only after
// a sink write has completed.
func (s *PostgresSource) SendStatusUpdate(ctx context.Context, lastAppliedLSN model.LSN) error {
	s.mu.Lock()
	if lastAppliedLSN > s.confirmedLSN {
		s.confirmedLSN = lastAppliedLSN
	}
	s.mu.Unlock()
	return s.replyStatus(ctx)
}

func (s *PostgresSource) replyStatus(ctx context.Context) error {
	s.mu.Lock()
	lsn := s.confirmedLSN
	s.mu.Unlock()
	return pglogrepl.SendStandbyStatusUpdate(ctx, s.replConn, pglogrepl.StandbyStatusUpdate{
		WALWritePosition: lsn,
		WALFlushPosition: lsn,
		WALApplyPosition: lsn,
	})
}
