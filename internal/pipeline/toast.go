package pipeline

import "github.com/jfoltran/pgsink/internal/model"

// mergeToast fills an Update's unchanged-toast columns (the wire's 'u'
// placeholder, decoded as a zero Cell by internal/wiredecode) from old_row
// before the event may reach a sink, since a sink that is not itself
// Postgres has no way to interpret an unchanged-toast placeholder.
func (b *Batcher) mergeToast(ev model.CdcEvent) (model.CdcEvent, error) {
	if len(ev.UnchangedToastColumns) == 0 {
		return ev, nil
	}

	schema := b.schemas[ev.TableId]
	if schema == nil || ev.NewRow == nil {
		// A Delete's old_row (or any event with no new tuple) has no other
		// row to source a missing value from.
		return ev, &model.ToastGapError{TableId: ev.TableId, Column: ev.UnchangedToastColumns[0]}
	}

	for _, name := range ev.UnchangedToastColumns {
		idx := schema.ColumnIndex(name)
		if idx < 0 || idx >= len(ev.NewRow.Cells) {
			continue
		}
		// The old tuple only carries real data for identity columns unless
		// replica identity is FULL; anywhere else a 'u' placeholder can't
		// be resolved and the event fails per §4.E.
		if ev.OldRow == nil || idx >= len(ev.OldRow.Cells) || ev.OldRow.Cells[idx].Kind == model.CellNull {
			return ev, &model.ToastGapError{TableId: ev.TableId, Column: name}
		}
		ev.NewRow.Cells[idx] = ev.OldRow.Cells[idx]
	}
	ev.UnchangedToastColumns = nil
	return ev, nil
}
