package store

import (
	"bytes"
	"context"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"

	grounddb "github.com/JustMaier/groundDb"
	"github.com/JustMaier/groundDb/internal/index"
)

// OpKind distinguishes the three mutation shapes a Batch can stage.
type OpKind int

const (
	OpInsert OpKind = iota
	OpUpdate
	OpDelete
)

// Op is one staged batch operation.
type Op struct {
	Kind       OpKind
	Collection string
	ID         string // required for Update/Delete; optional hint for Insert
	Fields     map[string]interface{}
	Content    string
	HasContent bool
	Partial    bool // Update only
}

// undoRecord captures what Batch needs to reverse one applied op, per
// spec §4.7: the path an insert wrote (to delete), the pre-op file bytes
// and index row for an update or delete (to restore), and, for a
// move-update, the path it moved to (to remove) alongside the path it
// moved from (to recreate).
type undoRecord struct {
	kind        OpKind
	collection  string
	id          string
	newPath     string // path this op wrote at; empty for delete
	oldPath     string // path before this op; empty for insert
	prevExisted bool   // whether oldPath had a file before the op
	prevBytes   []byte // oldPath's contents before the op
	hadIndexRow bool   // whether an index row existed before the op
	prevRow     index.DocumentRow
}

// Batch stages operations, applies them in order, and on any failure
// undoes every already-applied operation in reverse — recreating deleted
// files and their index rows, restoring overwritten bytes and index rows,
// removing newly created or moved-to files — before returning the error,
// per spec §4.7.
func (s *Store) Batch(ctx context.Context, ops []Op) ([]*Document, error) {
	if err := s.subs.checkReentrant(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var results []*Document
	var undo []undoRecord

	rollback := func() {
		for i := len(undo) - 1; i >= 0; i-- {
			u := undo[i]
			switch u.kind {
			case OpInsert:
				s.idx.DeleteDocument(ctx, u.collection, u.id)
				os.Remove(filepath.Join(s.dataDir, u.newPath))
				s.paths.remove(u.newPath)
			case OpUpdate:
				if u.newPath != u.oldPath {
					os.Remove(filepath.Join(s.dataDir, u.newPath))
					s.paths.remove(u.newPath)
					if u.prevExisted {
						s.paths.add(u.oldPath)
					}
				}
				if u.prevExisted {
					atomic.WriteFile(filepath.Join(s.dataDir, u.oldPath), bytes.NewReader(u.prevBytes))
				}
				if u.hadIndexRow {
					s.idx.UpsertDocument(ctx, u.prevRow)
				}
			case OpDelete:
				if u.prevExisted {
					atomic.WriteFile(filepath.Join(s.dataDir, u.oldPath), bytes.NewReader(u.prevBytes))
					s.paths.add(u.oldPath)
				}
				if u.hadIndexRow {
					s.idx.UpsertDocument(ctx, u.prevRow)
				}
			}
		}
	}

	for _, op := range ops {
		u, err := s.applyBatchOp(ctx, op, &results)
		if err != nil {
			rollback()
			return nil, grounddb.Wrap(grounddb.InternalErr, err, "batch op on %s failed, rolled back", op.Collection)
		}
		undo = append(undo, u)
	}
	return results, nil
}

func (s *Store) applyBatchOp(ctx context.Context, op Op, results *[]*Document) (undoRecord, error) {
	switch op.Kind {
	case OpInsert:
		doc, err := s.insertCore(ctx, op.Collection, op.ID, op.Fields, op.Content, op.HasContent)
		if err != nil {
			return undoRecord{}, err
		}
		*results = append(*results, doc)
		return undoRecord{kind: OpInsert, collection: op.Collection, id: doc.ID, newPath: doc.Path}, nil
	case OpUpdate:
		u := s.snapshotBeforeOp(ctx, OpUpdate, op.Collection, op.ID)
		doc, err := s.updateCore(ctx, op.Collection, op.ID, op.Fields, op.Content, op.HasContent, op.Partial)
		if err != nil {
			return undoRecord{}, err
		}
		*results = append(*results, doc)
		u.newPath = doc.Path
		return u, nil
	case OpDelete:
		u := s.snapshotBeforeOp(ctx, OpDelete, op.Collection, op.ID)
		if err := s.deleteLocked(ctx, op.Collection, op.ID, map[string]bool{}); err != nil {
			return undoRecord{}, err
		}
		*results = append(*results, nil)
		return u, nil
	default:
		return undoRecord{}, grounddb.Errorf(grounddb.InternalErr, "unknown batch op kind %d", op.Kind)
	}
}

// snapshotBeforeOp captures the index row and file bytes an update or
// delete is about to change, so rollback can restore both. A failed
// lookup just yields a record with hadIndexRow/prevExisted false; the
// op itself will fail for the same reason (the target does not exist),
// so there is nothing to roll back in that case.
func (s *Store) snapshotBeforeOp(ctx context.Context, kind OpKind, collection, id string) undoRecord {
	u := undoRecord{kind: kind, collection: collection, id: id}
	row, err := s.idx.GetDocument(ctx, collection, id)
	if err != nil {
		return u
	}
	u.hadIndexRow = true
	u.prevRow = *row
	u.oldPath = row.Path
	if data, err := os.ReadFile(filepath.Join(s.dataDir, row.Path)); err == nil {
		u.prevExisted = true
		u.prevBytes = data
	}
	return u
}
