package store

import (
	"bytes"
	"fmt"

	"github.com/natefinch/atomic"

	grounddb "github.com/JustMaier/groundDb"
	"github.com/JustMaier/groundDb/internal/codec"
	"github.com/JustMaier/groundDb/internal/schema"
)

// reconcilePathFields enforces invariant I6 (§4.9): the path a document
// actually lives at is authoritative for every field its collection's
// path template captures. If the file's front matter disagrees with what
// fullPath's path extracts (an external move changed a path-only field
// such as status without touching the front matter), the front matter is
// corrected in place and the file is rewritten atomically, body and every
// other field preserved. A structural mismatch (the path no longer fits
// the template at all) is logged and left alone rather than treated as a
// hard failure, matching this package's tolerance of other malformed
// on-disk documents.
func (s *Store) reconcilePathFields(coll *schema.Collection, rel, fullPath string, doc *codec.Document) error {
	tmpl, err := s.templates.get(coll)
	if err != nil {
		return err
	}
	extracted, err := tmpl.Extract(rel)
	if err != nil {
		s.log.Warnf("path reconciliation %s: %v", rel, err)
		return nil
	}

	changed := false
	for field, want := range extracted {
		got := fmt.Sprintf("%v", doc.FrontMatter[field])
		if doc.FrontMatter[field] == nil || got != want {
			doc.FrontMatter[field] = want
			changed = true
		}
	}
	if !changed {
		return nil
	}

	raw, err := encodeDocument(coll, doc.FrontMatter, doc.Content, doc.HasContent)
	if err != nil {
		return err
	}
	if err := atomic.WriteFile(fullPath, bytes.NewReader(raw)); err != nil {
		return grounddb.Wrap(grounddb.IoErr, err, "rewrite %s after path reconciliation", rel)
	}
	s.log.Infof("reconciled path fields for %s", rel)
	return nil
}
