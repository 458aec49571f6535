package store

import (
	"context"
	"fmt"

	"github.com/JustMaier/groundDb/internal/validator"
)

// validateAllLocked re-validates every indexed document against the
// current schema without touching any file, for the CLI's `validate`
// command and Store.ValidateAll.
func (s *Store) validateAllLocked(ctx context.Context) (map[string][]string, error) {
	out := map[string][]string{}
	for name, coll := range s.sch.Collections {
		rows, err := s.idx.ListByCollection(ctx, name)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			res, err := validator.Validate(s.sch, coll, row.Data)
			if err != nil {
				out[name] = append(out[name], fmt.Sprintf("%s/%s: %v", name, row.ID, err))
				continue
			}
			for _, w := range res.Warnings {
				out[name] = append(out[name], fmt.Sprintf("%s/%s: %s", name, row.ID, w))
			}
			if err := checkRefTargets(ctx, s.idx, coll, row.Data); err != nil {
				out[name] = append(out[name], fmt.Sprintf("%s/%s: %v", name, row.ID, err))
			}
		}
	}
	return out, nil
}
