// Package source provides the built-in source bindings: plain SQL queries,
// the taxonomy reader with ancestry flattening, and the raster value
// histogram. All of them fetch from the operational side of the same
// database the star schema is built in.
package source

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/canopylabs/datamart/pkg/datamart"
)

// SQL runs a fixed query and returns the result as a frame. The query should
// project an "id" column when the caller wants stable surrogate keys.
type SQL struct {
	log   *slog.Logger
	store datamart.Store
	query string
}

func NewSQL(log *slog.Logger, store datamart.Store, query string) *SQL {
	if log == nil {
		log = slog.Default()
	}
	return &SQL{log: log, store: store, query: query}
}

func (s *SQL) Fetch(ctx context.Context, _ datamart.Params) (*datamart.Frame, error) {
	frame, err := s.store.QueryFrame(ctx, s.query)
	if err != nil {
		return nil, fmt.Errorf("failed to run source query: %w", err)
	}
	s.log.Debug("fetched source rows", "rows", frame.Len())
	return frame, nil
}
