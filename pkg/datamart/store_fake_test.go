package datamart

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"
)

// fakeStore is an in-memory Store for unit tests. It tracks table existence
// by parsing the DDL it executes and captures CSV bulk loads verbatim.
type fakeStore struct {
	mu sync.Mutex

	tables  map[string]bool
	copies  map[string][][]string // qualified table -> CSV records incl. header
	execLog []string

	dimensions map[string]DimensionRegistration
	factTables map[string]FactTableRegistration

	tableColumns map[string][]Column
	queryFrames  map[string]*Frame

	execErr error
	copyErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tables:       map[string]bool{},
		copies:       map[string][][]string{},
		dimensions:   map[string]DimensionRegistration{},
		factTables:   map[string]FactTableRegistration{},
		tableColumns: map[string][]Column{},
		queryFrames:  map[string]*Frame{},
	}
}

var (
	createTableRe = regexp.MustCompile(`(?s)^CREATE TABLE (\S+) \(`)
	dropTableRe   = regexp.MustCompile(`^DROP TABLE (\S+)$`)
	truncateRe    = regexp.MustCompile(`^TRUNCATE (\S+)`)
)

func (s *fakeStore) Exec(ctx context.Context, sql string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.execErr != nil {
		return s.execErr
	}
	s.execLog = append(s.execLog, sql)
	if m := createTableRe.FindStringSubmatch(sql); m != nil {
		s.tables[m[1]] = true
	}
	if m := dropTableRe.FindStringSubmatch(sql); m != nil {
		delete(s.tables, m[1])
	}
	if m := truncateRe.FindStringSubmatch(sql); m != nil {
		s.copies[m[1]] = nil
	}
	return nil
}

func (s *fakeStore) QueryFrame(ctx context.Context, sql string, args ...any) (*Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.queryFrames[sql]; ok {
		return f, nil
	}
	return NewFrame(), nil
}

func (s *fakeStore) TableExists(ctx context.Context, schema, table string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tables[schema+"."+table], nil
}

func (s *fakeStore) TableColumns(ctx context.Context, schema, table string) ([]Column, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tableColumns[schema+"."+table], nil
}

func (s *fakeStore) CopyCSV(ctx context.Context, schema, table string, columns []string, r io.Reader) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.copyErr != nil {
		return 0, s.copyErr
	}
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return 0, fmt.Errorf("bad CSV payload: %w", err)
	}
	if len(records) == 0 {
		return 0, fmt.Errorf("payload has no header")
	}
	if got := strings.Join(records[0], ","); got != strings.Join(columns, ",") {
		return 0, fmt.Errorf("header %q does not match columns %q", got, strings.Join(columns, ","))
	}
	key := schema + "." + table
	s.copies[key] = append(s.copies[key], records...)
	return int64(len(records) - 1), nil
}

func (s *fakeStore) InTx(ctx context.Context, fn func(tx Store) error) error {
	return fn(s)
}

func (s *fakeStore) GetDimension(ctx context.Context, name string) (*DimensionRegistration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.dimensions[name]
	if !ok {
		return nil, nil
	}
	return &reg, nil
}

func (s *fakeStore) ListDimensions(ctx context.Context) ([]DimensionRegistration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var regs []DimensionRegistration
	for _, reg := range s.dimensions {
		regs = append(regs, reg)
	}
	return regs, nil
}

func (s *fakeStore) InsertDimension(ctx context.Context, reg DimensionRegistration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dimensions[reg.Name]; ok {
		return fmt.Errorf("duplicate dimension %q", reg.Name)
	}
	reg.ID = int64(len(s.dimensions) + 1)
	s.dimensions[reg.Name] = reg
	return nil
}

func (s *fakeStore) DeleteDimension(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.dimensions, name)
	return nil
}

func (s *fakeStore) GetFactTable(ctx context.Context, name string) (*FactTableRegistration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.factTables[name]
	if !ok {
		return nil, nil
	}
	return &reg, nil
}

func (s *fakeStore) ListFactTables(ctx context.Context) ([]FactTableRegistration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var regs []FactTableRegistration
	for _, reg := range s.factTables {
		regs = append(regs, reg)
	}
	return regs, nil
}

func (s *fakeStore) InsertFactTable(ctx context.Context, reg FactTableRegistration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.factTables[reg.Name]; ok {
		return fmt.Errorf("duplicate fact table %q", reg.Name)
	}
	reg.ID = int64(len(s.factTables) + 1)
	s.factTables[reg.Name] = reg
	return nil
}

func (s *fakeStore) TouchFactTable(ctx context.Context, name string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.factTables[name]
	if !ok {
		return fmt.Errorf("fact table %q not registered", name)
	}
	reg.DateUpdate = &at
	s.factTables[name] = reg
	return nil
}

func (s *fakeStore) DeleteFactTable(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.factTables, name)
	return nil
}

var _ Store = (*fakeStore)(nil)
