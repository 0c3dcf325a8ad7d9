package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/canopylabs/datamart/pkg/datamart"
)

// registrySchema holds the registry tables, separate from the schemas the
// dimension and fact tables live in.
const registrySchema = "datamart"

// querier is the subset of pgx shared by pools and transactions.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements datamart.Store on a pgx pool. Transactional views share
// the implementation with the transaction in place of the pool.
type Store struct {
	log  *slog.Logger
	pool *pgxpool.Pool
	tx   pgx.Tx
}

func NewStore(log *slog.Logger, pool *pgxpool.Pool) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{log: log, pool: pool}
}

func (s *Store) db() querier {
	if s.tx != nil {
		return s.tx
	}
	return s.pool
}

func (s *Store) Exec(ctx context.Context, sql string, args ...any) error {
	if _, err := s.db().Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("failed to execute statement: %w", err)
	}
	return nil
}

func (s *Store) QueryFrame(ctx context.Context, sql string, args ...any) (*datamart.Frame, error) {
	rows, err := s.db().Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, 0, len(fields))
	for _, f := range fields {
		columns = append(columns, f.Name)
	}
	frame := datamart.NewFrame(columns...)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read row: %w", err)
		}
		if err := frame.AppendRow(values...); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	return frame, nil
}

func (s *Store) TableExists(ctx context.Context, schema, table string) (bool, error) {
	var exists bool
	err := s.db().QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = $1 AND table_name = $2
		)`, schema, table).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check table %s.%s: %w", schema, table, err)
	}
	return exists, nil
}

func (s *Store) TableColumns(ctx context.Context, schema, table string) ([]datamart.Column, error) {
	rows, err := s.db().Query(ctx,
		`SELECT column_name, udt_name FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`, schema, table)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect table %s.%s: %w", schema, table, err)
	}
	defer rows.Close()

	var cols []datamart.Column
	for rows.Next() {
		var name, udt string
		if err := rows.Scan(&name, &udt); err != nil {
			return nil, fmt.Errorf("failed to read column of %s.%s: %w", schema, table, err)
		}
		cols = append(cols, datamart.Column{Name: name, Type: columnTypeFromUDT(udt)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read columns of %s.%s: %w", schema, table, err)
	}
	return cols, nil
}

// columnTypeFromUDT maps a pg_type name onto the engine's column types.
// Unrecognized types degrade to text, which round-trips any value.
func columnTypeFromUDT(udt string) datamart.ColumnType {
	switch udt {
	case "text", "varchar", "bpchar", "name":
		return datamart.ColText
	case "int2", "int4", "int8":
		return datamart.ColInteger
	case "float4", "float8":
		return datamart.ColFloat
	case "numeric":
		return datamart.ColNumeric
	case "bool":
		return datamart.ColBoolean
	case "timestamp", "timestamptz", "date":
		return datamart.ColTimestamp
	case "geometry", "geography":
		return datamart.ColGeometry
	default:
		return datamart.ColText
	}
}

// CopyCSV streams the payload into the table with COPY. The reader must
// produce a CSV document with a header row matching columns.
func (s *Store) CopyCSV(ctx context.Context, schema, table string, columns []string, r io.Reader) (int64, error) {
	sql := fmt.Sprintf("COPY %s.%s (%s) FROM STDIN WITH (FORMAT csv, HEADER true)",
		schema, table, strings.Join(columns, ", "))

	copyFrom := func(conn *pgx.Conn) (pgconn.CommandTag, error) {
		return conn.PgConn().CopyFrom(ctx, r, sql)
	}

	var tag pgconn.CommandTag
	var err error
	if s.tx != nil {
		tag, err = copyFrom(s.tx.Conn())
	} else {
		var conn *pgxpool.Conn
		conn, err = s.pool.Acquire(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to acquire connection: %w", err)
		}
		defer conn.Release()
		tag, err = copyFrom(conn.Conn())
	}
	if err != nil {
		return 0, fmt.Errorf("failed to copy into %s.%s: %w", schema, table, err)
	}
	return tag.RowsAffected(), nil
}

// InTx runs fn against a transactional view of the store. Within an existing
// transaction a savepoint is used, so nested calls compose.
func (s *Store) InTx(ctx context.Context, fn func(tx datamart.Store) error) error {
	var tx pgx.Tx
	var err error
	if s.tx != nil {
		tx, err = s.tx.Begin(ctx)
	} else {
		tx, err = s.pool.Begin(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&Store{log: s.log, pool: s.pool, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) GetDimension(ctx context.Context, name string) (*datamart.DimensionRegistration, error) {
	row := s.db().QueryRow(ctx,
		`SELECT id, name, dimension_type_key, label_column, date_create, properties
		FROM `+registrySchema+`.dimension_registry WHERE name = $1`, name)
	reg, err := scanDimension(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dimension %s: %w", name, err)
	}
	return reg, nil
}

func (s *Store) ListDimensions(ctx context.Context) ([]datamart.DimensionRegistration, error) {
	rows, err := s.db().Query(ctx,
		`SELECT id, name, dimension_type_key, label_column, date_create, properties
		FROM `+registrySchema+`.dimension_registry ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list dimensions: %w", err)
	}
	defer rows.Close()

	var regs []datamart.DimensionRegistration
	for rows.Next() {
		reg, err := scanDimension(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to read dimension row: %w", err)
		}
		regs = append(regs, *reg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read dimension rows: %w", err)
	}
	return regs, nil
}

func scanDimension(row pgx.Row) (*datamart.DimensionRegistration, error) {
	var reg datamart.DimensionRegistration
	var props []byte
	if err := row.Scan(&reg.ID, &reg.Name, &reg.TypeKey, &reg.LabelColumn, &reg.DateCreate, &props); err != nil {
		return nil, err
	}
	if len(props) > 0 {
		if err := json.Unmarshal(props, &reg.Properties); err != nil {
			return nil, fmt.Errorf("failed to decode properties: %w", err)
		}
	}
	if reg.Properties == nil {
		reg.Properties = map[string]any{}
	}
	return &reg, nil
}

func (s *Store) InsertDimension(ctx context.Context, reg datamart.DimensionRegistration) error {
	props, err := json.Marshal(reg.Properties)
	if err != nil {
		return fmt.Errorf("failed to encode properties for %s: %w", reg.Name, err)
	}
	_, err = s.db().Exec(ctx,
		`INSERT INTO `+registrySchema+`.dimension_registry
		(name, dimension_type_key, label_column, date_create, properties)
		VALUES ($1, $2, $3, $4, $5::jsonb)`,
		reg.Name, reg.TypeKey, reg.LabelColumn, reg.DateCreate, string(props))
	if err != nil {
		return fmt.Errorf("failed to insert dimension %s: %w", reg.Name, err)
	}
	return nil
}

func (s *Store) DeleteDimension(ctx context.Context, name string) error {
	_, err := s.db().Exec(ctx,
		`DELETE FROM `+registrySchema+`.dimension_registry WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("failed to delete dimension %s: %w", name, err)
	}
	return nil
}

func (s *Store) GetFactTable(ctx context.Context, name string) (*datamart.FactTableRegistration, error) {
	row := s.db().QueryRow(ctx,
		`SELECT id, name, date_create, date_update
		FROM `+registrySchema+`.fact_table_registry WHERE name = $1`, name)
	var reg datamart.FactTableRegistration
	err := row.Scan(&reg.ID, &reg.Name, &reg.DateCreate, &reg.DateUpdate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fact table %s: %w", name, err)
	}
	return &reg, nil
}

func (s *Store) ListFactTables(ctx context.Context) ([]datamart.FactTableRegistration, error) {
	rows, err := s.db().Query(ctx,
		`SELECT id, name, date_create, date_update
		FROM `+registrySchema+`.fact_table_registry ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list fact tables: %w", err)
	}
	defer rows.Close()

	var regs []datamart.FactTableRegistration
	for rows.Next() {
		var reg datamart.FactTableRegistration
		if err := rows.Scan(&reg.ID, &reg.Name, &reg.DateCreate, &reg.DateUpdate); err != nil {
			return nil, fmt.Errorf("failed to read fact table row: %w", err)
		}
		regs = append(regs, reg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read fact table rows: %w", err)
	}
	return regs, nil
}

func (s *Store) InsertFactTable(ctx context.Context, reg datamart.FactTableRegistration) error {
	_, err := s.db().Exec(ctx,
		`INSERT INTO `+registrySchema+`.fact_table_registry (name, date_create)
		VALUES ($1, $2)`, reg.Name, reg.DateCreate)
	if err != nil {
		return fmt.Errorf("failed to insert fact table %s: %w", reg.Name, err)
	}
	return nil
}

func (s *Store) TouchFactTable(ctx context.Context, name string, at time.Time) error {
	_, err := s.db().Exec(ctx,
		`UPDATE `+registrySchema+`.fact_table_registry SET date_update = $2 WHERE name = $1`,
		name, at)
	if err != nil {
		return fmt.Errorf("failed to touch fact table %s: %w", name, err)
	}
	return nil
}

func (s *Store) DeleteFactTable(ctx context.Context, name string) error {
	_, err := s.db().Exec(ctx,
		`DELETE FROM `+registrySchema+`.fact_table_registry WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("failed to delete fact table %s: %w", name, err)
	}
	return nil
}

var _ datamart.Store = (*Store)(nil)
