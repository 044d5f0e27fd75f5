package adapter

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lightdash/metricflow-service/engine/core"
	"github.com/lightdash/metricflow-service/engine/environment"
	"github.com/lightdash/metricflow-service/engine/semantic"
)

// queryer is the slice of pgxpool.Pool the client needs; tests substitute a
// mock pool.
type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// postgresAdapter identifies a postgres-backed client.
type postgresAdapter struct {
	database string
}

func (postgresAdapter) Type() string       { return "postgres" }
func (a postgresAdapter) Database() string { return a.database }

// Client executes SQL against a postgres warehouse through a pgx pool.
type Client struct {
	pool    queryer
	adapter semantic.Adapter
}

// NewClient opens a pooled connection from the environment's dbt profile.
func NewClient(ctx context.Context, env *environment.Config) (semantic.SQLClient, error) {
	creds, err := LoadCredentials(env.ProfilesDir)
	if err != nil {
		return nil, err
	}
	if creds.Type != "postgres" {
		return nil, core.NewError(core.CodeConfigInvalid, http.StatusInternalServerError,
			"unsupported warehouse adapter: "+creds.Type)
	}
	pool, err := pgxpool.New(ctx, dsn(creds))
	if err != nil {
		return nil, core.WrapError(core.CodeEngineInitFailed, http.StatusInternalServerError,
			"failed to open postgres pool", err)
	}
	return &Client{
		pool:    pool,
		adapter: postgresAdapter{database: creds.DatabaseName()},
	}, nil
}

// NewClientWithPool wraps an existing pool, for tests.
func NewClientWithPool(pool queryer, database string) *Client {
	return &Client{pool: pool, adapter: postgresAdapter{database: database}}
}

func dsn(creds *Credentials) string {
	port := creds.Port
	if port == 0 {
		port = 5432
	}
	sslmode := creds.SSLMode
	if sslmode == "" {
		sslmode = "prefer"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(creds.User), url.QueryEscape(creds.Password),
		creds.Host, port, creds.DatabaseName(), sslmode)
}

// Execute runs the SQL and materializes the full result set.
func (c *Client) Execute(ctx context.Context, sql string) (*semantic.DataTable, error) {
	rows, err := c.pool.Query(ctx, sql)
	if err != nil {
		return nil, &semantic.ExecutionError{Err: err}
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]semantic.ColumnDesc, len(fields))
	for i, field := range fields {
		columns[i] = semantic.ColumnDesc{
			Name: field.Name,
			Type: columnType(field.DataTypeOID),
		}
	}
	table := &semantic.DataTable{Columns: columns}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, &semantic.ExecutionError{Err: err}
		}
		table.Rows = append(table.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, &semantic.ExecutionError{Err: err}
	}
	return table, nil
}

func (c *Client) Adapter() semantic.Adapter {
	return c.adapter
}

func (c *Client) Close() {
	c.pool.Close()
}

// columnType maps postgres type OIDs onto the result column vocabulary.
func columnType(oid uint32) semantic.ColumnType {
	switch oid {
	case pgtype.TimestampOID, pgtype.TimestamptzOID, pgtype.DateOID:
		return semantic.ColumnTimestamp
	case pgtype.Int2OID, pgtype.Int4OID, pgtype.Int8OID:
		return semantic.ColumnInteger
	case pgtype.Float4OID, pgtype.Float8OID:
		return semantic.ColumnFloat
	case pgtype.NumericOID:
		return semantic.ColumnDecimal
	case pgtype.BoolOID:
		return semantic.ColumnBoolean
	default:
		return semantic.ColumnString
	}
}
