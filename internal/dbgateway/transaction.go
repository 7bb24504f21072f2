package dbgateway

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/batyrsync/batyrd/internal/batyrerr"
	"github.com/batyrsync/batyrd/internal/sqlutil"
)

// TargetField is one introspected column of the target table (spec §3).
type TargetField struct {
	Name         string
	PgTypeName   string
	IsPrimaryKey bool
}

// PreparedRef names a statement prepared on this transaction's connection
// via Prepare; ExecPrepared uses it directly since pgx resolves prepared
// statements by name against the connection's statement cache.
type PreparedRef struct {
	Name string
}

// Result mirrors the row count a caller needs out of exec/exec_prepared
// (spec §3's Transaction contract).
type Result struct {
	RowsAffected int64
}

// Transaction is a scoped handle over one connection's BEGIN/COMMIT/
// ROLLBACK lifecycle (spec §3). Leaving scope without an explicit Commit
// rolls back; callers should always `defer tx.Rollback(ctx)` immediately
// after obtaining one, matching the Go idiom for pgx transactions (a
// Rollback after Commit is a documented no-op).
type Transaction struct {
	ctx  context.Context
	conn *pgx.Conn
	tx   pgx.Tx
}

// Commit commits the transaction.
func (t *Transaction) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return batyrerr.Wrap(batyrerr.KindDBQuery, err, "commit failed")
	}
	return nil
}

// Rollback rolls the transaction back. Calling it after a successful Commit
// is a no-op (pgx.ErrTxClosed is swallowed) so `defer tx.Rollback(ctx)` is
// always safe.
func (t *Transaction) Rollback(ctx context.Context) {
	_ = t.tx.Rollback(ctx)
}

// CreateTempTableLike creates a temp table named tempName with the same
// column definitions as schema.table, constraints dropped, per spec §4.4
// step 4. It lives for the lifetime of the transaction.
func (t *Transaction) CreateTempTableLike(ctx context.Context, schema, table, tempName string) error {
	stmt := fmt.Sprintf(
		`create temporary table %s (like %s) on commit drop`,
		sqlutil.QuoteIdent(tempName),
		sqlutil.QuoteQualified(schema, table),
	)
	if _, err := t.tx.Exec(ctx, stmt); err != nil {
		return batyrerr.Wrap(batyrerr.KindDBQuery, err, "creating staging table "+tempName)
	}
	return nil
}

// GetTableFields returns every column of schema.table with its Postgres
// type name and primary-key membership, ordered by column ordinal (spec
// §3/§4.2).
func (t *Transaction) GetTableFields(ctx context.Context, schema, table string) ([]TargetField, error) {
	const query = `
select a.attname as name,
       ty.typname as pg_type_name,
       exists (
           select 1
           from pg_index i
           where i.indrelid = a.attrelid
             and i.indisprimary
             and a.attnum = any(i.indkey)
       ) as is_primary_key
from pg_attribute a
join pg_class c on a.attrelid = c.oid
join pg_namespace n on c.relnamespace = n.oid
join pg_type ty on a.atttypid = ty.oid
where n.nspname = $1
  and c.relname = $2
  and a.attnum > 0
  and not a.attisdropped
order by a.attnum
`
	rows, err := t.tx.Query(ctx, query, schema, table)
	if err != nil {
		return nil, batyrerr.Wrap(batyrerr.KindDBQuery, err, "introspecting fields of "+schema+"."+table)
	}
	defer rows.Close()

	var fields []TargetField
	for rows.Next() {
		var f TargetField
		if err := rows.Scan(&f.Name, &f.PgTypeName, &f.IsPrimaryKey); err != nil {
			return nil, batyrerr.Wrap(batyrerr.KindDBQuery, err, "scanning target field")
		}
		fields = append(fields, f)
	}
	if err := rows.Err(); err != nil {
		return nil, batyrerr.Wrap(batyrerr.KindDBQuery, err, "reading target fields")
	}
	return fields, nil
}

// Prepare registers sql under stmtName on this transaction's underlying
// connection. nParams is accepted for parity with spec §3's contract; pgx
// infers parameter count from the query itself.
func (t *Transaction) Prepare(ctx context.Context, stmtName, sql string, nParams int) (PreparedRef, error) {
	if _, err := t.conn.Prepare(ctx, stmtName, sql); err != nil {
		return PreparedRef{}, batyrerr.Wrap(batyrerr.KindDBQuery, err, "preparing statement "+stmtName)
	}
	return PreparedRef{Name: stmtName}, nil
}

// ExecPrepared executes a previously Prepared statement with params.
func (t *Transaction) ExecPrepared(ctx context.Context, ref PreparedRef, params []interface{}) (Result, error) {
	tag, err := t.tx.Exec(ctx, ref.Name, params...)
	if err != nil {
		return Result{}, batyrerr.Wrap(batyrerr.KindDBQuery, err, "executing prepared statement "+ref.Name)
	}
	return Result{RowsAffected: tag.RowsAffected()}, nil
}

// Exec runs a plain SQL statement and returns the affected row count, used
// by the merge phase (spec §4.4 step 7) for the update/insert/delete
// statements built by the pull protocol.
func (t *Transaction) Exec(ctx context.Context, sql string) (Result, error) {
	tag, err := t.tx.Exec(ctx, sql)
	if err != nil {
		return Result{}, batyrerr.Wrap(batyrerr.KindDBQuery, err, "executing statement")
	}
	return Result{RowsAffected: tag.RowsAffected()}, nil
}
