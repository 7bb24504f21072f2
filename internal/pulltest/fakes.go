// Package pulltest provides in-memory fakes for the pull package's Gateway
// and Reader interfaces, so the merge algorithm and worker dispatch can be
// exercised without a real Postgres server or GDAL build.
package pulltest

import (
	"context"
	"regexp"
	"strings"

	"github.com/batyrsync/batyrd/internal/batyrerr"
	"github.com/batyrsync/batyrd/internal/dbgateway"
	"github.com/batyrsync/batyrd/internal/ogrsource"
	"github.com/batyrsync/batyrd/internal/pull"
)

// Row is a generic attribute row keyed by lowercase column name; a nil value
// represents SQL NULL.
type Row map[string]interface{}

// FakeGateway is a pull.Gateway backed by a single FakeTransaction, handed
// out once per Run so each test can inspect it afterward.
type FakeGateway struct {
	Tx  *FakeTransaction
	Err error // if set, GetTransaction fails with this error
}

func (g *FakeGateway) GetTransaction(ctx context.Context) (pull.Transaction, error) {
	if g.Err != nil {
		return nil, g.Err
	}
	return g.Tx, nil
}

var insertColumnsPattern = regexp.MustCompile(`(?is)insert into\s+"[^"]+"\s*\(([^)]*)\)\s*values`)
var updateSetPattern = regexp.MustCompile(`(?is)\bset\s+(.*?)\s+from\s`)

// FakeTransaction simulates a target table plus the temp staging table
// across the three merge statements pull.go issues. Primary-key matching is
// driven off TargetFields' primary-key flags; the temp table's insert
// columns and the UPDATE's SET columns are recovered from the SQL text
// (see Prepare and parseUpdateColumns). NULL primary keys match each other
// in the update, and target rows with a NULL primary key are never deleted.
type FakeTransaction struct {
	TargetFields []dbgateway.TargetField
	TargetRows   []Row
	TempRows     []Row

	Committed  bool
	RolledBack bool

	CreateTempErr     error
	GetTableFieldsErr error
	PrepareErr        error
	ExecPreparedErr   error
	ExecErr           error
	CommitErr         error

	tempInsertColumns []string
	updateColumns     []string
}

func (t *FakeTransaction) Commit(ctx context.Context) error {
	if t.CommitErr != nil {
		return t.CommitErr
	}
	t.Committed = true
	return nil
}

func (t *FakeTransaction) Rollback(ctx context.Context) {
	if !t.Committed {
		t.RolledBack = true
	}
}

func (t *FakeTransaction) CreateTempTableLike(ctx context.Context, schema, table, tempName string) error {
	return t.CreateTempErr
}

func (t *FakeTransaction) GetTableFields(ctx context.Context, schema, table string) ([]dbgateway.TargetField, error) {
	if t.GetTableFieldsErr != nil {
		return nil, t.GetTableFieldsErr
	}
	out := make([]dbgateway.TargetField, len(t.TargetFields))
	copy(out, t.TargetFields)
	return out, nil
}

func (t *FakeTransaction) Prepare(ctx context.Context, stmtName, sql string, nParams int) (dbgateway.PreparedRef, error) {
	if t.PrepareErr != nil {
		return dbgateway.PreparedRef{}, t.PrepareErr
	}
	m := insertColumnsPattern.FindStringSubmatch(sql)
	if m != nil {
		cols := strings.Split(m[1], ",")
		for i, c := range cols {
			cols[i] = strings.Trim(strings.TrimSpace(c), `"`)
		}
		t.tempInsertColumns = cols
	}
	return dbgateway.PreparedRef{Name: stmtName}, nil
}

func (t *FakeTransaction) ExecPrepared(ctx context.Context, ref dbgateway.PreparedRef, params []interface{}) (dbgateway.Result, error) {
	if t.ExecPreparedErr != nil {
		return dbgateway.Result{}, t.ExecPreparedErr
	}
	row := make(Row, len(t.tempInsertColumns))
	for i, col := range t.tempInsertColumns {
		if i < len(params) {
			row[col] = params[i]
		}
	}
	t.TempRows = append(t.TempRows, row)
	return dbgateway.Result{RowsAffected: 1}, nil
}

func (t *FakeTransaction) Exec(ctx context.Context, sql string) (dbgateway.Result, error) {
	if t.ExecErr != nil {
		return dbgateway.Result{}, t.ExecErr
	}
	stmt := strings.TrimSpace(strings.ToLower(sql))
	switch {
	case strings.HasPrefix(stmt, "update "):
		t.updateColumns = parseUpdateColumns(sql)
		return dbgateway.Result{RowsAffected: t.mergeUpdate()}, nil
	case strings.HasPrefix(stmt, "insert into "):
		return dbgateway.Result{RowsAffected: t.mergeInsert()}, nil
	case strings.HasPrefix(stmt, "delete from "):
		return dbgateway.Result{RowsAffected: t.mergeDelete()}, nil
	default:
		return dbgateway.Result{}, nil
	}
}

// parseUpdateColumns recovers the SET clause's column list from the
// generated UPDATE statement (`set "a" = s."a", "b" = s."b" from ...`), the
// same way insertColumnsPattern recovers the temp table's insert columns.
func parseUpdateColumns(sql string) []string {
	m := updateSetPattern.FindStringSubmatch(sql)
	if m == nil {
		return nil
	}
	assignments := strings.Split(m[1], ",")
	cols := make([]string, 0, len(assignments))
	for _, a := range assignments {
		lhs := strings.SplitN(a, "=", 2)[0]
		cols = append(cols, strings.Trim(strings.TrimSpace(lhs), `"`))
	}
	return cols
}

func (t *FakeTransaction) pkColumns() []string {
	var pk []string
	for _, f := range t.TargetFields {
		if f.IsPrimaryKey {
			pk = append(pk, f.Name)
		}
	}
	return pk
}

func pkEqual(a, b Row, pk []string) bool {
	for _, c := range pk {
		if a[c] != b[c] {
			return false
		}
	}
	return true
}

// rowChanged reports whether any column named in updateColumns differs
// between tr and sr, mirroring the real UPDATE's `t.c IS DISTINCT FROM s.c`
// disjunction so a repeat pull of identical data leaves updated at 0. A
// column absent from sr (the temp table never had it populated, because no
// source field matched it) reads as SQL NULL, same as the real temp table
// cloned via LIKE.
func rowChanged(tr, sr Row, updateColumns []string) bool {
	for _, col := range updateColumns {
		if tr[col] != sr[col] {
			return true
		}
	}
	return false
}

func (t *FakeTransaction) mergeUpdate() int64 {
	pk := t.pkColumns()
	var n int64
	for i, tr := range t.TargetRows {
		for _, sr := range t.TempRows {
			if pkEqual(tr, sr, pk) && rowChanged(tr, sr, t.updateColumns) {
				for _, col := range t.updateColumns {
					t.TargetRows[i][col] = sr[col]
				}
				n++
				break
			}
		}
	}
	return n
}

func (t *FakeTransaction) mergeInsert() int64 {
	pk := t.pkColumns()
	var n int64
	for _, sr := range t.TempRows {
		found := false
		for _, tr := range t.TargetRows {
			if pkEqual(tr, sr, pk) {
				found = true
				break
			}
		}
		if !found {
			row := make(Row, len(sr))
			for k, v := range sr {
				row[k] = v
			}
			t.TargetRows = append(t.TargetRows, row)
			n++
		}
	}
	return n
}

func rowHasNilPK(r Row, pk []string) bool {
	for _, c := range pk {
		if r[c] == nil {
			return true
		}
	}
	return false
}

// mergeDelete mirrors `delete from target where (pk) not in (select pk from
// temp)`: a target row whose primary key is NULL is never deleted, since
// `null not in (...)` is NULL, not true, under SQL's three-valued logic.
func (t *FakeTransaction) mergeDelete() int64 {
	pk := t.pkColumns()
	var kept []Row
	var n int64
	for _, tr := range t.TargetRows {
		if rowHasNilPK(tr, pk) {
			kept = append(kept, tr)
			continue
		}
		found := false
		for _, sr := range t.TempRows {
			if pkEqual(tr, sr, pk) {
				found = true
				break
			}
		}
		if found {
			kept = append(kept, tr)
		} else {
			n++
		}
	}
	t.TargetRows = kept
	return n
}

// FakeReader/FakeDataset/FakeLayer/FakeIterator/FakeFeature simulate the OGR
// source side.

type FakeReader struct {
	Dataset *FakeDataset
	OpenErr error
}

func (r *FakeReader) Open(ctx context.Context, sourceConnString string) (pull.Dataset, error) {
	if r.OpenErr != nil {
		return nil, r.OpenErr
	}
	return r.Dataset, nil
}

type FakeDataset struct {
	Layers   map[string]*FakeLayer
	CloseErr error
	closed   bool
}

func (d *FakeDataset) SelectLayer(name string) (pull.Layer, error) {
	l, ok := d.Layers[name]
	if !ok {
		return nil, batyrerr.New(batyrerr.KindSourceLayerMissing, "layer not found: "+name)
	}
	return l, nil
}

func (d *FakeDataset) Close() error {
	d.closed = true
	return d.CloseErr
}

type FakeLayer struct {
	Fields        []ogrsource.SourceField
	Features      []*FakeFeature
	FilterErr     error
	DescribeErr   error
	AppliedFilter string
}

func (l *FakeLayer) SetAttributeFilter(expr string) error {
	if l.FilterErr != nil {
		return l.FilterErr
	}
	l.AppliedFilter = expr
	return nil
}

func (l *FakeLayer) DescribeFields() ([]ogrsource.SourceField, error) {
	if l.DescribeErr != nil {
		return nil, l.DescribeErr
	}
	return l.Fields, nil
}

func (l *FakeLayer) ResetReading() {}

func (l *FakeLayer) Iterate() pull.FeatureIterator {
	return &FakeIterator{features: l.Features, index: -1}
}

type FakeIterator struct {
	features []*FakeFeature
	index    int
}

func (it *FakeIterator) Next() bool {
	it.index++
	return it.index < len(it.features)
}

func (it *FakeIterator) Feature() pull.Feature { return it.features[it.index] }

func (it *FakeIterator) Close() {}

// FakeFeature backs both ogrsource.FeatureValues (via field index) and the
// pull.Feature geometry accessor.
type FakeFeature struct {
	Strings map[int]string
	Ints    map[int]int64
	Floats  map[int]float64
	GeomHex string
	GeomErr error
}

func (f *FakeFeature) FieldAsString(index int) string { return f.Strings[index] }
func (f *FakeFeature) FieldAsInteger(index int) int64 { return f.Ints[index] }
func (f *FakeFeature) FieldAsFloat(index int) float64 { return f.Floats[index] }

func (f *FakeFeature) GeometryWKBHex() (string, error) {
	if f.GeomErr != nil {
		return "", f.GeomErr
	}
	return f.GeomHex, nil
}

