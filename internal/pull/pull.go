// Package pull implements the transactional staging-table synchronization
// algorithm described in spec §4.4 (C7): read a source OGR layer into a
// temp table, then merge it into the target table with a three-step
// update/insert/delete.
//
// The algorithm is ground truth from original_source/src/server/worker.cpp's
// Worker::pull, restated with jackc/pgx-backed prepared statements instead
// of libpq's C API and Go interfaces instead of virtual OGR/PG wrapper
// classes.
package pull

import (
	"context"
	"fmt"
	"strings"

	"github.com/batyrsync/batyrd/internal/batyrerr"
	"github.com/batyrsync/batyrd/internal/config"
	"github.com/batyrsync/batyrd/internal/dbgateway"
	"github.com/batyrsync/batyrd/internal/jobmodel"
	"github.com/batyrsync/batyrd/internal/log"
	"github.com/batyrsync/batyrd/internal/ogrsource"
	"github.com/batyrsync/batyrd/internal/sqlutil"
)

// Gateway is the subset of dbgateway.Gateway the pull protocol needs, kept
// as an interface so it can be exercised against a fake in tests.
type Gateway interface {
	GetTransaction(ctx context.Context) (Transaction, error)
}

// Transaction is the subset of *dbgateway.Transaction the pull protocol
// drives.
type Transaction interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context)
	CreateTempTableLike(ctx context.Context, schema, table, tempName string) error
	GetTableFields(ctx context.Context, schema, table string) ([]dbgateway.TargetField, error)
	Prepare(ctx context.Context, stmtName, sql string, nParams int) (dbgateway.PreparedRef, error)
	ExecPrepared(ctx context.Context, ref dbgateway.PreparedRef, params []interface{}) (dbgateway.Result, error)
	Exec(ctx context.Context, sql string) (dbgateway.Result, error)
}

// Reader is the subset of *ogrsource.Reader the pull protocol needs.
type Reader interface {
	Open(ctx context.Context, sourceConnString string) (Dataset, error)
}

// Dataset is the subset of *ogrsource.Dataset the pull protocol needs.
type Dataset interface {
	SelectLayer(name string) (Layer, error)
	Close() error
}

// Layer is the subset of *ogrsource.Layer the pull protocol needs.
type Layer interface {
	SetAttributeFilter(expr string) error
	DescribeFields() ([]ogrsource.SourceField, error)
	ResetReading()
	Iterate() FeatureIterator
}

// FeatureIterator is the subset of *ogrsource.FeatureIterator the pull
// protocol needs.
type FeatureIterator interface {
	Next() bool
	Feature() Feature
	Close()
}

// Feature is the subset of *ogrsource.Feature the pull protocol needs.
type Feature interface {
	ogrsource.FeatureValues
	GeometryWKBHex() (string, error)
}

// Run executes one full pull of layer into its configured target table on
// behalf of job, per spec §4.4. job is expected to already be IN_PROCESS
// (the Worker transitions it before acquiring a connection, per spec §4.5).
// Run always leaves job in a terminal state: FINISHED with statistics on
// success, FAILED with a message on any error. The returned error is nil
// unless the failure is one the Worker (spec §4.5) must react to itself (a
// DB_* kind, meaning the connection needs reconnecting) rather than one
// that is fully explained by the job's own FAILED message.
func Run(ctx context.Context, gw Gateway, reader Reader, job *jobmodel.Job, layer config.Layer) error {
	tx, err := gw.GetTransaction(ctx)
	if err != nil {
		job.Fail(err.Error())
		return err
	}
	defer tx.Rollback(ctx)

	stats, err := runInTransaction(ctx, tx, reader, job, layer)
	if err != nil {
		job.Fail(err.Error())
		if batyrerr.IsDB(err) {
			return err
		}
		return nil
	}

	if err := tx.Commit(ctx); err != nil {
		job.Fail(err.Error())
		return err
	}

	job.Finish(stats)
	return nil
}

func runInTransaction(ctx context.Context, tx Transaction, reader Reader, job *jobmodel.Job, layer config.Layer) (jobmodel.Statistics, error) {
	var stats jobmodel.Statistics

	ds, err := reader.Open(ctx, layer.Source)
	if err != nil {
		return stats, err
	}
	defer ds.Close()

	src, err := ds.SelectLayer(layer.SourceLayer)
	if err != nil {
		return stats, err
	}

	if err := src.SetAttributeFilter(job.Filter()); err != nil {
		return stats, err
	}

	sourceFields, err := src.DescribeFields()
	if err != nil {
		return stats, err
	}
	sourceByName := make(map[string]ogrsource.SourceField, len(sourceFields))
	for _, f := range sourceFields {
		sourceByName[f.Name] = f
	}

	targetFields, err := tx.GetTableFields(ctx, layer.TargetTableSchema, layer.TargetTableName)
	if err != nil {
		return stats, err
	}

	plan, err := planColumns(targetFields, sourceByName)
	if err != nil {
		return stats, err
	}
	if len(plan.pkColumns) == 0 {
		return stats, batyrerr.New(batyrerr.KindNoPrimaryKey,
			"target table "+layer.TargetTableName+" has no primary key")
	}
	var missingPK []string
	for _, pk := range plan.pkColumns {
		if pk == plan.geomColumn {
			continue
		}
		if _, ok := sourceByName[pk]; !ok {
			missingPK = append(missingPK, pk)
		}
	}
	if len(missingPK) > 0 {
		return stats, batyrerr.New(batyrerr.KindMissingPKInSource,
			"primary key column(s) not present in the source layer: "+strings.Join(missingPK, ", "))
	}

	tempName := "batyr_" + job.ID()
	if err := tx.CreateTempTableLike(ctx, layer.TargetTableSchema, layer.TargetTableName, tempName); err != nil {
		return stats, err
	}

	insertStmt, params, err := buildTempInsert(tempName, plan)
	if err != nil {
		return stats, err
	}
	ref, err := tx.Prepare(ctx, "batyr_insert_"+job.ID(), insertStmt, len(params))
	if err != nil {
		return stats, err
	}

	src.ResetReading()
	it := src.Iterate()
	defer it.Close()

	pulled := 0
	for it.Next() {
		feat := it.Feature()
		values, err := renderRow(feat, plan, sourceByName)
		if err != nil {
			return stats, err
		}
		if _, err := tx.ExecPrepared(ctx, ref, values); err != nil {
			return stats, err
		}
		pulled++

		if pulled%500 == 0 {
			job.SetStatistics(jobmodel.Statistics{Pulled: pulled})
		}
	}
	stats.Pulled = pulled
	job.SetStatistics(stats)

	updated, err := mergeUpdate(ctx, tx, layer, tempName, plan)
	if err != nil {
		return stats, err
	}
	stats.Updated = int(updated)

	created, err := mergeInsert(ctx, tx, layer, tempName, plan)
	if err != nil {
		return stats, err
	}
	stats.Created = int(created)

	if layer.SkipDeleteWithFilter && job.Filter() != "" {
		log.ForJob(job.ID()).Info("pull: skipping delete step because a filter is set", "layer", layer.Name)
	} else {
		deleted, err := mergeDelete(ctx, tx, layer, tempName, plan)
		if err != nil {
			return stats, err
		}
		stats.Deleted = int(deleted)
	}

	return stats, nil
}

// columnPlan is the classification of the target table's columns computed
// once per pull, per spec §4.4 step 3.
type columnPlan struct {
	pkColumns     []string
	insertColumns []string // all columns written into the temp table, in order
	updateColumns []string // every non-PK target column (spec §4.4 step 3), whether or not the source populates it
	geomColumn    string   // "" if the target carries no geometry column
	pgTypes       map[string]string
}

func planColumns(targetFields []dbgateway.TargetField, sourceByName map[string]ogrsource.SourceField) (columnPlan, error) {
	var plan columnPlan
	plan.pgTypes = make(map[string]string, len(targetFields))

	geomCount := 0
	for _, f := range targetFields {
		plan.pgTypes[f.Name] = f.PgTypeName
		if f.PgTypeName == "geometry" {
			geomCount++
			plan.geomColumn = f.Name
		}
	}
	if geomCount > 1 {
		return plan, batyrerr.New(batyrerr.KindSchemaMultiGeom,
			"target table has more than one geometry column")
	}

	for _, f := range targetFields {
		if f.IsPrimaryKey {
			plan.pkColumns = append(plan.pkColumns, f.Name)
		}
		if f.Name == plan.geomColumn {
			plan.insertColumns = append(plan.insertColumns, f.Name)
			continue
		}
		if _, ok := sourceByName[f.Name]; ok {
			plan.insertColumns = append(plan.insertColumns, f.Name)
		}
	}
	for _, f := range targetFields {
		if f.IsPrimaryKey {
			continue
		}
		plan.updateColumns = append(plan.updateColumns, f.Name)
	}
	return plan, nil
}

// buildTempInsert builds the parameterized insert statement targeting the
// temp table, one placeholder per insert column with an explicit cast to
// its Postgres type (spec §4.4 step 5), except the geometry column which is
// wrapped in ST_GeomFromWKB(decode($n,'hex')).
func buildTempInsert(tempName string, plan columnPlan) (string, []string, error) {
	if len(plan.insertColumns) == 0 {
		return "", nil, batyrerr.New(batyrerr.KindSchemaMultiGeom, "no insertable columns found on target table")
	}

	placeholders := make([]string, len(plan.insertColumns))
	for i, col := range plan.insertColumns {
		n := i + 1
		if col == plan.geomColumn {
			placeholders[i] = fmt.Sprintf("st_geomfromwkb(decode($%d, 'hex'))", n)
			continue
		}
		placeholders[i] = fmt.Sprintf("$%d::%s", n, plan.pgTypes[col])
	}

	stmt := fmt.Sprintf(
		"insert into %s (%s) values (%s)",
		sqlutil.QuoteIdent(tempName),
		sqlutil.QuoteIdentList(plan.insertColumns),
		strings.Join(placeholders, ", "),
	)
	return stmt, plan.insertColumns, nil
}

// renderRow builds one temp-table insert row, in insertColumns order: the
// geometry column (if any) is WKB-hex-exported directly off the feature,
// every other column is rendered off its matching source field per spec
// §4.4 step 6.
func renderRow(feat Feature, plan columnPlan, sourceByName map[string]ogrsource.SourceField) ([]interface{}, error) {
	values := make([]interface{}, len(plan.insertColumns))
	for i, col := range plan.insertColumns {
		if col == plan.geomColumn {
			hex, err := feat.GeometryWKBHex()
			if err != nil {
				return nil, err
			}
			values[i] = hex
			continue
		}
		sf := sourceByName[col]
		rendered, err := ogrsource.RenderValue(sf, feat)
		if err != nil {
			return nil, err
		}
		values[i] = rendered
	}
	return values, nil
}

func mergeUpdate(ctx context.Context, tx Transaction, layer config.Layer, tempName string, plan columnPlan) (int64, error) {
	if len(plan.updateColumns) == 0 {
		return 0, nil
	}
	setClauses := make([]string, len(plan.updateColumns))
	for i, c := range plan.updateColumns {
		setClauses[i] = fmt.Sprintf("%s = s.%s", sqlutil.QuoteIdent(c), sqlutil.QuoteIdent(c))
	}
	joinPred := pkJoinPredicate(plan.pkColumns, "t", "s")
	changedPred := changedPredicate(plan.updateColumns, "t", "s")

	stmt := fmt.Sprintf(
		"update %s as t set %s from %s as s where %s and (%s)",
		sqlutil.QuoteQualified(layer.TargetTableSchema, layer.TargetTableName),
		strings.Join(setClauses, ", "),
		sqlutil.QuoteIdent(tempName),
		joinPred,
		changedPred,
	)
	res, err := tx.Exec(ctx, stmt)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected, nil
}

// changedPredicate builds the disjunction spec §4.4 step 7.1 requires so the
// update only fires on rows that actually differ, keeping a repeat pull of
// identical data at updated=0.
func changedPredicate(updateColumns []string, left, right string) string {
	preds := make([]string, len(updateColumns))
	for i, c := range updateColumns {
		preds[i] = fmt.Sprintf("%s.%s is distinct from %s.%s", left, sqlutil.QuoteIdent(c), right, sqlutil.QuoteIdent(c))
	}
	return strings.Join(preds, " or ")
}

func mergeInsert(ctx context.Context, tx Transaction, layer config.Layer, tempName string, plan columnPlan) (int64, error) {
	pkList := pkTupleExpr(plan.pkColumns, "")
	stmt := fmt.Sprintf(
		"insert into %s (%s) select %s from %s where (%s) not in (select %s from %s)",
		sqlutil.QuoteQualified(layer.TargetTableSchema, layer.TargetTableName),
		sqlutil.QuoteIdentList(plan.insertColumns),
		sqlutil.QuoteIdentList(plan.insertColumns),
		sqlutil.QuoteIdent(tempName),
		pkList,
		pkList,
		sqlutil.QuoteQualified(layer.TargetTableSchema, layer.TargetTableName),
	)
	res, err := tx.Exec(ctx, stmt)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected, nil
}

func mergeDelete(ctx context.Context, tx Transaction, layer config.Layer, tempName string, plan columnPlan) (int64, error) {
	pkList := pkTupleExpr(plan.pkColumns, "")
	stmt := fmt.Sprintf(
		"delete from %s where (%s) not in (select %s from %s)",
		sqlutil.QuoteQualified(layer.TargetTableSchema, layer.TargetTableName),
		pkList,
		pkList,
		sqlutil.QuoteIdent(tempName),
	)
	res, err := tx.Exec(ctx, stmt)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected, nil
}

func pkTupleExpr(pkColumns []string, prefix string) string {
	quoted := make([]string, len(pkColumns))
	for i, c := range pkColumns {
		if prefix != "" {
			quoted[i] = prefix + "." + sqlutil.QuoteIdent(c)
		} else {
			quoted[i] = sqlutil.QuoteIdent(c)
		}
	}
	return strings.Join(quoted, ", ")
}

func pkJoinPredicate(pkColumns []string, left, right string) string {
	preds := make([]string, len(pkColumns))
	for i, c := range pkColumns {
		preds[i] = fmt.Sprintf("%s.%s is not distinct from %s.%s", left, sqlutil.QuoteIdent(c), right, sqlutil.QuoteIdent(c))
	}
	return strings.Join(preds, " and ")
}
