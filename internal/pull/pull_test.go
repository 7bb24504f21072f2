package pull_test

import (
	"context"
	"strings"
	"testing"

	"github.com/batyrsync/batyrd/internal/batyrerr"
	"github.com/batyrsync/batyrd/internal/config"
	"github.com/batyrsync/batyrd/internal/dbgateway"
	"github.com/batyrsync/batyrd/internal/jobmodel"
	"github.com/batyrsync/batyrd/internal/ogrsource"
	"github.com/batyrsync/batyrd/internal/pull"
	"github.com/batyrsync/batyrd/internal/pulltest"
)

func testLayer() config.Layer {
	return config.Layer{
		Name:              "parcels",
		Source:            "/data/parcels.shp",
		SourceLayer:       "parcels",
		TargetTableSchema: "public",
		TargetTableName:   "parcels",
	}
}

func targetFields() []dbgateway.TargetField {
	return []dbgateway.TargetField{
		{Name: "id", PgTypeName: "int4", IsPrimaryKey: true},
		{Name: "name", PgTypeName: "text"},
		{Name: "wkb_geometry", PgTypeName: "geometry"},
	}
}

func sourceFields() []ogrsource.SourceField {
	return []ogrsource.SourceField{
		{Name: "id", Index: 0, OGRType: ogrsource.FieldTypeInteger},
		{Name: "name", Index: 1, OGRType: ogrsource.FieldTypeString},
	}
}

func newFixture(rows []Row, features []*pulltest.FakeFeature) (*pulltest.FakeGateway, *pulltest.FakeReader) {
	tx := &pulltest.FakeTransaction{TargetFields: targetFields(), TargetRows: toPulltestRows(rows)}
	gw := &pulltest.FakeGateway{Tx: tx}

	layer := &pulltest.FakeLayer{Fields: sourceFields(), Features: features}
	ds := &pulltest.FakeDataset{Layers: map[string]*pulltest.FakeLayer{"parcels": layer}}
	reader := &pulltest.FakeReader{Dataset: ds}
	return gw, reader
}

// Row is a small literal helper local to this test file so table data reads
// naturally; it is converted to pulltest.Row before use.
type Row map[string]interface{}

func toPulltestRows(rows []Row) []pulltest.Row {
	out := make([]pulltest.Row, len(rows))
	for i, r := range rows {
		out[i] = pulltest.Row(r)
	}
	return out
}

func feature(id int64, name, geomHex string) *pulltest.FakeFeature {
	return &pulltest.FakeFeature{
		Ints:    map[int]int64{0: id},
		Strings: map[int]string{1: name},
		GeomHex: geomHex,
	}
}

// S1: round-trip identity. The target already matches the source exactly;
// every row matches on primary key but no column differs, so nothing is
// updated, created or deleted.
func TestPullRoundTripIdentity(t *testing.T) {
	gw, reader := newFixture(
		[]Row{{"id": "1", "name": "Old", "wkb_geometry": "AA"}},
		[]*pulltest.FakeFeature{feature(1, "Old", "AA")},
	)
	job := jobmodel.New("parcels", "")
	job.Start()

	if err := pull.Run(context.Background(), gw, reader, job, testLayer()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if job.Status() != jobmodel.StatusFinished {
		t.Fatalf("status = %v, want finished (message: %s)", job.Status(), job.Message())
	}
	stats := job.Statistics()
	if stats.Pulled != 1 || stats.Updated != 0 || stats.Created != 0 || stats.Deleted != 0 {
		t.Fatalf("stats = %+v, want {1,0,0,0}", stats)
	}
	if !gw.Tx.Committed {
		t.Fatal("expected transaction to be committed")
	}
}

// S2: mixed operations - one row updated, one created, one deleted.
func TestPullMixedOperations(t *testing.T) {
	gw, reader := newFixture(
		[]Row{
			{"id": "1", "name": "Old", "wkb_geometry": "AA"},
			{"id": "2", "name": "Gone", "wkb_geometry": "BB"},
		},
		[]*pulltest.FakeFeature{
			feature(1, "New", "AA"),
			feature(3, "Fresh", "CC"),
		},
	)
	job := jobmodel.New("parcels", "")
	job.Start()

	if err := pull.Run(context.Background(), gw, reader, job, testLayer()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	stats := job.Statistics()
	if stats.Pulled != 2 || stats.Updated != 1 || stats.Created != 1 || stats.Deleted != 1 {
		t.Fatalf("stats = %+v, want {2,1,1,1}", stats)
	}
	if len(gw.Tx.TargetRows) != 2 {
		t.Fatalf("target has %d rows, want 2", len(gw.Tx.TargetRows))
	}
}

// A target-only column absent from the source (spec §4.4 step 3: "every
// column that may legally be overwritten") is still part of update_columns
// and gets nulled out by the merge on any differing row, since the
// LIKE-cloned temp table never populates it.
func TestPullNullsTargetOnlyColumnsOnUpdate(t *testing.T) {
	fields := []dbgateway.TargetField{
		{Name: "id", PgTypeName: "int4", IsPrimaryKey: true},
		{Name: "name", PgTypeName: "text"},
		{Name: "notes", PgTypeName: "text"},
		{Name: "wkb_geometry", PgTypeName: "geometry"},
	}
	tx := &pulltest.FakeTransaction{
		TargetFields: fields,
		TargetRows:   toPulltestRows([]Row{{"id": "1", "name": "Old", "notes": "keep me?", "wkb_geometry": "AA"}}),
	}
	gw := &pulltest.FakeGateway{Tx: tx}
	layer := &pulltest.FakeLayer{Fields: sourceFields(), Features: []*pulltest.FakeFeature{feature(1, "New", "AA")}}
	ds := &pulltest.FakeDataset{Layers: map[string]*pulltest.FakeLayer{"parcels": layer}}
	reader := &pulltest.FakeReader{Dataset: ds}

	job := jobmodel.New("parcels", "")
	job.Start()

	if err := pull.Run(context.Background(), gw, reader, job, testLayer()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	stats := job.Statistics()
	if stats.Updated != 1 {
		t.Fatalf("updated = %d, want 1", stats.Updated)
	}
	if got := tx.TargetRows[0]["notes"]; got != nil {
		t.Fatalf("notes = %v, want nil (source has no matching field)", got)
	}
}

// S3: a target row carrying a NULL primary key finds no source row with a
// matching key here, and is never deleted, per SQL's three-valued NOT IN
// semantics.
func TestPullLeavesNullPrimaryKeyRowsAlone(t *testing.T) {
	gw, reader := newFixture(
		[]Row{{"id": nil, "name": "Legacy", "wkb_geometry": "AA"}},
		[]*pulltest.FakeFeature{feature(1, "New", "BB")},
	)
	job := jobmodel.New("parcels", "")
	job.Start()

	if err := pull.Run(context.Background(), gw, reader, job, testLayer()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	stats := job.Statistics()
	if stats.Deleted != 0 {
		t.Fatalf("deleted = %d, want 0 (NULL pk row must survive)", stats.Deleted)
	}
	if stats.Created != 1 {
		t.Fatalf("created = %d, want 1", stats.Created)
	}
	if len(gw.Tx.TargetRows) != 2 {
		t.Fatalf("target has %d rows, want 2 (legacy row kept + one inserted)", len(gw.Tx.TargetRows))
	}
}

// S4: an invalid attribute filter fails the job with SOURCE_FILTER_INVALID
// and never reaches the database merge phase.
func TestPullInvalidFilterFailsJob(t *testing.T) {
	gw, reader := newFixture(nil, nil)
	layer := &pulltest.FakeLayer{Fields: sourceFields(), FilterErr: batyrerr.New(batyrerr.KindSourceFilterBad, "bad filter")}
	reader.Dataset.Layers["parcels"] = layer

	job := jobmodel.New("parcels", "name = ")
	job.Start()
	if err := pull.Run(context.Background(), gw, reader, job, testLayer()); err != nil {
		t.Fatalf("Run should absorb job failures, got error: %v", err)
	}
	if job.Status() != jobmodel.StatusFailed {
		t.Fatalf("status = %v, want failed", job.Status())
	}
	if gw.Tx.Committed {
		t.Fatal("transaction must not be committed on failure")
	}
}

// S5: a primary key column missing from the source layer fails the job
// with MISSING_PK_IN_SOURCE.
func TestPullMissingPrimaryKeyInSource(t *testing.T) {
	gw, reader := newFixture(nil, nil)
	layer := &pulltest.FakeLayer{
		Fields: []ogrsource.SourceField{{Name: "name", Index: 0, OGRType: ogrsource.FieldTypeString}},
	}
	reader.Dataset.Layers["parcels"] = layer

	job := jobmodel.New("parcels", "")
	job.Start()
	if err := pull.Run(context.Background(), gw, reader, job, testLayer()); err != nil {
		t.Fatalf("Run should absorb job failures, got error: %v", err)
	}
	if job.Status() != jobmodel.StatusFailed {
		t.Fatalf("status = %v, want failed", job.Status())
	}
	if !strings.Contains(job.Message(), string(batyrerr.KindMissingPKInSource)) {
		t.Fatalf("message = %q, want it to mention %s", job.Message(), batyrerr.KindMissingPKInSource)
	}
}

// A composite primary key with more than one column missing from the
// source must list every missing name in the job's failure message, not
// just the first one encountered.
func TestPullMissingPrimaryKeyInSourceListsAllMissingColumns(t *testing.T) {
	fields := []dbgateway.TargetField{
		{Name: "id_a", PgTypeName: "int4", IsPrimaryKey: true},
		{Name: "id_b", PgTypeName: "int4", IsPrimaryKey: true},
		{Name: "wkb_geometry", PgTypeName: "geometry"},
	}
	tx := &pulltest.FakeTransaction{TargetFields: fields}
	gw := &pulltest.FakeGateway{Tx: tx}
	layer := &pulltest.FakeLayer{
		Fields: []ogrsource.SourceField{{Name: "name", Index: 0, OGRType: ogrsource.FieldTypeString}},
	}
	ds := &pulltest.FakeDataset{Layers: map[string]*pulltest.FakeLayer{"parcels": layer}}
	reader := &pulltest.FakeReader{Dataset: ds}

	job := jobmodel.New("parcels", "")
	job.Start()
	if err := pull.Run(context.Background(), gw, reader, job, testLayer()); err != nil {
		t.Fatalf("Run should absorb job failures, got error: %v", err)
	}
	if job.Status() != jobmodel.StatusFailed {
		t.Fatalf("status = %v, want failed", job.Status())
	}
	if !strings.Contains(job.Message(), "id_a") || !strings.Contains(job.Message(), "id_b") {
		t.Fatalf("message = %q, want it to mention both id_a and id_b", job.Message())
	}
}

// S6: the database is unavailable when the worker attempts to dispatch the
// job; Run must return the DB_CONNECT error so the Worker can react.
func TestPullDBUnavailableAtDispatch(t *testing.T) {
	gw := &pulltest.FakeGateway{Err: batyrerr.New(batyrerr.KindDBConnect, "no healthy database connection")}
	_, reader := newFixture(nil, nil)

	job := jobmodel.New("parcels", "")
	job.Start()
	err := pull.Run(context.Background(), gw, reader, job, testLayer())
	if err == nil {
		t.Fatal("expected a DB_CONNECT error to propagate")
	}
	if !batyrerr.IsDB(err) {
		t.Fatalf("expected a DB error, got %v", err)
	}
	if job.Status() != jobmodel.StatusFailed {
		t.Fatalf("status = %v, want failed", job.Status())
	}
}
