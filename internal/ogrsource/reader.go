// Package ogrsource implements the OGR Source Reader (spec §4.3, C3): open
// a dataset, select a layer, apply an attribute filter, stream features and
// encode geometry as WKB-hex.
//
// No repository in the retrieved corpus touches vector geospatial data, so
// this component's backing library isn't grounded in the pack; it mirrors
// original_source/src/server/worker.cpp's use of OGRSFDriverRegistrar /
// OGRDataSource / OGRLayer / OGRFeature via github.com/airbusgeo/godal, the
// idiomatic Go binding over the same GDAL/OGR C library (see DESIGN.md).
package ogrsource

import (
	"context"
	"strings"
	"sync"

	"github.com/airbusgeo/godal"

	"github.com/batyrsync/batyrd/internal/batyrerr"
)

var registerOnce sync.Once

// Register initializes the process-wide GDAL/OGR driver registry exactly
// once (spec §5: "OGR driver registry: process-wide; initialized once at
// startup").
func Register() {
	registerOnce.Do(func() {
		godal.RegisterAll()
	})
}

// Reader opens OGR datasets. It has no state of its own beyond triggering
// driver registration, so a zero value is usable.
type Reader struct{}

// New returns a Reader, ensuring the driver registry is initialized.
func New() *Reader {
	Register()
	return &Reader{}
}

// Open opens sourceConnString with the OGR vector drivers, per spec §4.3.
func (r *Reader) Open(ctx context.Context, sourceConnString string) (*Dataset, error) {
	ds, err := godal.Open(sourceConnString, godal.VectorOnly())
	if err != nil {
		return nil, batyrerr.Wrap(batyrerr.KindSourceOpen, err, "could not open dataset "+sourceConnString)
	}
	return &Dataset{ds: ds}, nil
}

// Dataset wraps an open OGR dataset.
type Dataset struct {
	ds *godal.Dataset
}

// Close releases the dataset's resources.
func (d *Dataset) Close() error {
	return d.ds.Close()
}

// SelectLayer finds the layer named name inside the dataset.
func (d *Dataset) SelectLayer(name string) (*Layer, error) {
	for _, l := range d.ds.Layers() {
		if l.Name() == name {
			return &Layer{layer: l}, nil
		}
	}
	return nil, batyrerr.New(batyrerr.KindSourceLayerMissing, "source_layer \""+name+"\" not found in dataset")
}

// Layer wraps an OGR layer selected out of a Dataset.
type Layer struct {
	layer *godal.Layer
}

// SetAttributeFilter applies an OGR SQL-like attribute filter expression
// (spec §4.3). CPL's global error buffer is reset immediately before and
// after the call, per spec §9's note on driver-global error state, so a
// stale error from an earlier operation is never misattributed here.
func (l *Layer) SetAttributeFilter(expr string) error {
	if expr == "" {
		return nil
	}
	godal.ErrorReset()
	if err := l.layer.SetAttributeFilter(expr); err != nil {
		msg := "the given filter is invalid"
		if cause := godal.LastErrorMsg(); cause != "" {
			msg += ": " + cause
		}
		msg += ". The applied filter was [ " + expr + " ]"
		godal.ErrorReset()
		return batyrerr.Wrap(batyrerr.KindSourceFilterBad, err, msg)
	}
	godal.ErrorReset()
	return nil
}

// DescribeFields returns the layer's non-geometry attribute schema with
// lowercased names, per spec §4.3. It also enforces the "exactly one
// geometry field" constraint (spec §4.3's SOURCE_MULTI_GEOMETRY).
func (l *Layer) DescribeFields() ([]SourceField, error) {
	defn := l.layer.Definition()
	if defn.GeomFieldCount() != 1 {
		return nil, batyrerr.New(batyrerr.KindSourceMultiGeom,
			"the source provides a layer with a geometry field count other than one")
	}

	fields := defn.Fields()
	out := make([]SourceField, len(fields))
	for i, f := range fields {
		out[i] = SourceField{
			Name:    strings.ToLower(f.Name()),
			Index:   i,
			OGRType: mapFieldType(f.Type()),
		}
	}
	return out, nil
}

func mapFieldType(t godal.FieldType) FieldType {
	switch t {
	case godal.FieldTypeString:
		return FieldTypeString
	case godal.FieldTypeInteger, godal.FieldTypeInteger64:
		return FieldTypeInteger
	case godal.FieldTypeReal:
		return FieldTypeReal
	default:
		return FieldTypeUnsupported
	}
}

// ResetReading rewinds the feature cursor to the beginning (spec §4.4 step 1).
func (l *Layer) ResetReading() {
	l.layer.ResetReading()
}

// FeatureIterator streams the layer's features once, in driver order (spec
// §4.3: "finite, not restartable").
type FeatureIterator struct {
	it  *godal.FeatureIterator
	cur *godal.Feature
	err error
}

// Iterate returns a fresh, single-pass iterator over the layer's features.
func (l *Layer) Iterate() *FeatureIterator {
	return &FeatureIterator{it: l.layer.FeatureIterator()}
}

// Next advances the cursor, returning false once the underlying iterator
// yields no further feature.
func (it *FeatureIterator) Next() bool {
	feat, ok := it.it.Next()
	if !ok {
		return false
	}
	it.cur = feat
	return true
}

// Err returns the iterator's recorded error. Next never records one, so Err
// currently always returns nil.
func (it *FeatureIterator) Err() error {
	return it.err
}

// Feature exposes the current feature's field and geometry accessors.
func (it *FeatureIterator) Feature() *Feature {
	return &Feature{feat: it.cur}
}

// Close releases the iterator's resources.
func (it *FeatureIterator) Close() {
	it.it.Close()
}

// Feature wraps one OGR feature.
type Feature struct {
	feat *godal.Feature
}

func (f *Feature) FieldAsString(index int) string { return f.feat.FieldAsString(index) }
func (f *Feature) FieldAsInteger(index int) int64 { return f.feat.FieldAsInteger64(index) }
func (f *Feature) FieldAsFloat(index int) float64 { return f.feat.FieldAsFloat64(index) }

// GeometryWKBHex exports the feature's geometry as little-endian WKB,
// hex-encoded, per spec §4.4 step 6. A failure to export is
// GEOMETRY_EXPORT, not a panic or silent empty geometry.
func (f *Feature) GeometryWKBHex() (string, error) {
	geom := f.feat.Geometry()
	if geom == nil {
		return "", batyrerr.New(batyrerr.KindGeometryExport, "feature has no geometry")
	}
	wkb, err := geom.WKB()
	if err != nil {
		return "", batyrerr.Wrap(batyrerr.KindGeometryExport, err, "could not export the geometry")
	}
	return strings.ToUpper(hexEncode(wkb)), nil
}

func hexEncode(b []byte) string {
	const hexDigits = "0123456789ABCDEF"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexDigits[c>>4]
		out[i*2+1] = hexDigits[c&0x0f]
	}
	return string(out)
}
