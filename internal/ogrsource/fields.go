package ogrsource

import (
	"strconv"

	"github.com/batyrsync/batyrd/internal/batyrerr"
)

// FieldType is a tagged variant over the OGR field types this system
// understands, per spec §9's "dynamic OGR field-type dispatch... unknown
// tags fail loudly rather than silently stringifying".
type FieldType int

const (
	FieldTypeString FieldType = iota
	FieldTypeInteger
	FieldTypeReal
	FieldTypeUnsupported
)

// SourceField is one attribute column of the OGR layer, name lowercased
// from the source's original casing (spec §3).
type SourceField struct {
	Name    string
	Index   int
	OGRType FieldType
}

// FeatureValues is the minimal per-feature accessor the render step needs;
// implemented by the godal-backed Feature and by test fakes alike.
type FeatureValues interface {
	FieldAsString(index int) string
	FieldAsInteger(index int) int64
	FieldAsFloat(index int) float64
}

// RenderValue converts one attribute of feature to the text representation
// the insert statement's parameter list expects (spec §4.4 step 6). Any
// OGR type outside STRING/INTEGER/REAL fails loudly with
// UNSUPPORTED_OGR_TYPE rather than falling back to a generic stringify.
func RenderValue(field SourceField, feature FeatureValues) (string, error) {
	switch field.OGRType {
	case FieldTypeString:
		return feature.FieldAsString(field.Index), nil
	case FieldTypeInteger:
		return strconv.FormatInt(feature.FieldAsInteger(field.Index), 10), nil
	case FieldTypeReal:
		// FormatFloat with -1 precision and 'g' verb rounds-trips a
		// float64 exactly, matching spec §4.4's "must round-trip for
		// doubles" requirement.
		return strconv.FormatFloat(feature.FieldAsFloat(field.Index), 'g', -1, 64), nil
	default:
		return "", batyrerr.New(batyrerr.KindUnsupportedOgrType, "unsupported OGR field type for column "+field.Name)
	}
}
