package ogrsource

import (
	"testing"

	"github.com/batyrsync/batyrd/internal/batyrerr"
)

type fakeFeature struct {
	strings map[int]string
	ints    map[int]int64
	floats  map[int]float64
}

func (f fakeFeature) FieldAsString(index int) string { return f.strings[index] }
func (f fakeFeature) FieldAsInteger(index int) int64 { return f.ints[index] }
func (f fakeFeature) FieldAsFloat(index int) float64 { return f.floats[index] }

func TestRenderValueString(t *testing.T) {
	feat := fakeFeature{strings: map[int]string{0: "parcel-1"}}
	got, err := RenderValue(SourceField{Name: "name", Index: 0, OGRType: FieldTypeString}, feat)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "parcel-1" {
		t.Fatalf("got %q, want parcel-1", got)
	}
}

func TestRenderValueInteger(t *testing.T) {
	feat := fakeFeature{ints: map[int]int64{1: -42}}
	got, err := RenderValue(SourceField{Name: "count", Index: 1, OGRType: FieldTypeInteger}, feat)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "-42" {
		t.Fatalf("got %q, want -42", got)
	}
}

func TestRenderValueRealRoundTrips(t *testing.T) {
	feat := fakeFeature{floats: map[int]float64{2: 0.1}}
	got, err := RenderValue(SourceField{Name: "area", Index: 2, OGRType: FieldTypeReal}, feat)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "0.1" {
		t.Fatalf("got %q, want 0.1", got)
	}
}

func TestRenderValueUnsupportedType(t *testing.T) {
	feat := fakeFeature{}
	_, err := RenderValue(SourceField{Name: "blob", Index: 3, OGRType: FieldTypeUnsupported}, feat)
	if err == nil {
		t.Fatal("expected an error for an unsupported OGR field type")
	}
	var berr *batyrerr.Error
	if !batyrerr.As(err, &berr) {
		t.Fatalf("expected a *batyrerr.Error, got %T", err)
	}
	if berr.Kind != batyrerr.KindUnsupportedOgrType {
		t.Fatalf("got kind %v, want %v", berr.Kind, batyrerr.KindUnsupportedOgrType)
	}
}
