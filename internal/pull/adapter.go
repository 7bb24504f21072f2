package pull

import (
	"context"

	"github.com/batyrsync/batyrd/internal/dbgateway"
	"github.com/batyrsync/batyrd/internal/ogrsource"
)

// WrapGateway adapts a *dbgateway.Gateway, whose GetTransaction returns a
// concrete *dbgateway.Transaction, to the Gateway interface Run expects.
// *dbgateway.Transaction already implements Transaction directly since none
// of its methods return an interface type.
func WrapGateway(g *dbgateway.Gateway) Gateway {
	return gatewayAdapter{g}
}

type gatewayAdapter struct{ g *dbgateway.Gateway }

func (a gatewayAdapter) GetTransaction(ctx context.Context) (Transaction, error) {
	tx, err := a.g.GetTransaction(ctx)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// WrapReader adapts a *ogrsource.Reader to the Reader interface Run expects.
// Every intermediate ogrsource type returns a concrete pointer rather than
// an interface, so each layer needs its own thin adapter.
func WrapReader(r *ogrsource.Reader) Reader {
	return readerAdapter{r}
}

type readerAdapter struct{ r *ogrsource.Reader }

func (a readerAdapter) Open(ctx context.Context, sourceConnString string) (Dataset, error) {
	ds, err := a.r.Open(ctx, sourceConnString)
	if err != nil {
		return nil, err
	}
	return datasetAdapter{ds}, nil
}

type datasetAdapter struct{ ds *ogrsource.Dataset }

func (a datasetAdapter) SelectLayer(name string) (Layer, error) {
	l, err := a.ds.SelectLayer(name)
	if err != nil {
		return nil, err
	}
	return layerAdapter{l}, nil
}

func (a datasetAdapter) Close() error { return a.ds.Close() }

type layerAdapter struct{ l *ogrsource.Layer }

func (a layerAdapter) SetAttributeFilter(expr string) error { return a.l.SetAttributeFilter(expr) }

func (a layerAdapter) DescribeFields() ([]ogrsource.SourceField, error) {
	return a.l.DescribeFields()
}

func (a layerAdapter) ResetReading() { a.l.ResetReading() }

func (a layerAdapter) Iterate() FeatureIterator {
	return iteratorAdapter{a.l.Iterate()}
}

type iteratorAdapter struct{ it *ogrsource.FeatureIterator }

func (a iteratorAdapter) Next() bool { return a.it.Next() }

func (a iteratorAdapter) Feature() Feature { return featureAdapter{a.it.Feature()} }

func (a iteratorAdapter) Close() { a.it.Close() }

type featureAdapter struct{ f *ogrsource.Feature }

func (a featureAdapter) FieldAsString(index int) string { return a.f.FieldAsString(index) }
func (a featureAdapter) FieldAsInteger(index int) int64 { return a.f.FieldAsInteger(index) }
func (a featureAdapter) FieldAsFloat(index int) float64 { return a.f.FieldAsFloat(index) }

func (a featureAdapter) GeometryWKBHex() (string, error) { return a.f.GeometryWKBHex() }
