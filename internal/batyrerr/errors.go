// Package batyrerr defines the typed error kinds surfaced by the core pull
// pipeline, per spec §7. pull.Run marks the job FAILED on every error and
// uses IsDB to decide which errors it also returns to the Worker, which
// logs them.
package batyrerr

import "fmt"

// Kind classifies a batyrd error.
type Kind string

const (
	KindConfig             Kind = "CONFIG"
	KindSourceOpen         Kind = "SOURCE_OPEN"
	KindSourceLayerMissing Kind = "SOURCE_LAYER_NOT_FOUND"
	KindSourceFilterBad    Kind = "SOURCE_FILTER_INVALID"
	KindSourceMultiGeom    Kind = "SOURCE_MULTI_GEOMETRY"
	KindUnsupportedOgrType Kind = "UNSUPPORTED_OGR_TYPE"
	KindGeometryExport     Kind = "GEOMETRY_EXPORT"
	KindSchemaMultiGeom    Kind = "SCHEMA_MULTI_GEOMETRY"
	KindNoPrimaryKey       Kind = "NO_PRIMARY_KEY"
	KindMissingPKInSource  Kind = "MISSING_PK_IN_SOURCE"
	KindDBConnect          Kind = "DB_CONNECT"
	KindDBQuery            Kind = "DB_QUERY"
	KindDBProtocol         Kind = "DB_PROTOCOL"
)

// Error is the single error type returned by every core package. It carries
// enough context for the Worker to build the job's message string verbatim
// (spec §7: "each failed job carries exactly one human-readable message").
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Message, e.Cause.Error())
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// IsDB reports whether err is one of the DB_* kinds, per the Worker's
// dispatch in spec §4.5.
func IsDB(err error) bool {
	var e *Error
	if !As(err, &e) {
		return false
	}
	switch e.Kind {
	case KindDBConnect, KindDBQuery, KindDBProtocol:
		return true
	default:
		return false
	}
}

// As is a thin wrapper so callers don't need to import errors for the common
// case of pulling the *Error out of an error chain.
func As(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
