// Package uploader defines the error taxonomy shared by the data-uploader
// pipeline. Every component failure is classified by a Kind which maps onto
// an HTTP-style status code at the API boundary.
package uploader

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure.
type Kind int

const (
	// Internal is the zero Kind: an unclassified failure.
	Internal Kind = iota
	// InvalidJSON marks a request body which is not a JSON document.
	InvalidJSON
	// SchemaViolation marks a JSON body which fails its request schema.
	SchemaViolation
	// InvalidSourceType marks a dataset whose source.type doesn't match
	// the pipeline it was submitted to.
	InvalidSourceType
	// InvalidType marks a column with mixed or unsupported value types.
	InvalidType
	// InvalidDatasetEdition marks an edition id the metadata service
	// doesn't know about.
	InvalidDatasetEdition
	// InvalidEditionFormat marks an edition id which is not of the form
	// datasetId/version/edition.
	InvalidEditionFormat
	// Unauthorized marks a caller without write access to the dataset.
	Unauthorized
	// DatasetNotFound marks a dataset id unknown to the metadata service.
	DatasetNotFound
	// DataExists marks an attempt to create a resource which already exists.
	DataExists
	// Locked marks an exhausted write-lock acquisition budget.
	Locked
	// MissingMergeColumns marks merge keys absent or null on either side.
	MissingMergeColumns
	// PayloadTooLarge marks a request body over the queue size limit.
	PayloadTooLarge
	// QueueUnavailable marks a failed enqueue of an event batch.
	QueueUnavailable
	// AlertEmail marks a schema-drift notification failure. It is logged
	// by the pipeline and never surfaced to the caller.
	AlertEmail
)

// Status maps the Kind onto its HTTP-style status code.
func (k Kind) Status() int {
	switch k {
	case InvalidJSON, SchemaViolation, InvalidSourceType, InvalidType,
		InvalidDatasetEdition, PayloadTooLarge:
		return 400
	case Unauthorized:
		return 403
	case DatasetNotFound:
		return 404
	case DataExists, Locked:
		return 409
	case InvalidEditionFormat, MissingMergeColumns:
		return 422
	case QueueUnavailable:
		return 503
	default:
		return 500
	}
}

// String names the Kind for logging.
func (k Kind) String() string {
	switch k {
	case InvalidJSON:
		return "InvalidJSON"
	case SchemaViolation:
		return "SchemaViolation"
	case InvalidSourceType:
		return "InvalidSourceType"
	case InvalidType:
		return "InvalidType"
	case InvalidDatasetEdition:
		return "InvalidDatasetEdition"
	case InvalidEditionFormat:
		return "InvalidEditionFormat"
	case Unauthorized:
		return "Unauthorized"
	case DatasetNotFound:
		return "DatasetNotFound"
	case DataExists:
		return "DataExists"
	case Locked:
		return "Locked"
	case MissingMergeColumns:
		return "MissingMergeColumns"
	case PayloadTooLarge:
		return "PayloadTooLarge"
	case QueueUnavailable:
		return "QueueUnavailable"
	case AlertEmail:
		return "AlertEmail"
	default:
		return "Internal"
	}
}

// Error is a classified pipeline failure. Detail is the caller-visible
// message; Err is an optional wrapped cause.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Detail == "" {
		return e.Err.Error()
	}
	return e.Detail
}

func (e *Error) Unwrap() error { return e.Err }

// E builds an Error of the given Kind with a formatted detail message.
func E(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given Kind around a cause.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the Kind of an error, walking its wrap chain.
// Unclassified errors are Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}
