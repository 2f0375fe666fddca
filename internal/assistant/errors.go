package assistant

import (
	"errors"
	"strings"

	"github.com/sqlscribe/sqlscribe/internal/nl2sql"
	"github.com/sqlscribe/sqlscribe/internal/project"
	"github.com/sqlscribe/sqlscribe/internal/query"
	"github.com/sqlscribe/sqlscribe/internal/sqlguard"
	"github.com/sqlscribe/sqlscribe/internal/vectorstore"
)

const (
	CodeMessageRequired = "MESSAGE_REQUIRED"
	CodeInvalidProject  = "INVALID_PROJECT"
	CodeStoreMissing    = "STORE_UNAVAILABLE"
	CodeGeneration      = "GENERATION_FAILED"
	CodeUnsafeQuery     = "UNSAFE_QUERY"
	CodeQueryFailed     = "QUERY_EXECUTION_FAILED"
	CodeInternal        = "INTERNAL_ERROR"
)

// ErrorCode classifies a pipeline error into the code callers see.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return CodeMessageRequired
	case errors.Is(err, project.ErrInvalidName):
		return CodeInvalidProject
	case errors.Is(err, vectorstore.ErrStoreUnavailable):
		return CodeStoreMissing
	case errors.Is(err, nl2sql.ErrGenerationFailed):
		return CodeGeneration
	case errors.Is(err, sqlguard.ErrUnsafeQuery):
		return CodeUnsafeQuery
	case errors.Is(err, query.ErrDatabase):
		return CodeQueryFailed
	default:
		return CodeInternal
	}
}

// Retryable reports whether repeating the same request may succeed.
func Retryable(err error) bool {
	switch ErrorCode(err) {
	case CodeGeneration:
		return nl2sql.IsRetryable(err)
	case CodeInternal:
		return true
	default:
		return false
	}
}

func outcomeFor(err error) string {
	if err == nil {
		return "success"
	}
	return strings.ToLower(ErrorCode(err))
}
