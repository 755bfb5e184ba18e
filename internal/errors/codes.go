// Package errors provides structured error handling for the retrieval engine.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Store errors (document store, local indexes)
//   - 3XX: Remote dependency errors (embedding, rerank, LLM)
//   - 4XX: Caller-input validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStore indicates document-store and index errors.
	CategoryStore Category = "STORE"
	// CategoryRemote indicates remote scoring/completion service errors.
	CategoryRemote Category = "REMOTE"
	// CategoryValidation indicates caller-input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Store errors (200-299)
	ErrCodeStoreQuery    = "ERR_201_STORE_QUERY"
	ErrCodeIndexRecall   = "ERR_202_INDEX_RECALL"
	ErrCodeStoreCorrupt  = "ERR_203_STORE_CORRUPT"
	ErrCodeStoreConflict = "ERR_204_STORE_CONFLICT"

	// Remote dependency errors (300-399)
	ErrCodeEmbeddingFailed  = "ERR_301_EMBEDDING_FAILED"
	ErrCodeRerankFailed     = "ERR_302_RERANK_FAILED"
	ErrCodeCompletionFailed = "ERR_303_COMPLETION_FAILED"
	ErrCodeRemoteTimeout    = "ERR_304_REMOTE_TIMEOUT"

	// Validation errors (400-499)
	ErrCodeQueryEmpty     = "ERR_401_QUERY_EMPTY"
	ErrCodeDatasetEmpty   = "ERR_402_DATASET_EMPTY"
	ErrCodeInvalidFilter  = "ERR_403_INVALID_FILTER"
	ErrCodeInvalidInput   = "ERR_404_INVALID_INPUT"

	// Internal errors (500-599)
	ErrCodeInternal     = "ERR_501_INTERNAL"
	ErrCodeSearchFailed = "ERR_502_SEARCH_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStore
	case '3':
		return CategoryRemote
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	if code == ErrCodeStoreCorrupt {
		return SeverityFatal
	}
	if isRetryableCode(code) {
		return SeverityWarning
	}
	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
// Remote dependency failures are retryable; validation and config errors
// are not.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeEmbeddingFailed,
		ErrCodeRerankFailed,
		ErrCodeCompletionFailed,
		ErrCodeRemoteTimeout,
		ErrCodeStoreQuery,
		ErrCodeIndexRecall:
		return true
	}
	return false
}
