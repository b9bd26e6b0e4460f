package metrics

import "codeberg.org/mutker/climactl/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrInvalidDBPath = errors.ErrorCode("dutylog_invalid_db_path")

	// Schema Errors
	ErrSchemaInitFailed       = errors.ErrorCode("dutylog_schema_init_failed")
	ErrSchemaValidationFailed = errors.ErrorCode("dutylog_schema_validation_failed")
	ErrSchemaMigrationFailed  = errors.ErrorCode("dutylog_schema_migration_failed")
	ErrTransactionFailed      = errors.ErrorCode("dutylog_transaction_failed")

	// Storage Errors
	ErrStorageInit  = errors.ErrInitMetrics
	ErrStorageQuery = errors.ErrorCode("dutylog_query_failed")
	ErrStorageClose = errors.ErrCloseMetrics

	// Recording Errors
	ErrRecord = errors.ErrRecordMetrics
)

// storageFailure is the data attached to storage errors.
type storageFailure struct {
	Phase  string
	Target string
}

func (f storageFailure) String() string {
	if f.Target == "" {
		return f.Phase
	}
	return f.Phase + " " + f.Target
}

func storageError(code errors.ErrorCode, phase, target string, err error) errors.Error {
	return errors.New().Wrap(code, err).WithData(storageFailure{Phase: phase, Target: target})
}
