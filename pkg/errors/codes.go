package errors

type Code string

const (
	CodeUnknown             Code = "UNKNOWN"
	CodeInvalidArgument     Code = "INVALID_ARGUMENT"
	CodeNotFound            Code = "NOT_FOUND"
	CodeUnauthenticated     Code = "UNAUTHENTICATED"
	CodeRateLimited         Code = "RATE_LIMITED"
	CodeTimeout             Code = "TIMEOUT"
	CodeMalformed           Code = "MALFORMED"
	CodeUpstream            Code = "UPSTREAM"
	CodeUnsupported         Code = "UNSUPPORTED"
	CodeDataAnomaly         Code = "DATA_ANOMALY"
	CodePersistenceConflict Code = "PERSISTENCE_CONFLICT"
	CodeSyncInProgress      Code = "SYNC_IN_PROGRESS"
	CodeInternal            Code = "INTERNAL"
)
