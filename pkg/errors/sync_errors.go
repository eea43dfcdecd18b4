package errors

var (
	ErrAccountNotFound        = NotFound("account connection not found")
	ErrMissingAccessToken     = Unauthorized("access token missing")
	ErrTokenExpired           = Unauthorized("access token expired")
	ErrSyncInProgress         = New(CodeSyncInProgress, "sync already in progress for account")
	ErrConversationUnresolved = DataAnomaly("conversation id unresolved")
	ErrParticipantUnresolved  = DataAnomaly("participant unresolved")
	ErrParticipantIsSelf      = DataAnomaly("resolved participant equals self id")
	ErrEventMissingMessageID  = InvalidArg("event has no message id")
	ErrEventMissingSender     = InvalidArg("event has no sender or recipient")
)

func ErrConversationConflict(cause error) error {
	return Wrap(CodePersistenceConflict, "conversation upsert conflict", cause)
}

func ErrUpstreamTimeout(cause error) error {
	return Wrap(CodeTimeout, "upstream call timed out", cause)
}
