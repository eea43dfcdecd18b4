package delivery

import (
	"net/http"

	apperrors "dmsync-backend/pkg/errors"

	"github.com/gin-gonic/gin"
)

// statusFor maps an error code to the HTTP status returned to API callers.
func statusFor(code apperrors.Code) int {
	switch code {
	case apperrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case apperrors.CodeNotFound:
		return http.StatusNotFound
	case apperrors.CodeUnauthenticated:
		return http.StatusUnauthorized
	case apperrors.CodeRateLimited:
		return http.StatusTooManyRequests
	case apperrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case apperrors.CodeMalformed, apperrors.CodeUpstream, apperrors.CodeUnsupported:
		return http.StatusBadGateway
	case apperrors.CodeDataAnomaly:
		return http.StatusUnprocessableEntity
	case apperrors.CodePersistenceConflict, apperrors.CodeSyncInProgress:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func errorBody(err error) gin.H {
	code := apperrors.CodeOf(err)
	body := gin.H{"error": err.Error(), "code": code}
	if code == apperrors.CodeUnauthenticated {
		// The account has to go through the connection flow again
		body["reconnect_required"] = true
	}
	return body
}

func writeError(c *gin.Context, err error) {
	c.JSON(statusFor(apperrors.CodeOf(err)), errorBody(err))
}
