package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	apperrors "matchmaker/backend/pkg/errors"
)

// statusFor maps the error taxonomy onto HTTP status codes
func statusFor(err error) int {
	switch {
	case apperrors.IsPersonaNotFound(err), apperrors.IsMatchNotFound(err):
		return http.StatusNotFound
	case apperrors.IsInvalidStatusTransition(err), apperrors.IsLedgerWriteConflict(err):
		return http.StatusConflict
	case apperrors.IsEmptyResponseHistory(err):
		return http.StatusUnprocessableEntity
	case apperrors.IsErrorType(err, apperrors.ErrorTypeLedger),
		apperrors.IsErrorType(err, apperrors.ErrorTypeGraph),
		apperrors.IsErrorType(err, apperrors.ErrorTypeOracle):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(c *gin.Context, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed",
			zap.String("operation", op),
			zap.Int("status", status),
			zap.Error(err),
		)
	}

	body := gin.H{"error": err.Error()}
	if t := apperrors.TypeOf(err); t != "" {
		body["type"] = string(t)
	}
	c.JSON(status, body)
}
