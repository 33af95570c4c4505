package server

import (
	"errors"
	"net/http"
	"sync"

	"github.com/MarcoPoloResearchLab/qna/internal/faults"
	"github.com/MarcoPoloResearchLab/qna/internal/votes"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const voteTypeValidationTag = "votetype"

var (
	errUnexpectedValidatorEngine = errors.New("unexpected gin validator engine")

	validatorsOnce sync.Once
	validatorsErr  error
)

// registerValidators installs the custom binding rules on gin's shared validator.
func registerValidators() error {
	validatorsOnce.Do(func() {
		engine, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			validatorsErr = errUnexpectedValidatorEngine
			return
		}
		validatorsErr = engine.RegisterValidation(voteTypeValidationTag, func(field validator.FieldLevel) bool {
			_, err := votes.ParseDirection(field.Field().String())
			return err == nil
		})
	})
	return validatorsErr
}

func statusForKind(kind faults.Kind) int {
	switch kind {
	case faults.KindValidation:
		return http.StatusBadRequest
	case faults.KindNotFound:
		return http.StatusNotFound
	case faults.KindForbidden:
		return http.StatusForbidden
	case faults.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the stable error body for err and aborts the chain.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	kind := faults.KindOf(err)
	code := faults.CodeOf(err)
	status := statusForKind(kind)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.String("code", code),
			zap.Error(err))
		if code == "" {
			code = "server.internal"
		}
	}
	c.AbortWithStatusJSON(status, gin.H{"error": string(kind), "code": code})
}

// invalidRequest reports a malformed body or query as a validation failure.
func (h *httpHandler) invalidRequest(c *gin.Context, operation string, err error) {
	h.respondError(c, faults.Validation(operation, "invalid_request", err))
}

func viewerID(c *gin.Context) string {
	return c.GetString(userIDContextKey)
}
