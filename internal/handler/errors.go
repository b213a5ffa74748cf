package handler

import (
	"errors"

	"github.com/gofiber/fiber/v3"

	"github.com/mathieu-neron/DeFacto/defacto-go/internal/middleware"
	"github.com/mathieu-neron/DeFacto/defacto-go/internal/model"
)

// statusFor maps an error kind onto an HTTP status.
func statusFor(kind model.ErrorKind) int {
	switch kind {
	case model.KindNotFound:
		return fiber.StatusNotFound
	case model.KindInvalidInput:
		return fiber.StatusBadRequest
	case model.KindStateConflict:
		return fiber.StatusConflict
	case model.KindInsufficientResource:
		return fiber.StatusUnprocessableEntity
	case model.KindSubmissionFailed:
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// writeError renders err in the standard error shape. Untyped errors are
// logged and reported as INTERNAL_ERROR without detail.
func writeError(c fiber.Ctx, err error, fallback string) error {
	var e *model.Error
	if !errors.As(err, &e) {
		middleware.Logger.Error().Err(err).Str("path", c.Path()).Msg(fallback)
		return middleware.ErrorResponse(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", fallback)
	}
	if e.Kind == model.KindSubmissionFailed {
		Metrics.SubmissionFailures.Inc()
		middleware.Logger.Error().Err(err).Str("path", c.Path()).Msg("ledger submission failed")
	}
	return middleware.ErrorResponse(c, statusFor(e.Kind), e.Code, e.Message)
}

func badRequest(c fiber.Ctx, msg string) error {
	return middleware.ErrorResponse(c, fiber.StatusBadRequest, "INVALID_FIELD", msg)
}

func invalidBody(c fiber.Ctx) error {
	return middleware.ErrorResponse(c, fiber.StatusBadRequest, "INVALID_BODY", "Invalid request body")
}

// bind decodes and validates a JSON body. On failure the error response has
// already been written and ok is false.
func bind(c fiber.Ctx, req any) (ok bool, err error) {
	if err := c.Bind().JSON(req); err != nil {
		return false, invalidBody(c)
	}
	if msg := middleware.ValidateStruct(req); msg != "" {
		return false, badRequest(c, msg)
	}
	return true, nil
}

func cacheHeader(c fiber.Ctx, hit bool) {
	if hit {
		Metrics.CacheHits.Inc()
		c.Set("X-Cache", "HIT")
		return
	}
	Metrics.CacheMisses.Inc()
	c.Set("X-Cache", "MISS")
}
