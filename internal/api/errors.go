package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/Checker-Finance/wikifolio-adapter/internal/service"
	"github.com/Checker-Finance/wikifolio-adapter/internal/wikifolio"
)

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var (
		missingID *wikifolio.MissingIdentifierError
		ownership *wikifolio.OwnershipError
		rejected  *wikifolio.OrderRejectedError
		upstream  *wikifolio.HTTPStatusError
		login     *wikifolio.LoginFailedError
		noCreds   *wikifolio.MissingCredentialsError
		denied    *wikifolio.AuthorizationDeniedError
		quote     *wikifolio.QuoteNegotiationError
		invalid   *wikifolio.InvalidResponseError
		unknown   *wikifolio.OrderOutcomeUnknownError
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout
	case errors.Is(err, wikifolio.ErrInvalidOrder), errors.As(err, &missingID):
		return fiber.StatusBadRequest
	case errors.As(err, &ownership):
		return fiber.StatusForbidden
	case errors.As(err, &rejected):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, service.ErrCancelRefused):
		return fiber.StatusConflict
	case errors.As(err, &upstream):
		if upstream.Status == http.StatusNotFound {
			return fiber.StatusNotFound
		}
		return fiber.StatusBadGateway
	case errors.As(err, &login), errors.As(err, &noCreds), errors.As(err, &denied),
		errors.As(err, &quote), errors.As(err, &invalid), errors.As(err, &unknown):
		return fiber.StatusBadGateway
	}
	return fiber.StatusInternalServerError
}

func writeError(c *fiber.Ctx, err error) error {
	return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error()})
}
