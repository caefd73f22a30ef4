package utils

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

// RespondWithError sends a JSON error response.
func RespondWithError(c *fiber.Ctx, statusCode int, message string) error {
	return c.Status(statusCode).JSON(fiber.Map{
		"status":  "error",
		"message": message,
	})
}

// FormatValidationErrors formats validation errors from validator/v10.
// Errors that are not validation errors are returned as a single message.
func FormatValidationErrors(err error) []string {
	var messages []string
	if err == nil {
		return messages
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return append(messages, err.Error())
	}

	for _, fieldErr := range validationErrors {
		element := fmt.Sprintf("Field '%s' failed on the '%s' tag", fieldErr.Namespace(), fieldErr.Tag())
		if fieldErr.Param() != "" {
			element = fmt.Sprintf("%s (value: %s)", element, fieldErr.Param())
		}
		messages = append(messages, element)
	}
	return messages
}

// Round2 rounds a value to two decimal places, the precision used for every
// timing and probability the service returns.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
