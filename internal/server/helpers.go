package server

import (
	"errors"
	"strings"
	"unicode"

	"marketplace/internal/models"
	"marketplace/internal/validation"

	"github.com/gofiber/fiber/v2"
)

// errResponseWritten is a sentinel indicating the HTTP response was already
// committed by a helper. Handlers must return nil (not this error) to avoid
// Fiber's ErrorHandler overwriting the response.
var errResponseWritten = errors.New("response already written")

const maxMessagePage = 50

// respond writes the error payload for err, exposing internals in development.
func (s *Server) respond(c *fiber.Ctx, err error) error {
	return models.RespondWithError(c, err, s.config.IsDevelopment())
}

// parseID extracts a route parameter by name as a positive uint.
// On failure it writes a 400 JSON response and returns errResponseWritten.
// The message is derived from the parameter name ("chatId" -> "Invalid chat ID").
func (s *Server) parseID(c *fiber.Ctx, param string) (uint, error) {
	id, err := c.ParamsInt(param)
	if err != nil || id <= 0 {
		_ = s.respond(c, models.NewValidationError("Invalid "+humanizeParam(param)))
		return 0, errResponseWritten
	}
	return uint(id), nil
}

// parseQueryID reads a positive uint query parameter; 0 when absent or malformed.
func parseQueryID(c *fiber.Ctx, key string) uint {
	id := c.QueryInt(key, 0)
	if id <= 0 {
		return 0
	}
	return uint(id)
}

// parseLimit reads the limit query parameter, defaulting to and capped at max.
func parseLimit(c *fiber.Ctx, max int) int {
	limit := c.QueryInt("limit", max)
	if limit <= 0 || limit > max {
		return max
	}
	return limit
}

// bindJSON decodes and validates the request body into dst. On failure it
// writes a 400 response and returns errResponseWritten.
func (s *Server) bindJSON(c *fiber.Ctx, dst interface{}) error {
	if err := c.BodyParser(dst); err != nil {
		_ = s.respond(c, models.NewValidationError("Invalid request body"))
		return errResponseWritten
	}
	if err := validation.Struct(dst); err != nil {
		_ = s.respond(c, err)
		return errResponseWritten
	}
	return nil
}

// humanizeParam converts a route param name into a human-readable label.
// Examples: "id" -> "ID", "chatId" -> "chat ID", "productId" -> "product ID".
func humanizeParam(param string) string {
	if param == "id" {
		return "ID"
	}
	if strings.HasSuffix(param, "Id") {
		words := splitCamel(param[:len(param)-2])
		return strings.ToLower(strings.Join(words, " ")) + " ID"
	}
	return param
}

// splitCamel splits a camelCase string into words.
func splitCamel(s string) []string {
	var words []string
	start := 0
	for i, r := range s {
		if i > 0 && unicode.IsUpper(r) {
			words = append(words, s[start:i])
			start = i
		}
	}
	words = append(words, s[start:])
	return words
}
