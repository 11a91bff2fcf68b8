package server

import (
	"marketplace/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

// GetFeatureFlags returns configured feature flags and their evaluated state
// for the caller.
// @Summary Feature flags
// @Tags features
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]interface{}
// @Router /features [get]
func (s *Server) GetFeatureFlags(c *fiber.Ctx) error {
	userID := middleware.CurrentUserID(c)

	if s.featureFlags == nil {
		return c.JSON(fiber.Map{
			"raw":       map[string]string{},
			"evaluated": map[string]bool{},
		})
	}

	return c.JSON(fiber.Map{
		"raw":       s.featureFlags.Raw(),
		"evaluated": s.featureFlags.Snapshot(userID),
	})
}
