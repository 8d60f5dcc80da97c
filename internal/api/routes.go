package api

import "github.com/gofiber/fiber/v2"

func RegisterRoutes(app *fiber.App, h *Handler) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).SendString("ok")
	})

	v1 := app.Group("/api/v1")
	v1.Post("/session/login", h.Login)
	v1.Post("/session/logout", h.Logout)
	v1.Get("/session/status", h.Status)
	v1.All("/proxy/+", h.Proxy)
}
