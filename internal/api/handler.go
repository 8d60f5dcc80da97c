package api

import (
	"encoding/json"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Consigna-Supply/gateway/internal/pipeline"
	"github.com/Consigna-Supply/gateway/internal/session"
)

type Handler struct {
	Logger   *zap.Logger
	Pipe     *pipeline.Pipeline
	Sessions *session.Manager
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login creates a session against the core and stores the credential pair.
func (h *Handler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if req.Email == "" || req.Password == "" {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "missing email or password"})
	}

	if err := h.Sessions.Login(c.Context(), req.Email, req.Password); err != nil {
		h.Logger.Warn("api.login_failed", zap.Error(err))
		return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"success": true})
}

// Logout clears the stored session.
func (h *Handler) Logout(c *fiber.Ctx) error {
	if err := h.Sessions.Logout(c.Context()); err != nil {
		h.Logger.Error("api.logout_failed", zap.Error(err))
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"success": true})
}

// Status reports whether a session is currently held.
func (h *Handler) Status(c *fiber.Ctx) error {
	ok, err := h.Sessions.Authenticated(c.Context())
	if err != nil {
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"authenticated": ok})
}

// Proxy forwards an arbitrary request through the authenticated pipeline and
// returns the envelope. Resource semantics stay with the core; this handler is
// deliberately agnostic to what is being fetched.
func (h *Handler) Proxy(c *fiber.Ctx) error {
	path := "/" + c.Params("+")
	if qs := string(c.Request().URI().QueryString()); qs != "" {
		path += "?" + qs
	}

	var body any
	if len(c.Body()) > 0 {
		body = json.RawMessage(c.Body())
	}

	var env *pipeline.Envelope
	switch c.Method() {
	case fiber.MethodGet:
		env = h.Pipe.Get(c.Context(), path)
	case fiber.MethodPost:
		env = h.Pipe.Post(c.Context(), path, body)
	case fiber.MethodPut:
		env = h.Pipe.Put(c.Context(), path, body)
	case fiber.MethodPatch:
		env = h.Pipe.Patch(c.Context(), path, body)
	case fiber.MethodDelete:
		env = h.Pipe.Delete(c.Context(), path)
	default:
		return c.Status(http.StatusMethodNotAllowed).JSON(fiber.Map{"error": "unsupported method"})
	}

	status := http.StatusOK
	if !env.Success {
		status = http.StatusBadGateway
	}
	return c.Status(status).JSON(env)
}
