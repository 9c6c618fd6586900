package httpapi

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"sitebookify/internal/sitemap"
)

type previewRequest struct {
	URL string `json:"url"`
}

// previewHandler implements spec.md §4.10's Preview(url): a pure
// fetch-and-parse structural estimate, never a crawl, never an LLM
// call.
func (s *Server) previewHandler(c *fiber.Ctx) error {
	var req previewRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse("INVALID_INPUT", "malformed request body"))
	}
	if strings.TrimSpace(req.URL) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse("INVALID_INPUT", "url is required"))
	}

	timeout := time.Duration(s.cfg.Crawler.TimeoutMs) * time.Millisecond
	result, err := sitemap.Preview(c.Context(), req.URL, s.cfg.Crawler.UserAgent, timeout)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse("FETCH_FAILURE", err.Error()))
	}

	return c.Status(fiber.StatusOK).JSON(result)
}
