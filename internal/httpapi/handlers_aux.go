package httpapi

import (
	"os"
	"path/filepath"

	"github.com/gofiber/fiber/v2"

	"sitebookify/internal/dispatch"
	"sitebookify/internal/store"
)

// bookMarkdownHandler and bookEPUBHandler serve a single file out of a
// job's workspace directory (spec.md §6). 404 covers both an unknown
// job id and a job that hasn't reached the corresponding pipeline stage
// yet — the two are indistinguishable from outside the workspace.
func (s *Server) bookMarkdownHandler(c *fiber.Ctx) error {
	jobID := c.Params("id")
	path := filepath.Join(s.cfg.DataDir, "jobs", jobID, "book.md")
	if _, err := os.Stat(path); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(errorResponse("NOT_FOUND", "book.md not available for this job"))
	}
	c.Set(fiber.HeaderContentType, "text/markdown; charset=utf-8")
	return c.SendFile(path)
}

func (s *Server) bookEPUBHandler(c *fiber.Ctx) error {
	jobID := c.Params("id")
	path := filepath.Join(s.cfg.DataDir, "jobs", jobID, "book.epub")
	if _, err := os.Stat(path); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(errorResponse("NOT_FOUND", "book.epub not available for this job"))
	}
	c.Set(fiber.HeaderContentType, "application/epub+zip")
	return c.SendFile(path)
}

// artifactHandler implements "GET /artifacts/{id} → zip bytes (or
// redirect to signed URL)" by streaming ArtifactStore.Open directly,
// which works identically whether the backing is a local file or an
// S3 object — no branching on store kind needed in the handler.
func (s *Server) artifactHandler(c *fiber.Ctx) error {
	jobID := c.Params("id")
	rc, err := s.artifactStore.Open(c.Context(), jobID)
	if err != nil {
		if err == store.ErrNotFound {
			return c.Status(fiber.StatusNotFound).JSON(errorResponse("NOT_FOUND", "artifact not found"))
		}
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse("ARTIFACT_READ_FAILURE", err.Error()))
	}
	defer rc.Close()

	c.Set(fiber.HeaderContentType, "application/zip")
	return c.SendStream(rc)
}

// internalRunHandler implements "POST /internal/jobs/{id}/run (Worker
// only; requires shared token) → 204", reusing the same
// dispatch.JobDispatcher path CreateJob uses so the QUEUED→RUNNING
// re-entry guard (spec.md §4.11) applies uniformly.
func (s *Server) internalRunHandler(c *fiber.Ctx) error {
	jobName := "jobs/" + c.Params("id")
	if err := s.dispatcher.Dispatch(c.Context(), jobName); err != nil {
		if err == dispatch.ErrBusy {
			return c.Status(fiber.StatusConflict).JSON(errorResponse("DISPATCH_FAILURE", "job already running"))
		}
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse("DISPATCH_FAILURE", err.Error()))
	}
	return c.SendStatus(fiber.StatusNoContent)
}
