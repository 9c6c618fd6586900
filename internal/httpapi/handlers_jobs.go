package httpapi

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"sitebookify/internal/jobs"
	"sitebookify/internal/store"
)

// createJobRequest is CreateJob's request body: spec.md §3's Job.spec.
type createJobRequest struct {
	SourceURL     string `json:"source_url"`
	LanguageCode  string `json:"language_code,omitempty"`
	Tone          string `json:"tone,omitempty"`
	TOCEngine     string `json:"toc_engine,omitempty"`
	RenderEngine  string `json:"render_engine,omitempty"`
	RewritePrompt string `json:"rewrite_prompt,omitempty"`
	MaxPages      int    `json:"max_pages,omitempty"`
	MaxDepth      int    `json:"max_depth,omitempty"`
}

// createJobHandler implements spec.md §4.10's CreateJob: persist via
// JobStore, call JobDispatcher.Dispatch, and return an Operation without
// ever blocking on pipeline execution. A dispatch failure transitions
// the job straight to ERROR rather than leaving it in QUEUED, per
// spec.md §4.11.
func (s *Server) createJobHandler(c *fiber.Ctx) error {
	var req createJobRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse("INVALID_INPUT", "malformed request body"))
	}
	if strings.TrimSpace(req.SourceURL) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse("INVALID_INPUT", "source_url is required"))
	}

	jobName := "jobs/" + newJobID()
	job := &jobs.Job{
		Name:  jobName,
		State: jobs.StatusQueued,
		Spec: jobs.Spec{
			SourceURL:     req.SourceURL,
			LanguageCode:  req.LanguageCode,
			Tone:          req.Tone,
			TOCEngine:     req.TOCEngine,
			RenderEngine:  req.RenderEngine,
			RewritePrompt: req.RewritePrompt,
			MaxPages:      req.MaxPages,
			MaxDepth:      req.MaxDepth,
		},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	if err := s.jobStore.Put(c.Context(), job); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse("STORE_FAILURE", err.Error()))
	}

	if err := s.dispatcher.Dispatch(c.Context(), jobName); err != nil {
		msg := err.Error()
		_, _ = s.jobStore.Update(c.Context(), jobName, func(j *jobs.Job) error {
			j.State = jobs.StatusError
			j.Message = msg
			return nil
		})
	}

	return c.Status(fiber.StatusOK).JSON(jobs.Operation{
		Name:     jobName,
		Metadata: jobs.Metadata{Job: jobName},
	})
}

// getJobHandler implements GetJob(name).
func (s *Server) getJobHandler(c *fiber.Ctx) error {
	jobName := "jobs/" + c.Params("id")
	job, err := s.jobStore.Get(c.Context(), jobName)
	if err != nil {
		if err == store.ErrNotFound {
			return c.Status(fiber.StatusNotFound).JSON(errorResponse("NOT_FOUND", "job not found"))
		}
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse("STORE_FAILURE", err.Error()))
	}
	return c.Status(fiber.StatusOK).JSON(job)
}

// listJobsResponse wraps the job list, matching raito's {jobs: [...]}
// envelope shape.
type listJobsResponse struct {
	Jobs []*jobs.Job `json:"jobs"`
}

// listJobsHandler implements ListJobs(), bounded implicitly by whatever
// retention sweep has already pruned expired jobs from the JobStore.
func (s *Server) listJobsHandler(c *fiber.Ctx) error {
	all, err := s.jobStore.List(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse("STORE_FAILURE", err.Error()))
	}
	return c.Status(fiber.StatusOK).JSON(listJobsResponse{Jobs: all})
}

// downloadURLResponse is GenerateJobDownloadUrl's response shape
// (spec.md §6: "{ url, expires_sec }").
type downloadURLResponse struct {
	URL        string `json:"url"`
	ExpiresSec int    `json:"expires_sec"`
}

// generateJobDownloadURLHandler implements GenerateJobDownloadUrl(name),
// valid only once the job has reached DONE.
func (s *Server) generateJobDownloadURLHandler(c *fiber.Ctx) error {
	jobID := c.Params("id")
	jobName := "jobs/" + jobID
	job, err := s.jobStore.Get(c.Context(), jobName)
	if err != nil {
		if err == store.ErrNotFound {
			return c.Status(fiber.StatusNotFound).JSON(errorResponse("NOT_FOUND", "job not found"))
		}
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse("STORE_FAILURE", err.Error()))
	}
	if job.State != jobs.StatusDone {
		return c.Status(fiber.StatusConflict).JSON(errorResponse("INVALID_STATE", "job is not done"))
	}

	ttl := s.cfg.Artifact.SignedURLTTL
	url, err := s.artifactStore.SignedURL(c.Context(), jobID, time.Duration(ttl)*time.Second)
	if err != nil {
		if err == store.ErrNotFound {
			return c.Status(fiber.StatusNotFound).JSON(errorResponse("NOT_FOUND", "artifact not found"))
		}
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse("ARTIFACT_READ_FAILURE", err.Error()))
	}

	return c.Status(fiber.StatusOK).JSON(downloadURLResponse{URL: url, ExpiresSec: ttl})
}

// newJobID mints a uuidv7 id, falling back to v4 when v7 generation
// fails — the same fallback raito's crawl.Manager uses, since
// google/uuid's NewV7 can return an error on a broken clock source.
func newJobID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}
