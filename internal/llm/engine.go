// The three rewrite/refine engines spec.md §4.9 names: noop, openai,
// and command. Grounded on raito's internal/llm/llm.go Provider
// interface (one small interface, one implementation per backend) and
// refyne's pkg/llm/openai.go for the openai-go client wiring.
package llm

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"sitebookify/internal/config"
	"sitebookify/internal/sberrors"
)

// request carries the side instructions spec.md §4.9 step 3 requires
// alongside every chunk.
type request struct {
	Chunk    string
	Prompt   string
	Language string
	Tone     string
}

// engine is the narrow interface every backend satisfies.
type engine interface {
	run(ctx context.Context, req request) (string, error)
}

const systemRules = "Do not introduce facts. Preserve placeholders exactly as given, character for character. Keep headings minimal; write body text paragraph-first."

func newEngine(cfg config.LLMConfig) (engine, error) {
	switch cfg.Engine {
	case "", "noop":
		return noopEngine{}, nil
	case "openai":
		if cfg.OpenAI.APIKey == "" {
			return nil, sberrors.New(sberrors.KindLLMFailure, "openai engine selected but no API key configured")
		}
		opts := []option.RequestOption{option.WithAPIKey(cfg.OpenAI.APIKey)}
		if cfg.OpenAI.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.OpenAI.BaseURL))
		}
		model := cfg.OpenAI.Model
		if model == "" {
			model = "gpt-4o-mini"
		}
		return &openaiEngine{
			client:          openai.NewClient(opts...),
			model:           model,
			reasoningEffort: cfg.OpenAI.ReasoningEffort,
		}, nil
	case "command":
		if strings.TrimSpace(cfg.CommandPath) == "" {
			return nil, sberrors.New(sberrors.KindLLMFailure, "command engine selected but commandPath is empty")
		}
		return &commandEngine{path: cfg.CommandPath}, nil
	default:
		return nil, sberrors.New(sberrors.KindLLMFailure, "unsupported llm engine: "+cfg.Engine)
	}
}

// noopEngine returns the chunk unchanged; for noop the gateway's
// overall output must equal its input byte-for-byte (spec.md §8).
type noopEngine struct{}

func (noopEngine) run(_ context.Context, req request) (string, error) {
	return req.Chunk, nil
}

// openaiEngine talks to OpenAI's Responses API, matching spec.md
// §4.9's explicit naming of "HTTPS Responses API" (rather than the
// older Chat Completions endpoint).
type openaiEngine struct {
	client          openai.Client
	model           string
	reasoningEffort string
}

func (e *openaiEngine) run(ctx context.Context, req request) (string, error) {
	instructions := fmt.Sprintf("%s\n\n%s\nLanguage: %s\nTone: %s",
		systemRules, req.Prompt, orDefault(req.Language, "unchanged"), orDefault(req.Tone, "unchanged"))

	params := responses.ResponseNewParams{
		Model:        e.model,
		Instructions: openai.String(instructions),
		Input: responses.ResponseNewParamsInputUnion{
			OfString: openai.String(req.Chunk),
		},
	}
	if e.reasoningEffort != "" {
		params.Reasoning = responses.ReasoningParam{
			Effort: responses.ReasoningEffort(e.reasoningEffort),
		}
	}

	resp, err := e.client.Responses.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai responses request: %w", err)
	}
	out := resp.OutputText()
	if strings.TrimSpace(out) == "" {
		return "", fmt.Errorf("openai response had no output text")
	}
	return out, nil
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

// commandEngine shells out to a filter subprocess that reads the chunk
// on stdin and writes the rewritten chunk to stdout, matching spec.md
// §4.9's "stdin/stdout filter subprocess" engine.
type commandEngine struct {
	path string
}

func (e *commandEngine) run(ctx context.Context, req request) (string, error) {
	cmd := exec.CommandContext(ctx, e.path, "--prompt", req.Prompt, "--language", req.Language, "--tone", req.Tone)
	cmd.Stdin = strings.NewReader(req.Chunk)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("command engine %s failed after %s: %w: %s", e.path, time.Since(start), err, stderr.String())
	}
	return stdout.String(), nil
}
