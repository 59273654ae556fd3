// Package llm implements the stage agent on top of the Gemini API. Every
// stage is a single structured-output generation: the stage's schema label
// selects a system instruction, the model is forced to application/json,
// and backend errors are translated into the pipeline's failure taxonomy.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/Shaurya-Sethi/circuitron-sub000/internal/stage"
)

// APIKeyEnv is the environment variable holding the Gemini API key.
const APIKeyEnv = "GEMINI_API_KEY"

// Client is a stage.Agent backed by the Gemini API.
type Client struct {
	client *genai.Client
	log    *zap.Logger
}

// New creates a Client. An empty apiKey falls back to the GEMINI_API_KEY
// environment variable.
func New(ctx context.Context, apiKey string, log *zap.Logger) (*Client, error) {
	if apiKey == "" {
		apiKey = os.Getenv(APIKeyEnv)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("no API key: set %s or pass one explicitly", APIKeyEnv)
	}
	if log == nil {
		log = zap.NewNop()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Client{client: client, log: log}, nil
}

// Invoke runs one stage as a single structured-output generation.
func (c *Client) Invoke(ctx context.Context, req stage.Request) (*stage.Response, error) {
	prompt := req.Input
	if req.Context != "" {
		prompt = req.Input + "\n\n---\nContext from earlier attempts:\n" + req.Context
	}

	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType:  "application/json",
		SystemInstruction: genai.NewContentFromText(systemInstruction(req.Stage), genai.RoleUser),
	}

	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}

	resp, err := c.client.Models.GenerateContent(ctx, req.Stage.Model, contents, cfg)
	if err != nil {
		return nil, classify(err, req.Stage.Name)
	}

	if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason == genai.FinishReasonMaxTokens {
		return nil, stage.NewFailure(stage.FailMaxTurns, req.Stage.Name,
			"output truncated at the token limit", nil)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return nil, stage.NewFailure(stage.FailInternal, req.Stage.Name, "empty completion", nil)
	}
	if !json.Valid([]byte(text)) {
		return nil, stage.NewFailure(stage.FailInternal, req.Stage.Name,
			"completion is not valid JSON", nil)
	}

	out := &stage.Response{Output: json.RawMessage(text)}
	if um := resp.UsageMetadata; um != nil {
		out.Usage = stage.UsageMetadata{
			Model:       req.Stage.Model,
			Input:       int64(um.PromptTokenCount),
			Output:      int64(um.CandidatesTokenCount),
			CachedInput: int64(um.CachedContentTokenCount),
		}
	}
	c.log.Debug("stage completion",
		zap.String("stage", req.Stage.Name),
		zap.String("model", req.Stage.Model),
		zap.Int64("input_tokens", out.Usage.Input),
		zap.Int64("output_tokens", out.Usage.Output))
	return out, nil
}

// classify maps backend errors onto the failure taxonomy. Rate limits and
// server errors are transient; everything else is an internal fault. Context
// deadlines pass through untranslated so the executor can attribute them.
func classify(err error, stageName string) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == 429 || apiErr.Code >= 500 {
			return stage.NewFailure(stage.FailNetwork, stageName,
				fmt.Sprintf("backend returned %d", apiErr.Code), err)
		}
		return stage.NewFailure(stage.FailInternal, stageName,
			fmt.Sprintf("backend rejected request (%d)", apiErr.Code), err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return stage.NewFailure(stage.FailNetwork, stageName, "network fault", err)
	}
	return stage.NewFailure(stage.FailInternal, stageName, "backend fault", err)
}
