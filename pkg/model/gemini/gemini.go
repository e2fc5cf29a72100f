package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/bloomlabs/bloom/pkg/domain"
	"github.com/bloomlabs/bloom/pkg/model"
)

// DefaultModel is used when no model name is configured.
const DefaultModel = "gemini-2.0-flash"

// Provider implements model.Provider using the Google Gen AI SDK.
type Provider struct {
	client    *genai.Client
	modelName string
}

// Verify interface compliance.
var _ model.Provider = (*Provider)(nil)

// New creates a new Gemini provider.
func New(ctx context.Context, apiKey, modelName string) (*Provider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	if modelName == "" {
		modelName = DefaultModel
	}
	return &Provider{client: client, modelName: modelName}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return "gemini" }

// Complete performs one blocking completion call.
func (p *Provider) Complete(ctx context.Context, req model.Request) (*model.Result, error) {
	contents, config := p.convert(req)

	resp, err := p.client.Models.GenerateContent(ctx, p.modelName, contents, config)
	if err != nil {
		return nil, fmt.Errorf("generating content: %w", err)
	}

	var text strings.Builder
	truncated := false
	for _, cand := range resp.Candidates {
		if cand.FinishReason == genai.FinishReasonMaxTokens {
			truncated = true
		}
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			text.WriteString(part.Text)
		}
	}
	return &model.Result{Text: text.String(), Truncated: truncated}, nil
}

// Stream performs a streaming completion, concatenating deltas.
func (p *Provider) Stream(ctx context.Context, req model.Request) (*model.Result, error) {
	slog.Debug("Gemini.Stream", "model", p.modelName, "messageCount", len(req.Messages))

	contents, config := p.convert(req)

	var text strings.Builder
	truncated := false
	for resp, err := range p.client.Models.GenerateContentStream(ctx, p.modelName, contents, config) {
		if err != nil {
			return nil, fmt.Errorf("streaming content: %w", err)
		}
		if resp == nil {
			continue
		}
		for _, cand := range resp.Candidates {
			if cand.FinishReason == genai.FinishReasonMaxTokens {
				truncated = true
			}
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				text.WriteString(part.Text)
			}
		}
	}
	return &model.Result{Text: text.String(), Truncated: truncated}, nil
}

func (p *Provider) convert(req model.Request) ([]*genai.Content, *genai.GenerateContentConfig) {
	var contents []*genai.Content
	for _, msg := range req.Messages {
		if msg.Content == "" {
			continue
		}
		role := "user"
		if msg.Role == domain.RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: msg.Content}},
		})
	}

	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature != nil {
		config.Temperature = req.Temperature
	}
	return contents, config
}
