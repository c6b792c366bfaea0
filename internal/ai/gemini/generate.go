package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/yegors/clara/internal/ai"
	"github.com/yegors/clara/pkg/logger"
)

// -- StructuredProvider Implementation --

// GenerateStructured runs a JSON-constrained completion and returns the raw text
func (c *Client) GenerateStructured(ctx context.Context, req ai.StructuredRequest) (string, error) {
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	}
	if req.Schema != nil {
		cfg.ResponseSchema = toGenaiSchema(req.Schema)
	}

	resp, err := c.genai.Models.GenerateContent(ctx, req.Model, genai.Text(req.Prompt), cfg)
	if err != nil {
		return "", fmt.Errorf("gemini structured completion failed: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", errors.New("no content in gemini response")
	}
	c.logger.Debug("Structured completion received",
		logger.String("model", req.Model),
		logger.Int("length", len(text)))
	return text, nil
}

// -- GroundedSearchProvider Implementation --

// GroundedSearch asks the model with the Google Maps tool enabled
func (c *Client) GroundedSearch(ctx context.Context, req ai.GroundedSearchRequest) (ai.GroundedResult, error) {
	cfg := &genai.GenerateContentConfig{
		Tools: []*genai.Tool{{GoogleMaps: &genai.GoogleMaps{}}},
	}
	if req.Location != nil {
		cfg.ToolConfig = &genai.ToolConfig{
			RetrievalConfig: &genai.RetrievalConfig{
				LatLng: &genai.LatLng{
					Latitude:  genai.Ptr(req.Location.Latitude),
					Longitude: genai.Ptr(req.Location.Longitude),
				},
			},
		}
	}

	resp, err := c.genai.Models.GenerateContent(ctx, req.Model, genai.Text(req.Prompt), cfg)
	if err != nil {
		return ai.GroundedResult{}, fmt.Errorf("gemini grounded search failed: %w", err)
	}

	result := ai.GroundedResult{Text: resp.Text()}
	if len(resp.Candidates) > 0 && resp.Candidates[0].GroundingMetadata != nil {
		for _, chunk := range resp.Candidates[0].GroundingMetadata.GroundingChunks {
			switch {
			case chunk == nil:
			case chunk.Maps != nil:
				result.Sources = append(result.Sources, ai.Source{Title: chunk.Maps.Title, URI: chunk.Maps.URI})
			case chunk.Web != nil:
				result.Sources = append(result.Sources, ai.Source{Title: chunk.Web.Title, URI: chunk.Web.URI})
			}
		}
	}
	c.logger.Debug("Grounded search completed",
		logger.String("model", req.Model),
		logger.Int("sources", len(result.Sources)))
	return result, nil
}

// -- ChatProvider Implementation --

func (c *Client) ChatCompletion(ctx context.Context, messages []ai.ChatMessage, config ai.ChatConfig) (string, error) {
	var contents []*genai.Content
	cfg := &genai.GenerateContentConfig{}

	for _, msg := range messages {
		if msg.Role == ai.RoleSystem {
			cfg.SystemInstruction = &genai.Content{
				Parts: []*genai.Part{{Text: msg.Content}},
			}
			continue
		}

		role := "user"
		if msg.Role == ai.RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: msg.Content}},
		})
	}

	if config.Temperature != 0 {
		cfg.Temperature = genai.Ptr(float32(config.Temperature))
	}
	if config.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(config.MaxTokens)
	}

	resp, err := c.genai.Models.GenerateContent(ctx, config.Model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini chat failed: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", errors.New("no content in gemini response")
	}
	return text, nil
}
