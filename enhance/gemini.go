// Package enhance rewrites terse user prompts into richer ones before they
// reach the rendering engine. Enabled by the generation.rewritePrompts
// config knob or a per-request flag.
package enhance

import (
	"context"
	"errors"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"zimage/settings"
)

const systemPrompt = "You rewrite prompts for a diffusion image model. " +
	"Expand the user's prompt into a single vivid, comma-separated prompt " +
	"with concrete subjects, style, lighting and composition details. " +
	"Respond with the rewritten prompt only, no commentary."

// Gemini enhances prompts through the Gemini API.
type Gemini struct {
	cfg settings.GeminiConfig
}

func NewGemini(cfg settings.GeminiConfig) *Gemini {
	return &Gemini{cfg: cfg}
}

// Enhance returns a rewritten prompt, or an error the caller may ignore in
// favour of the original prompt.
func (g *Gemini) Enhance(ctx context.Context, prompt string) (string, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(g.cfg.ApiKey))
	if err != nil {
		return "", err
	}
	defer client.Close()

	model := client.GenerativeModel(g.cfg.Model)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{
			genai.Text(systemPrompt),
		},
	}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", err
	}

	return processResponse(resp)
}

// processResponse extracts the first text content part from the genai response.
func processResponse(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", errors.New("no candidates found in response")
	}
	for _, cand := range resp.Candidates {
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if txt, ok := part.(genai.Text); ok {
					return strings.TrimSpace(string(txt)), nil
				}
			}
		}
	}
	return "", errors.New("no text content found in response")
}
