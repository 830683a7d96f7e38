package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"

	"github.com/pagewarden/pagewarden/internal/infrastructure/config"
	"github.com/pagewarden/pagewarden/internal/infrastructure/resilience"
)

// Gemini calls the generateContent endpoint of the hosted Gemini API.
// Calls run through a circuit breaker so a dead provider fails fast instead
// of holding every assessment for the full timeout.
type Gemini struct {
	client      *resty.Client
	breaker     *resilience.Breaker
	apiKey      string
	model       string
	temperature float64
}

// NewGemini builds a provider from configuration.
func NewGemini(cfg config.GeminiConfig) *Gemini {
	return &Gemini{
		client:      resty.New().SetBaseURL(cfg.Endpoint),
		breaker:     resilience.New("gemini", resilience.Settings{}),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
	}
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig geminiGenConfig `json:"generationConfig"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenConfig struct {
	Temperature      float64 `json:"temperature"`
	ResponseMimeType string  `json:"responseMimeType"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Complete sends the prompt and returns the model's raw text answer.
func (g *Gemini) Complete(ctx context.Context, prompt string) (string, error) {
	var out string
	err := g.breaker.Execute(func() error {
		req := geminiRequest{
			Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
			GenerationConfig: geminiGenConfig{
				Temperature:      g.temperature,
				ResponseMimeType: "application/json",
			},
		}

		var body geminiResponse
		resp, err := g.client.R().
			SetContext(ctx).
			SetQueryParam("key", g.apiKey).
			SetBody(req).
			SetResult(&body).
			Post("/models/" + g.model + ":generateContent")
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: %v", ErrProviderTimeout, err)
			}
			return err
		}

		switch resp.StatusCode() {
		case http.StatusOK:
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: status %d", ErrProviderAuth, resp.StatusCode())
		default:
			return fmt.Errorf("provider returned status %d", resp.StatusCode())
		}

		if len(body.Candidates) == 0 || len(body.Candidates[0].Content.Parts) == 0 {
			return fmt.Errorf("%w: empty candidate list", ErrProviderMalformed)
		}
		out = body.Candidates[0].Content.Parts[0].Text
		return nil
	})
	if err != nil {
		return "", err
	}
	return out, nil
}
