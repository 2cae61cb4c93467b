package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"docrag/internal/config"
	"docrag/internal/models"

	"github.com/ollama/ollama/api"
)

// Generator produces a completion for a prompt
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// OllamaLLM handles interactions with the Ollama LLM API
type OllamaLLM struct {
	Client      *api.Client
	Model       string
	Temperature float64
	NumPredict  int
}

// NewOllamaLLM creates a new Ollama LLM client. An empty host falls back to OLLAMA_HOST.
func NewOllamaLLM(host string, model string, temperature float64) (*OllamaLLM, error) {
	hostURL, err := config.ResolveOllamaHost(host)
	if err != nil {
		return nil, err
	}
	client := api.NewClient(hostURL, http.DefaultClient)

	return &OllamaLLM{
		Client:      client,
		Model:       model,
		Temperature: temperature,
		NumPredict:  1024,
	}, nil
}

// Generate generates a response from the LLM
func (o *OllamaLLM) Generate(ctx context.Context, prompt string) (string, error) {
	req := api.GenerateRequest{
		Model:  o.Model,
		Prompt: prompt,
		Options: map[string]interface{}{
			"temperature": o.Temperature,
			"num_predict": o.NumPredict,
		},
	}

	var responseBuilder strings.Builder

	err := o.Client.Generate(ctx, &req, func(resp api.GenerateResponse) error {
		_, err := responseBuilder.WriteString(resp.Response)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("%w: model %s: %w", models.ErrGenerationService, o.Model, err)
	}

	return responseBuilder.String(), nil
}
