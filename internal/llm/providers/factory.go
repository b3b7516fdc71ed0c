package providers

import (
	"fmt"
	"net/http"

	"github.com/ubix08/orix/internal/config"
	"github.com/ubix08/orix/internal/llm"
	"github.com/ubix08/orix/internal/llm/anthropic"
	"github.com/ubix08/orix/internal/llm/google"
	openaillm "github.com/ubix08/orix/internal/llm/openai"
)

// Build constructs the llm.Provider selected by cfg.LLM.Provider.
func Build(cfg config.Config, httpClient *http.Client) (llm.Provider, error) {
	switch cfg.LLM.Provider {
	case "anthropic", "":
		return anthropic.New(cfg.LLM.Anthropic, httpClient), nil
	case "openai":
		return openaillm.New(cfg.LLM.OpenAI, httpClient), nil
	case "local":
		oc := cfg.LLM.OpenAI
		oc.API = "completions"
		return openaillm.New(oc, httpClient), nil
	case "google":
		return google.New(cfg.LLM.Google, httpClient)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.LLM.Provider)
	}
}
