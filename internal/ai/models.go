package ai

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ProviderModel is one entry of the provider's model list.
type ProviderModel struct {
	ID      string `json:"id"`
	OwnedBy string `json:"owned_by"`
	Created int64  `json:"created"`
}

// ModelCatalog lists the models an OpenAI-compatible provider serves.
type ModelCatalog struct {
	opts []option.RequestOption
}

func NewModelCatalog(opts ...option.RequestOption) *ModelCatalog {
	return &ModelCatalog{opts: opts}
}

// BaseURL derives the API root from a chat completions endpoint,
// e.g. https://api.openai.com/v1/chat/completions -> https://api.openai.com/v1.
func BaseURL(endpoint string) string {
	u := strings.TrimRight(strings.TrimSpace(endpoint), "/")
	u = strings.TrimSuffix(u, "/chat/completions")
	return u
}

func (c *ModelCatalog) List(ctx context.Context, endpoint, apiKey string) ([]ProviderModel, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("models: api key is required")
	}
	opts := append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(BaseURL(endpoint) + "/"),
		option.WithMaxRetries(0),
	}, c.opts...)
	client := openai.NewClient(opts...)

	page, err := client.Models.List(ctx)
	if err != nil {
		oe := &OpenError{URL: BaseURL(endpoint) + "/models", Err: err}
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			oe.StatusCode = apiErr.StatusCode
		}
		return nil, oe
	}

	out := make([]ProviderModel, 0, len(page.Data))
	for _, m := range page.Data {
		out = append(out, ProviderModel{ID: m.ID, OwnedBy: m.OwnedBy, Created: m.Created})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
