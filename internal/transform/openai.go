package transform

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/playperu/snapbooth/internal/booth"
)

// ImageRequest describes one generation.
type ImageRequest struct {
	Prompt    string
	Model     string
	Size      string
	SourceURL string
}

// ImageGenerator turns a prompt into a hosted image.
type ImageGenerator interface {
	Generate(ctx context.Context, req ImageRequest) (booth.MediaRef, error)
}

var validSizes = map[string][2]int{
	openai.CreateImageSize256x256:   {256, 256},
	openai.CreateImageSize512x512:   {512, 512},
	openai.CreateImageSize1024x1024: {1024, 1024},
	openai.CreateImageSize1792x1024: {1792, 1024},
	openai.CreateImageSize1024x1792: {1024, 1792},
}

func ValidSize(size string) bool {
	_, ok := validSizes[size]
	return ok
}

// OpenAIGenerator calls the OpenAI images API.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
	size   string
}

// NewOpenAI builds a generator. baseURL may point at any compatible API.
func NewOpenAI(apiKey, baseURL, model, size string) *OpenAIGenerator {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if model == "" {
		model = openai.CreateImageModelDallE3
	}
	if !ValidSize(size) {
		size = openai.CreateImageSize1024x1024
	}
	return &OpenAIGenerator{
		client: openai.NewClientWithConfig(config),
		model:  model,
		size:   size,
	}
}

func (g *OpenAIGenerator) Generate(ctx context.Context, req ImageRequest) (booth.MediaRef, error) {
	model := req.Model
	if model == "" {
		model = g.model
	}
	size := req.Size
	if !ValidSize(size) {
		size = g.size
	}

	resp, err := g.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         req.Prompt,
		Model:          model,
		N:              1,
		Size:           size,
		ResponseFormat: openai.CreateImageResponseFormatURL,
	})
	if err != nil {
		return booth.MediaRef{}, fmt.Errorf("create image: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return booth.MediaRef{}, errors.New("create image: empty response")
	}

	dims := validSizes[size]
	return booth.MediaRef{
		URL:         resp.Data[0].URL,
		ContentType: "image/png",
		Width:       dims[0],
		Height:      dims[1],
	}, nil
}
