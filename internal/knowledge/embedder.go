package knowledge

import (
	"context"
	stderrors "errors"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/aihub/retrieval-go/internal/errors"
)

// Embedder 定义文本向量化接口
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	Ready() bool
}

// NoopEmbedder 默认占位实现
type NoopEmbedder struct{}

func (n *NoopEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.NewSystemError(errors.ErrCodeConfigInvalid, "embedding provider not configured")
}

func (n *NoopEmbedder) Dimensions() int {
	return 0
}

func (n *NoopEmbedder) Ready() bool {
	return false
}

var embeddingDimensions = map[string]int{
	"text-embedding-3-large": 3072,
	"text-embedding-3-small": 1536,
	"text-embedding-ada-002": 1536,
}

// OpenAIEmbedder 使用OpenAI Embedding API
type OpenAIEmbedder struct {
	client     *openai.Client
	model      string
	dimensions int
}

// NewOpenAIEmbedder 创建OpenAI嵌入向量生成器
func NewOpenAIEmbedder(apiKey, baseURL, model string, dimensions int) Embedder {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return &NoopEmbedder{}
	}
	if model == "" {
		model = "text-embedding-3-small"
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
		clientCfg.BaseURL = baseURL
	}
	client := openai.NewClientWithConfig(clientCfg)

	if dimensions <= 0 {
		dims, ok := embeddingDimensions[model]
		if !ok {
			dims = 1536
		}
		dimensions = dims
	}

	return &OpenAIEmbedder{
		client:     client,
		model:      model,
		dimensions: dimensions,
	}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.NewInvalidInputError("text", "must not be empty")
	}
	if e.client == nil {
		return nil, errors.NewSystemError(errors.ErrCodeInternal, "openai client not initialized")
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: []string{text},
	})
	if err != nil {
		return nil, translateOpenAIError(err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.NewInvalidResponseError("embedding response empty")
	}

	embedding := resp.Data[0].Embedding
	result := make([]float32, len(embedding))
	copy(result, embedding)

	if err := ValidateEmbedding(result, e.dimensions); err != nil {
		return nil, err
	}
	return result, nil
}

// translateOpenAIError 将SDK错误映射为统一错误码
func translateOpenAIError(err error) *errors.AppError {
	var apiErr *openai.APIError
	if stderrors.As(err, &apiErr) {
		appErr := errors.ClassifyHTTPStatus("create_embeddings", apiErr.HTTPStatusCode)
		return appErr.WithDetails(map[string]interface{}{
			"status":  apiErr.HTTPStatusCode,
			"message": apiErr.Message,
		})
	}
	return errors.Translate(err)
}

func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

func (e *OpenAIEmbedder) Ready() bool {
	return e.client != nil
}
