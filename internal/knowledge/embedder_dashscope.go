package knowledge

import (
	"context"
	"strings"

	"github.com/aihub/retrieval-go/internal/dashscope"
	"github.com/aihub/retrieval-go/internal/errors"
)

// DashScopeEmbedder 使用阿里云DashScope Embedding API
type DashScopeEmbedder struct {
	service        *dashscope.Service
	model          string
	dimensions     int
	encodingFormat string
}

// 千问Embedding模型维度映射
var dashscopeEmbeddingDimensions = map[string]int{
	"text-embedding-v1":       1536, // 通义千问文本向量化模型
	"text-embedding-v2":       1536, // 通义千问文本向量化模型v2
	"text-embedding-v3":       1536, // 通义千问文本向量化模型v3（支持自定义维度）
	"text-embedding-v4":       1536, // 通义千问文本向量化模型v4（支持自定义维度，默认1024）
	"text-embedding-async-v1": 1536, // 异步向量化模型
}

// NewDashScopeEmbedder 创建DashScope嵌入向量生成器
func NewDashScopeEmbedder(service *dashscope.Service, model string, dimensions int, encodingFormat string) Embedder {
	if service == nil || !service.Ready() {
		return &NoopEmbedder{}
	}

	// 默认模型
	if model == "" {
		model = "text-embedding-v3"
	}

	// 获取模型维度
	if dimensions <= 0 {
		dims, ok := dashscopeEmbeddingDimensions[model]
		if !ok {
			dims = 1536
		}
		dimensions = dims
	}

	if encodingFormat == "" {
		encodingFormat = "float"
	}

	return &DashScopeEmbedder{
		service:        service,
		model:          model,
		dimensions:     dimensions,
		encodingFormat: encodingFormat,
	}
}

func (e *DashScopeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.NewInvalidInputError("text", "must not be empty")
	}
	if e.service == nil || !e.service.Ready() {
		return nil, errors.NewSystemError(errors.ErrCodeInternal, "dashscope service not initialized")
	}

	// 构建请求
	req := dashscope.EmbeddingRequest{
		Model:          e.model,
		Input:          []string{text},
		EncodingFormat: e.encodingFormat,
	}

	// 对于v3和v4模型，可以指定维度
	if e.model == "text-embedding-v3" || e.model == "text-embedding-v4" {
		req.Dimensions = &e.dimensions
	}

	resp, err := e.service.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, err
	}

	// 检查是否有embedding数据
	if len(resp.Data) == 0 {
		return nil, errors.NewInvalidResponseError("embedding response empty")
	}

	// 转换float64到float32
	embedding := resp.Data[0].Embedding
	result := make([]float32, len(embedding))
	for i, v := range embedding {
		result[i] = float32(v)
	}

	if err := ValidateEmbedding(result, e.dimensions); err != nil {
		return nil, err
	}
	return result, nil
}

func (e *DashScopeEmbedder) Dimensions() int {
	return e.dimensions
}

func (e *DashScopeEmbedder) Ready() bool {
	return e.service != nil && e.service.Ready()
}
