package dashscope

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aihub/retrieval-go/internal/errors"
	"github.com/aihub/retrieval-go/internal/logger"
	"go.uber.org/zap"
)

// DefaultBaseURL DashScope兼容模式接口地址
const DefaultBaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"

// Service DashScope向量化服务，请求格式兼容OpenAI
type Service struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// EmbeddingRequest 向量化请求（兼容OpenAI格式）
type EmbeddingRequest struct {
	Model          string   `json:"model"`
	Input          []string `json:"input"`
	Dimensions     *int     `json:"dimensions,omitempty"`
	EncodingFormat string   `json:"encoding_format,omitempty"`
}

// EmbeddingResponse 向量化响应（兼容OpenAI格式）
type EmbeddingResponse struct {
	Object string                  `json:"object"`
	Data   []EmbeddingResponseData `json:"data"`
	Model  string                  `json:"model"`
	Usage  EmbeddingUsage          `json:"usage"`
}

type EmbeddingResponseData struct {
	Object    string    `json:"object"`
	Embedding []float64 `json:"embedding"`
	Index     int       `json:"index"`
}

type EmbeddingUsage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Error DashScope API错误
type Error struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

// NewService 创建DashScope服务
//
// 客户端不设置整体超时，调用方通过context控制截止时间，
// 避免两套超时机制互相竞争。
func NewService(apiKey, baseURL string) *Service {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		logger.Warn("DashScope API key is empty")
		return nil
	}

	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Service{
		apiKey:  apiKey,
		baseURL: baseURL,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				MaxConnsPerHost:     20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// CreateEmbeddings 调用向量化接口
func (s *Service) CreateEmbeddings(ctx context.Context, req EmbeddingRequest) (*EmbeddingResponse, error) {
	if s == nil || s.client == nil {
		return nil, errors.NewSystemError(errors.ErrCodeInternal, "DashScope服务未初始化")
	}

	// 构建请求
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "序列化请求失败")
	}

	// 创建HTTP请求
	url := fmt.Sprintf("%s/embeddings", s.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "创建请求失败")
	}

	// 设置请求头
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", s.apiKey))

	// 发送请求，超时与取消统一由ctx分类
	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, errors.Translate(err)
	}
	defer resp.Body.Close()

	// 读取响应
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Translate(err)
	}

	// 检查HTTP状态码
	if resp.StatusCode != http.StatusOK {
		appErr := errors.ClassifyHTTPStatus("create_embeddings", resp.StatusCode)
		var errorResp Error
		if err := json.Unmarshal(body, &errorResp); err == nil && errorResp.Message != "" {
			return nil, appErr.WithDetails(map[string]interface{}{
				"status":     resp.StatusCode,
				"code":       errorResp.Code,
				"message":    errorResp.Message,
				"request_id": errorResp.RequestID,
			})
		}
		return nil, appErr
	}

	// 解析响应
	var embeddingResp EmbeddingResponse
	if err := json.Unmarshal(body, &embeddingResp); err != nil {
		return nil, errors.NewInvalidResponseError("响应体不是合法JSON").WithCause(err)
	}

	logger.Debug("DashScope CreateEmbeddings success",
		zap.String("model", req.Model),
		zap.Int("input_count", len(req.Input)),
		zap.Int("total_tokens", embeddingResp.Usage.TotalTokens))

	return &embeddingResp, nil
}

// Ready 检查服务是否就绪
func (s *Service) Ready() bool {
	return s != nil && s.client != nil && s.apiKey != ""
}
