package dashscope

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aihub/retrieval-go/internal/errors"
)

func TestNewServiceRequiresAPIKey(t *testing.T) {
	assert.Nil(t, NewService("", ""))
	assert.Nil(t, NewService("   ", ""))

	var s *Service
	assert.False(t, s.Ready())
}

func TestNewServiceBaseURL(t *testing.T) {
	s := NewService("test-key", "")
	require.NotNil(t, s)
	assert.Equal(t, DefaultBaseURL, s.baseURL)
	assert.True(t, s.Ready())

	s = NewService("test-key", "http://localhost:8080/v1/")
	require.NotNil(t, s)
	assert.Equal(t, "http://localhost:8080/v1", s.baseURL)
}

func TestCreateEmbeddingsSuccess(t *testing.T) {
	dims := 4
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req EmbeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text-embedding-v3", req.Model)
		assert.Equal(t, []string{"库存同步怎么配置"}, req.Input)
		require.NotNil(t, req.Dimensions)
		assert.Equal(t, dims, *req.Dimensions)

		resp := EmbeddingResponse{
			Object: "list",
			Model:  req.Model,
			Data: []EmbeddingResponseData{
				{Object: "embedding", Embedding: []float64{0.1, 0.2, 0.3, 0.4}, Index: 0},
			},
			Usage: EmbeddingUsage{PromptTokens: 7, TotalTokens: 7},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	s := NewService("test-key", server.URL)
	require.NotNil(t, s)

	resp, err := s.CreateEmbeddings(context.Background(), EmbeddingRequest{
		Model:          "text-embedding-v3",
		Input:          []string{"库存同步怎么配置"},
		Dimensions:     &dims,
		EncodingFormat: "float",
	})
	require.NoError(t, err)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, []float64{0.1, 0.2, 0.3, 0.4}, resp.Data[0].Embedding)
	assert.Equal(t, 7, resp.Usage.TotalTokens)
}

func TestCreateEmbeddingsServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"code":"InternalError","message":"服务暂不可用","request_id":"rid-1"}`))
	}))
	defer server.Close()

	s := NewService("test-key", server.URL)
	_, err := s.CreateEmbeddings(context.Background(), EmbeddingRequest{
		Model: "text-embedding-v3",
		Input: []string{"查询"},
	})
	require.Error(t, err)
	assert.True(t, errors.IsUpstreamUnavailable(err))
	assert.True(t, errors.IsRetryable(err))

	appErr := errors.GetAppError(err)
	require.NotNil(t, appErr)
	details, ok := appErr.Details.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "服务暂不可用", details["message"])
	assert.Equal(t, "rid-1", details["request_id"])
}

func TestCreateEmbeddingsRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	s := NewService("test-key", server.URL)
	_, err := s.CreateEmbeddings(context.Background(), EmbeddingRequest{
		Model: "text-embedding-v3",
		Input: []string{"查询"},
	})
	require.Error(t, err)
	// 限流按可重试的上游不可用处理
	assert.True(t, errors.IsUpstreamUnavailable(err))
}

func TestCreateEmbeddingsRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":"InvalidParameter","message":"模型不存在","request_id":"rid-2"}`))
	}))
	defer server.Close()

	s := NewService("test-key", server.URL)
	_, err := s.CreateEmbeddings(context.Background(), EmbeddingRequest{
		Model: "no-such-model",
		Input: []string{"查询"},
	})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeUpstreamRejected))
	// 请求本身有问题，重试没有意义
	assert.False(t, errors.IsRetryable(err))
}

func TestCreateEmbeddingsMalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": [`))
	}))
	defer server.Close()

	s := NewService("test-key", server.URL)
	_, err := s.CreateEmbeddings(context.Background(), EmbeddingRequest{
		Model: "text-embedding-v3",
		Input: []string{"查询"},
	})
	require.Error(t, err)
	assert.True(t, errors.IsInvalidResponse(err))
}

func TestCreateEmbeddingsContextDeadline(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer server.Close()
	defer close(release)

	s := NewService("test-key", server.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := s.CreateEmbeddings(ctx, EmbeddingRequest{
		Model: "text-embedding-v3",
		Input: []string{"查询"},
	})
	require.Error(t, err)
	assert.True(t, errors.IsTimeout(err))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestCreateEmbeddingsNilService(t *testing.T) {
	var s *Service
	_, err := s.CreateEmbeddings(context.Background(), EmbeddingRequest{})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInternal))
}
