package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/aihub/retrieval-go/internal/errors"
)

// ElasticsearchOptions ES向量存储配置
type ElasticsearchOptions struct {
	Addresses   []string
	Username    string
	Password    string
	APIKey      string
	IndexPrefix string
	VectorSize  int
}

// esVectorStore 基于Elasticsearch dense_vector的kNN向量存储
type esVectorStore struct {
	client      *elasticsearch.Client
	indexPrefix string
	vectorSize  int
	indexCache  map[string]bool
	mu          sync.Mutex
}

// NewElasticsearchVectorStore 创建ES向量存储
func NewElasticsearchVectorStore(opts ElasticsearchOptions) (VectorStore, error) {
	if len(opts.Addresses) == 0 {
		return nil, errors.NewSystemError(errors.ErrCodeConfigInvalid, "elasticsearch addresses not configured")
	}

	cfg := elasticsearch.Config{
		Addresses: opts.Addresses,
		Username:  opts.Username,
		Password:  opts.Password,
		APIKey:    opts.APIKey,
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConnectionFailed, "failed to create elasticsearch client")
	}

	if opts.IndexPrefix == "" {
		opts.IndexPrefix = "kb_vectors"
	}
	if opts.VectorSize == 0 {
		opts.VectorSize = 1536
	}

	return &esVectorStore{
		client:      client,
		indexPrefix: opts.IndexPrefix,
		vectorSize:  opts.VectorSize,
		indexCache:  make(map[string]bool),
	}, nil
}

func (e *esVectorStore) indexName(kbID uint) string {
	return fmt.Sprintf("%s_%d", e.indexPrefix, kbID)
}

func (e *esVectorStore) ensureIndex(ctx context.Context, kbID uint) error {
	name := e.indexName(kbID)

	e.mu.Lock()
	if e.indexCache[name] {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	req := esapi.IndicesExistsRequest{
		Index: []string{name},
	}
	resp, err := req.Do(ctx, e.client)
	if err != nil {
		return errors.Translate(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == 200 {
		e.mu.Lock()
		e.indexCache[name] = true
		e.mu.Unlock()
		return nil
	}

	mapping := map[string]interface{}{
		"mappings": map[string]interface{}{
			"properties": map[string]interface{}{
				"knowledge_base_id": map[string]interface{}{"type": "keyword"},
				"document_id":       map[string]interface{}{"type": "keyword"},
				"chunk_id":          map[string]interface{}{"type": "keyword"},
				"token_count":       map[string]interface{}{"type": "integer"},
				"content":           map[string]interface{}{"type": "text"},
				"vector": map[string]interface{}{
					"type":       "dense_vector",
					"dims":       e.vectorSize,
					"index":      true,
					"similarity": "cosine",
				},
			},
		},
	}

	body, _ := json.Marshal(mapping)
	createReq := esapi.IndicesCreateRequest{
		Index: name,
		Body:  bytes.NewReader(body),
	}
	createResp, err := createReq.Do(ctx, e.client)
	if err != nil {
		return errors.Translate(err)
	}
	defer createResp.Body.Close()

	if createResp.IsError() {
		return errors.NewDatabaseError(fmt.Sprintf("create index error: %s", createResp.String()))
	}

	e.mu.Lock()
	e.indexCache[name] = true
	e.mu.Unlock()
	return nil
}

func (e *esVectorStore) UpsertChunk(ctx context.Context, chunk VectorChunk) (string, error) {
	if err := ValidateEmbedding(chunk.Embedding, e.vectorSize); err != nil {
		return "", err
	}
	if err := e.ensureIndex(ctx, chunk.KnowledgeBaseID); err != nil {
		return "", err
	}

	doc := map[string]interface{}{
		"chunk_id":          chunk.ChunkID,
		"document_id":       chunk.DocumentID,
		"knowledge_base_id": chunk.KnowledgeBaseID,
		"token_count":       chunk.TokenCount,
		"content":           chunk.Text,
		"vector":            chunk.Embedding,
	}

	payload, _ := json.Marshal(doc)
	req := esapi.IndexRequest{
		Index:      e.indexName(chunk.KnowledgeBaseID),
		DocumentID: fmt.Sprintf("%d", chunk.ChunkID),
		Body:       bytes.NewReader(payload),
		Refresh:    "true",
	}

	resp, err := req.Do(ctx, e.client)
	if err != nil {
		return "", errors.Translate(err)
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return "", errors.NewDatabaseError(fmt.Sprintf("index chunk error: %s", resp.String()))
	}

	return fmt.Sprintf("es_%d", chunk.ChunkID), nil
}

func (e *esVectorStore) DeleteDocument(ctx context.Context, knowledgeBaseID uint, documentID uint) error {
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{
				"document_id": documentID,
			},
		},
	}

	body, _ := json.Marshal(query)
	req := esapi.DeleteByQueryRequest{
		Index: []string{e.indexName(knowledgeBaseID)},
		Body:  bytes.NewReader(body),
	}

	resp, err := req.Do(ctx, e.client)
	if err != nil {
		return errors.Translate(err)
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return errors.NewDatabaseError(fmt.Sprintf("delete document error: %s", resp.String()))
	}

	return nil
}

func (e *esVectorStore) Search(ctx context.Context, req VectorSearchRequest) (*VectorSearchResult, error) {
	if len(req.QueryEmbedding) == 0 {
		return nil, errors.NewInvalidInputError("query_embedding", "must not be empty")
	}
	if req.Limit == 0 {
		req.Limit = 10
	}
	if req.CandidateLimit == 0 {
		req.CandidateLimit = req.Limit * 20
	}
	if err := e.ensureIndex(ctx, req.KnowledgeBaseID); err != nil {
		return nil, err
	}

	indexName := e.indexName(req.KnowledgeBaseID)
	totalCandidates, err := e.countScope(ctx, indexName, req.KnowledgeBaseID)
	if err != nil {
		return nil, err
	}

	body := map[string]interface{}{
		"size": req.CandidateLimit,
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   req.QueryEmbedding,
			"k":              req.CandidateLimit,
			"num_candidates": req.CandidateLimit * 2,
			"filter": map[string]interface{}{
				"term": map[string]interface{}{
					"knowledge_base_id": req.KnowledgeBaseID,
				},
			},
		},
		"_source": []string{"chunk_id", "document_id", "token_count", "content"},
	}

	payload, _ := json.Marshal(body)
	searchReq := esapi.SearchRequest{
		Index: []string{indexName},
		Body:  bytes.NewReader(payload),
	}

	resp, err := searchReq.Do(ctx, e.client)
	if err != nil {
		return nil, errors.Translate(err)
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return nil, errors.NewDatabaseError(fmt.Sprintf("knn search error: %s", resp.String()))
	}

	var result struct {
		Hits struct {
			Hits []struct {
				ID     string  `json:"_id"`
				Score  float64 `json:"_score"`
				Source struct {
					ChunkID    uint   `json:"chunk_id"`
					DocumentID uint   `json:"document_id"`
					TokenCount int    `json:"token_count"`
					Content    string `json:"content"`
				} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errors.NewInvalidResponseError("knn search response is not valid JSON").WithCause(err)
	}

	// 返回集不做阈值过滤，阈值命中数单独统计
	aboveThreshold := 0
	matches := make([]SearchMatch, 0, len(result.Hits.Hits))
	for _, hit := range result.Hits.Hits {
		// ES将cosine相似度映射为 (1+cos)/2，转换回原始余弦值
		score := 2*hit.Score - 1
		if score >= req.Threshold {
			aboveThreshold++
		}

		matches = append(matches, SearchMatch{
			ChunkID:    hit.Source.ChunkID,
			DocumentID: hit.Source.DocumentID,
			Content:    hit.Source.Content,
			Score:      score,
			TokenCount: hit.Source.TokenCount,
			Metadata:   make(map[string]interface{}),
		})
	}

	sortMatchesByScore(matches)
	if len(matches) > req.Limit {
		matches = matches[:req.Limit]
	}

	return &VectorSearchResult{
		Matches:             matches,
		TotalCandidates:     totalCandidates,
		AboveThresholdCount: aboveThreshold,
	}, nil
}

// countScope 统计检索范围内的向量总数
func (e *esVectorStore) countScope(ctx context.Context, indexName string, kbID uint) (int, error) {
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{
				"knowledge_base_id": kbID,
			},
		},
	}
	body, _ := json.Marshal(query)

	req := esapi.CountRequest{
		Index: []string{indexName},
		Body:  bytes.NewReader(body),
	}
	resp, err := req.Do(ctx, e.client)
	if err != nil {
		return 0, errors.Translate(err)
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return 0, errors.NewDatabaseError(fmt.Sprintf("count error: %s", resp.String()))
	}

	var result struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, errors.NewInvalidResponseError("count response is not valid JSON").WithCause(err)
	}
	return result.Count, nil
}

func (e *esVectorStore) Ready() bool {
	return e.client != nil
}
