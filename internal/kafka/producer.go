package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/aihub/retrieval-go/internal/logger"
	"go.uber.org/zap"
)

// Producer Kafka生产者
type Producer struct {
	producer sarama.SyncProducer
	topic    string
}

// RetrievalEvent 检索完成事件
//
// 每次检索操作结束后发布一条，下游用于离线分析与审计对账。
type RetrievalEvent struct {
	CorrelationID       string    `json:"correlation_id"`
	KnowledgeBaseID     uint      `json:"knowledge_base_id"`
	Query               string    `json:"query"`
	ChunkCount          int       `json:"chunk_count"`
	TotalTokens         int       `json:"total_tokens"`
	TotalCandidates     int       `json:"total_candidates"`
	AboveThresholdCount int       `json:"above_threshold_count"`
	DurationMs          int64     `json:"duration_ms"`
	Outcome             string    `json:"outcome"`
	Timestamp           time.Time `json:"timestamp"`
}

// NewProducer 创建Kafka生产者
//
// 未配置broker时返回禁用实例，发送调用静默跳过，不影响主流程。
func NewProducer(brokers []string, topic string) (*Producer, error) {
	if len(brokers) == 0 || topic == "" {
		logger.Warn("Kafka未配置，检索事件发布已禁用")
		return &Producer{}, nil
	}

	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Timeout = 10 * time.Second

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("创建Kafka生产者失败: %w", err)
	}

	logger.Info("Kafka生产者初始化成功", zap.Strings("brokers", brokers), zap.String("topic", topic))
	return &Producer{
		producer: producer,
		topic:    topic,
	}, nil
}

// Enabled 是否已连接broker
func (p *Producer) Enabled() bool {
	return p != nil && p.producer != nil
}

// SendRetrievalEvent 发送检索完成事件
func (p *Producer) SendRetrievalEvent(event *RetrievalEvent) error {
	// 如果Kafka未配置，静默跳过（不影响主流程）
	if p == nil || p.producer == nil {
		return nil
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// 序列化消息
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化消息失败: %w", err)
	}

	// 同一correlation id的事件落在同一分区，保持消费侧有序
	kafkaMsg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.CorrelationID),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{
				Key:   []byte("knowledge_base_id"),
				Value: []byte(fmt.Sprintf("%d", event.KnowledgeBaseID)),
			},
			{
				Key:   []byte("outcome"),
				Value: []byte(event.Outcome),
			},
		},
	}

	partition, offset, err := p.producer.SendMessage(kafkaMsg)
	if err != nil {
		logger.Error("发送Kafka消息失败", zap.Error(err))
		return fmt.Errorf("发送消息失败: %w", err)
	}

	logger.Debug("检索事件发送成功",
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
		zap.String("correlation_id", event.CorrelationID))

	return nil
}

// Close 关闭生产者
func (p *Producer) Close() error {
	if p != nil && p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
