package kafka

import (
	"encoding/json"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProducerDisabledWithoutConfig(t *testing.T) {
	p, err := NewProducer(nil, "retrieval.events")
	require.NoError(t, err)
	assert.False(t, p.Enabled())

	p, err = NewProducer([]string{"localhost:9092"}, "")
	require.NoError(t, err)
	assert.False(t, p.Enabled())

	// 禁用状态下发送静默跳过
	assert.NoError(t, p.SendRetrievalEvent(&RetrievalEvent{CorrelationID: "corr-1"}))
	assert.NoError(t, p.Close())
}

func TestProducerNilReceiverSafe(t *testing.T) {
	var p *Producer
	assert.False(t, p.Enabled())
	assert.NoError(t, p.SendRetrievalEvent(&RetrievalEvent{}))
	assert.NoError(t, p.Close())
}

func TestSendRetrievalEventMessage(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	mock.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		assert.Equal(t, "retrieval.events", msg.Topic)

		key, err := msg.Key.Encode()
		require.NoError(t, err)
		assert.Equal(t, "corr-abc", string(key))

		// 头部携带路由与分流字段
		require.Len(t, msg.Headers, 2)
		assert.Equal(t, "knowledge_base_id", string(msg.Headers[0].Key))
		assert.Equal(t, "42", string(msg.Headers[0].Value))
		assert.Equal(t, "outcome", string(msg.Headers[1].Key))
		assert.Equal(t, "success", string(msg.Headers[1].Value))

		value, err := msg.Value.Encode()
		require.NoError(t, err)
		var event RetrievalEvent
		require.NoError(t, json.Unmarshal(value, &event))
		assert.Equal(t, "corr-abc", event.CorrelationID)
		assert.Equal(t, uint(42), event.KnowledgeBaseID)
		assert.Equal(t, 3, event.ChunkCount)
		assert.Equal(t, 300, event.TotalTokens)
		assert.Equal(t, 10, event.TotalCandidates)
		assert.Equal(t, 6, event.AboveThresholdCount)
		assert.Equal(t, "success", event.Outcome)
		// 未填时间戳时发送前补齐
		assert.False(t, event.Timestamp.IsZero())
		return nil
	})

	p := &Producer{producer: mock, topic: "retrieval.events"}
	assert.True(t, p.Enabled())

	err := p.SendRetrievalEvent(&RetrievalEvent{
		CorrelationID:       "corr-abc",
		KnowledgeBaseID:     42,
		Query:               "库存同步",
		ChunkCount:          3,
		TotalTokens:         300,
		TotalCandidates:     10,
		AboveThresholdCount: 6,
		DurationMs:          120,
		Outcome:             "success",
	})
	require.NoError(t, err)
	assert.NoError(t, p.Close())
}

func TestSendRetrievalEventBrokerFailure(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	mock.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := &Producer{producer: mock, topic: "retrieval.events"}
	err := p.SendRetrievalEvent(&RetrievalEvent{CorrelationID: "corr-x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "发送消息失败")
	assert.NoError(t, p.Close())
}
