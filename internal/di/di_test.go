package di

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aihub/retrieval-go/internal/services"
)

func TestBuildContainerRegistersProviders(t *testing.T) {
	// dig按需构造，注册阶段不触碰数据库和Redis
	container, err := BuildContainer()
	require.NoError(t, err)
	assert.NotNil(t, container)
	assert.Same(t, container, GetContainer())

	// 重复注册同一输出类型应报错，说明检索服务图已注册完整
	err = container.Provide(services.NewTokenCounter)
	assert.Error(t, err)
}

func TestContainerProvideAndInvoke(t *testing.T) {
	container := InitContainer()

	type tokenBudget struct {
		MaxTokens int
	}

	err := container.Provide(func() *tokenBudget {
		return &tokenBudget{MaxTokens: 4000}
	})
	require.NoError(t, err)

	err = container.Invoke(func(budget *tokenBudget) {
		assert.Equal(t, 4000, budget.MaxTokens)
	})
	assert.NoError(t, err)
}

func TestPackageLevelHelpers(t *testing.T) {
	InitContainer()

	type searchLimit struct {
		Candidates int
	}

	err := Provide(func() *searchLimit {
		return &searchLimit{Candidates: 200}
	})
	require.NoError(t, err)

	invoked := false
	err = Invoke(func(limit *searchLimit) {
		invoked = true
		assert.Equal(t, 200, limit.Candidates)
	})
	assert.NoError(t, err)
	assert.True(t, invoked)
}
