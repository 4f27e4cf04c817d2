package database

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthChecker_Basic(t *testing.T) {
	// 创建mock数据库，开启ping监控
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing()

	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)

	checker := NewHealthChecker(db, logger)
	assert.NotNil(t, checker)

	ctx := context.Background()
	err = checker.Check(ctx)
	assert.NoError(t, err)
	assert.True(t, checker.IsHealthy())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHealthChecker_FailureAndRecovery(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)

	checker := NewHealthChecker(db, logger)

	// 先失败
	mock.ExpectPing().WillReturnError(sqlmock.ErrCancelled)

	ctx := context.Background()
	err = checker.Check(ctx)
	assert.Error(t, err)
	assert.False(t, checker.IsHealthy())

	// 再恢复
	mock.ExpectPing()

	err = checker.Check(ctx)
	assert.NoError(t, err)
	assert.True(t, checker.IsHealthy())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHealthChecker_BackgroundMonitoring(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	// 后台循环的ping次数不固定，多备一些期望
	for i := 0; i < 50; i++ {
		mock.ExpectPing()
	}

	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)

	checker := NewHealthChecker(db, logger)
	checker.SetCheckInterval(20 * time.Millisecond)
	checker.SetRetryConfig(time.Millisecond, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go checker.Start(ctx)

	require.Eventually(t, checker.IsHealthy, time.Second, 10*time.Millisecond)

	checker.Stop()
}

func TestHealthChecker_Result(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)

	checker := NewHealthChecker(db, logger)

	// 初始状态：从未检查过
	result := checker.GetHealthResult()
	assert.False(t, result.Healthy)
	assert.True(t, result.LastCheck.IsZero())

	mock.ExpectPing()

	ctx := context.Background()
	err = checker.Check(ctx)
	require.NoError(t, err)

	result = checker.GetHealthResult()
	assert.True(t, result.Healthy)
	assert.Empty(t, result.LastError)
	assert.False(t, result.LastCheck.IsZero())
	assert.NotEmpty(t, result.Uptime)
	assert.NotEmpty(t, result.ResponseTime)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHealthChecker_ResultCarriesLastError(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	checker := NewHealthChecker(db, logrus.New())

	mock.ExpectPing().WillReturnError(sqlmock.ErrCancelled)

	err = checker.Check(context.Background())
	require.Error(t, err)

	result := checker.GetHealthResult()
	assert.False(t, result.Healthy)
	assert.Equal(t, sqlmock.ErrCancelled.Error(), result.LastError)
	assert.Empty(t, result.Uptime)
}

func TestHealthChecker_WaitForHealthy(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)

	checker := NewHealthChecker(db, logger)

	// 先进入失败状态
	mock.ExpectPing().WillReturnError(sqlmock.ErrCancelled)
	ctx := context.Background()
	err = checker.Check(ctx)
	require.Error(t, err)

	mock.ExpectPing()

	// 模拟后台恢复
	go func() {
		time.Sleep(50 * time.Millisecond)
		checker.Check(ctx)
	}()

	err = checker.WaitForHealthy(ctx, time.Second)
	assert.NoError(t, err)
	assert.True(t, checker.IsHealthy())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHealthChecker_WaitForHealthyTimeout(t *testing.T) {
	db, _, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	checker := NewHealthChecker(db, logrus.New())

	err = checker.WaitForHealthy(context.Background(), 120*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, checker.IsHealthy())
}
