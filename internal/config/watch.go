package config

import (
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/aihub/retrieval-go/internal/logger"
)

// WatchConfigFile 监听配置文件变化。组件在构造时消费配置快照，
// 运行中不会重读，检测到变更时仅提示需要重启生效。
func WatchConfigFile() {
	if viper.ConfigFileUsed() == "" {
		return
	}

	viper.OnConfigChange(func(e fsnotify.Event) {
		logger.Warn("config file changed, restart required to apply",
			zap.String("file", e.Name),
			zap.String("op", e.Op.String()))
	})
	viper.WatchConfig()
}
