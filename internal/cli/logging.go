package cli

import (
	"fmt"
	"strings"

	"github.com/zeromicro/go-zero/core/logx"

	"spotgrid-engine/internal/config"
	"spotgrid-engine/pkg/confkit"
)

// ConfigSummaryLines returns human readable lines describing the loaded app config.
func ConfigSummaryLines(cfg *config.Config) []string {
	if cfg == nil {
		return []string{"Configuration: <nil>"}
	}

	lines := []string{
		fmt.Sprintf("Environment: %s", cfg.Env),
		fmt.Sprintf("Data path: %s", cfg.DataPath),
		fmt.Sprintf("Postgres: %s", presence(cfg.Postgres.DataSource != "")),
		fmt.Sprintf("Redis: %s", presence(strings.TrimSpace(cfg.Redis.Host) != "")),
		fmt.Sprintf("TTL (short/medium/long): %ds / %ds / %ds", cfg.TTL.Short, cfg.TTL.Medium, cfg.TTL.Long),
		fmt.Sprintf("Pool: max open positions global = %d", cfg.Pool.MaxOpenPositionsGlobal),
		fmt.Sprintf("Precision: refresh every %dm, mode=%s", cfg.Precision.RefreshIntervalMinutes, cfg.Precision.Mode),
		fmt.Sprintf("Fill monitor: poll every %ds, batch=%d", cfg.FillMonitor.PollIntervalSeconds, cfg.FillMonitor.BatchSize),
		fmt.Sprintf("Webhook: path=%s secret=%s", cfg.Webhook.Path, presence(cfg.Webhook.SharedSecret != "")),
		fmt.Sprintf("Telegram: %s", presence(cfg.Telegram.Enabled && cfg.Telegram.BotToken != "")),
		sectionLine("Exchange config", cfg.Exchange),
	}

	return lines
}

// LogConfigSummary emits the configuration summary using logx.
func LogConfigSummary(cfg *config.Config) {
	lines := ConfigSummaryLines(cfg)
	if len(lines) == 0 {
		return
	}
	logx.Info("configuration summary")
	for _, line := range lines {
		logx.Infof("config • %s", line)
	}
}

func presence(ok bool) string {
	if ok {
		return "configured"
	}
	return "not configured"
}

func sectionLine[T any](name string, section confkit.Section[T]) string {
	switch {
	case strings.TrimSpace(section.File) != "":
		return fmt.Sprintf("%s: %s", name, section.File)
	case section.Value != nil:
		return fmt.Sprintf("%s: inline", name)
	default:
		return fmt.Sprintf("%s: not configured", name)
	}
}
