package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("默认配置加载失败: %v", err)
	}
	if cfg.Scheduler.Interval != 6*time.Hour {
		t.Fatalf("默认调度间隔应为 6h, 实际 %s", cfg.Scheduler.Interval)
	}
	if cfg.Scraper.BulkDelay != 2*time.Second || cfg.Scraper.StaleAfter != 6*time.Hour {
		t.Fatalf("批量延迟或过期阈值默认值不正确: %+v", cfg.Scraper)
	}
	if cfg.Forecast.HorizonDays != 7 || cfg.Forecast.ModelID != "linear_regression" {
		t.Fatalf("预测默认值不正确: %+v", cfg.Forecast)
	}
	if cfg.ResolveMaxPoints(0) != 5000 || cfg.ResolveMaxPoints(10) != 10 {
		t.Fatalf("ResolveMaxPoints 不正确")
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
scraper:
  request_delay: 3s
  user_agents:
    - "TestAgent/1.0"
forecast:
  horizon_days: 14
alerting:
  telegram:
    enabled: true
    bot_token: "token"
    chat_id: "chat"
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	t.Setenv("PRICETRACKER_SCRAPER_BULK_DELAY", "5s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if cfg.Scraper.RequestDelay != 3*time.Second || cfg.Forecast.HorizonDays != 14 {
		t.Fatalf("文件配置未生效: %+v %+v", cfg.Scraper, cfg.Forecast)
	}
	if cfg.Scraper.BulkDelay != 5*time.Second {
		t.Fatalf("环境变量应覆盖 bulk_delay, 实际 %s", cfg.Scraper.BulkDelay)
	}
	if len(cfg.Scraper.UserAgents) != 1 || cfg.Scraper.UserAgents[0] != "TestAgent/1.0" {
		t.Fatalf("user_agents 解析不正确: %v", cfg.Scraper.UserAgents)
	}
}

func TestValidate(t *testing.T) {
	chdir(t, t.TempDir())
	base, err := Load("")
	if err != nil {
		t.Fatalf("默认配置加载失败: %v", err)
	}

	cases := map[string]func(c *Config){
		"horizon too large": func(c *Config) { c.Forecast.HorizonDays = 91 },
		"holdout zero":      func(c *Config) { c.Forecast.HoldoutFraction = 0 },
		"no schedule":       func(c *Config) { c.Scheduler.Interval = 0 },
		"negative retries":  func(c *Config) { c.Scraper.MaxRetries = -1 },
		"email without host": func(c *Config) {
			c.Alerting.Email.Enabled = true
		},
		"telegram without token": func(c *Config) {
			c.Alerting.Telegram.Enabled = true
		},
	}
	for name, mutate := range cases {
		cfg := *base
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: 应校验失败", name)
		}
	}

	cron := *base
	cron.Scheduler.Interval = 0
	cron.Scheduler.Cron = "0 */6 * * *"
	if err := cron.Validate(); err != nil {
		t.Fatalf("配置 cron 时不要求 interval: %v", err)
	}
}

// chdir changes the working directory for the duration of the test.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatal(err)
		}
	})
}
