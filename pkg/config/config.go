package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/betbot/tradelink/pkg/logger"
	"gopkg.in/yaml.v3"
)

// ExchangeConfig 交易所网关配置
type ExchangeConfig struct {
	BaseURL                string        `yaml:"base_url"`
	OfferPollInterval      time.Duration `yaml:"offer_poll_interval"`      // 收到的新报价轮询间隔
	SessionRefreshInterval time.Duration `yaml:"session_refresh_interval"` // web session 静默续期间隔
	DefaultCollectionID    string        `yaml:"default_collection_id"`
	DefaultSubID           string        `yaml:"default_sub_id"`
}

// InventoryConfig 库存缓存配置
type InventoryConfig struct {
	CoalesceWindow  time.Duration `yaml:"coalesce_window"`  // 合并窗口（默认 5s）
	RefreshInterval time.Duration `yaml:"refresh_interval"` // 自动刷新间隔，0 表示关闭
}

// OrchestratorConfig 报价编排配置
type OrchestratorConfig struct {
	DedupListLimit       int `yaml:"dedup_list_limit"`       // 每个平台去重列表上限
	OfferRecordLimit     int `yaml:"offer_record_limit"`     // 报价记录上限
	MaxConsecutiveErrors int `yaml:"max_consecutive_errors"` // 连续失败熔断阈值，0 表示关闭
}

// MarketplaceConfig 单个平台配置
type MarketplaceConfig struct {
	BaseURL        string        `yaml:"base_url"`
	StreamURL      string        `yaml:"stream_url"` // 推送型平台的 websocket 地址
	ProbeInterval  time.Duration `yaml:"probe_interval"`
	PollInterval   time.Duration `yaml:"poll_interval"`   // 轮询型平台
	ReconnectDelay time.Duration `yaml:"reconnect_delay"` // 最小 1s
}

// Config 应用配置
type Config struct {
	DataDir         string                       `yaml:"data_dir"`
	DBPath          string                       `yaml:"db_path"`           // sqlite 库存快照
	SecretStorePath string                       `yaml:"secret_store_path"` // badger 账号库
	EncryptionKey   string                       `yaml:"encryption_key"`    // 32 字节 hex/base64
	Proxy           string                       `yaml:"proxy"`             // 默认代理（账号可覆盖）
	Listen          string                       `yaml:"listen"`            // 控制面 HTTP
	MetricsListen   string                       `yaml:"metrics_listen"`    // expvar/pprof，为空关闭
	Log             logger.Config                `yaml:"log"`
	Exchange        ExchangeConfig               `yaml:"exchange"`
	Inventory       InventoryConfig              `yaml:"inventory"`
	Orchestrator    OrchestratorConfig           `yaml:"orchestrator"`
	Marketplaces    map[string]MarketplaceConfig `yaml:"marketplaces"`
}

// Default 默认配置
func Default() *Config {
	return &Config{
		DataDir: "data",
		Listen:  "127.0.0.1:8090",
		Log: logger.Config{
			Level:      "info",
			OutputFile: "logs/tradelink.log",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
			LogByDay:   true,
		},
		Exchange: ExchangeConfig{
			OfferPollInterval:      30 * time.Second,
			SessionRefreshInterval: 20 * time.Minute,
			DefaultCollectionID:    "730",
			DefaultSubID:           "2",
		},
		Inventory: InventoryConfig{
			CoalesceWindow:  5 * time.Second,
			RefreshInterval: 10 * time.Minute,
		},
		Orchestrator: OrchestratorConfig{
			DedupListLimit:       500,
			OfferRecordLimit:     1000,
			MaxConsecutiveErrors: 10,
		},
		Marketplaces: map[string]MarketplaceConfig{
			"marketa": {ProbeInterval: 5 * time.Minute, ReconnectDelay: 5 * time.Second},
			"marketb": {ProbeInterval: 3 * time.Minute, PollInterval: 5 * time.Second, ReconnectDelay: 5 * time.Second},
			"marketc": {ProbeInterval: 30 * time.Minute, ReconnectDelay: 10 * time.Second},
			"marketd": {ProbeInterval: 10 * time.Minute, PollInterval: 10 * time.Second, ReconnectDelay: 5 * time.Second},
		},
	}
}

// Load 读取配置：默认值 → 配置文件（YAML，JSON 亦可） → 环境变量
// path 为空时只使用默认值和环境变量
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败 %s: %w", path, err)
		}
		ext := strings.ToLower(filepath.Ext(path))
		switch ext {
		case ".yaml", ".yml", ".json":
		default:
			return nil, fmt.Errorf("不支持的配置文件格式: %s (支持 .yaml, .yml, .json)", ext)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("解析配置文件失败: %w", err)
		}
	}
	cfg.applyEnv()
	cfg.fillDerived()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.DataDir = getEnv("TRADELINK_DATA_DIR", c.DataDir)
	c.DBPath = getEnv("TRADELINK_DB_PATH", c.DBPath)
	c.SecretStorePath = getEnv("TRADELINK_SECRET_STORE_PATH", c.SecretStorePath)
	c.EncryptionKey = getEnv("TRADELINK_ENCRYPTION_KEY", c.EncryptionKey)
	c.Proxy = getEnv("TRADELINK_PROXY", c.Proxy)
	c.Listen = getEnv("TRADELINK_LISTEN", c.Listen)
	c.MetricsListen = getEnv("TRADELINK_METRICS_LISTEN", c.MetricsListen)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.OutputFile = getEnv("LOG_FILE", c.Log.OutputFile)
	c.Log.LogByDay = parseBoolEnv("LOG_BY_DAY", c.Log.LogByDay)
	c.Exchange.BaseURL = getEnv("TRADELINK_EXCHANGE_URL", c.Exchange.BaseURL)
	c.Inventory.CoalesceWindow = parseDurationEnv("TRADELINK_INVENTORY_COALESCE_WINDOW", c.Inventory.CoalesceWindow)
	c.Orchestrator.DedupListLimit = parseIntEnv("TRADELINK_DEDUP_LIST_LIMIT", c.Orchestrator.DedupListLimit)

	for name, mc := range c.Marketplaces {
		prefix := "TRADELINK_" + strings.ToUpper(name) + "_"
		mc.BaseURL = getEnv(prefix+"URL", mc.BaseURL)
		mc.StreamURL = getEnv(prefix+"STREAM_URL", mc.StreamURL)
		mc.ProbeInterval = parseDurationEnv(prefix+"PROBE_INTERVAL", mc.ProbeInterval)
		c.Marketplaces[name] = mc
	}
}

func (c *Config) fillDerived() {
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "inventory.db")
	}
	if c.SecretStorePath == "" {
		c.SecretStorePath = filepath.Join(c.DataDir, "accounts")
	}
	defaults := Default().Marketplaces
	for name, mc := range c.Marketplaces {
		// 配置文件里只写了部分字段时，其余字段回落到默认值
		if def, ok := defaults[name]; ok {
			if mc.ProbeInterval == 0 {
				mc.ProbeInterval = def.ProbeInterval
			}
			if mc.PollInterval == 0 {
				mc.PollInterval = def.PollInterval
			}
			if mc.ReconnectDelay == 0 {
				mc.ReconnectDelay = def.ReconnectDelay
			}
		}
		if mc.ReconnectDelay < time.Second {
			mc.ReconnectDelay = time.Second
		}
		c.Marketplaces[name] = mc
	}
}

// OffersDir 报价记录目录
func (c *Config) OffersDir() string {
	return filepath.Join(c.DataDir, "offers")
}

// Marketplace 获取平台配置
func (c *Config) Marketplace(name string) (MarketplaceConfig, bool) {
	mc, ok := c.Marketplaces[name]
	return mc, ok
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir 不能为空")
	}
	if c.Exchange.BaseURL == "" {
		return fmt.Errorf("exchange.base_url 不能为空（或设置 TRADELINK_EXCHANGE_URL）")
	}
	if c.Inventory.CoalesceWindow < 0 {
		return fmt.Errorf("inventory.coalesce_window 不能为负数")
	}
	if c.Orchestrator.DedupListLimit <= 0 {
		return fmt.Errorf("orchestrator.dedup_list_limit 必须大于 0")
	}
	// base_url 为空的平台视为未配置，启动时由工厂拒绝
	for name, mc := range c.Marketplaces {
		if mc.ProbeInterval <= 0 {
			return fmt.Errorf("marketplaces.%s.probe_interval 必须大于 0", name)
		}
	}
	return nil
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseIntEnv 解析整数环境变量
func parseIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseBoolEnv 解析布尔环境变量
func parseBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}
