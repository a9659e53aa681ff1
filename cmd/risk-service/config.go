package main

import (
	"fmt"
	"time"

	"riskgate/internal/pkg/bootstrap"
	"riskgate/internal/service/risk/domain"
	"riskgate/internal/service/risk/infrastructure/rule"
)

// riskConfig 对应配置文件中的 risk 段，可由 Nacos 热更新 scoring 和 rules
type riskConfig struct {
	Store        string        `yaml:"store"`         // memory | mysql
	LockBackend  string        `yaml:"lock_backend"`  // local | redis | zookeeper
	CacheEnabled bool          `yaml:"cache_enabled"` // 需要 redis
	CacheTTL     time.Duration `yaml:"cache_ttl"`
	LockTTL      time.Duration `yaml:"lock_ttl"`
	CheckTimeout time.Duration `yaml:"check_timeout"`

	Scoring domain.ScoringConfig `yaml:"scoring"`
	Rules   []rule.Config        `yaml:"rules"`

	Topics topicConfig `yaml:"topics"`
}

type topicConfig struct {
	Decisions      string        `yaml:"decisions"`
	Lifecycle      string        `yaml:"lifecycle"`
	LifecycleRetry string        `yaml:"lifecycle_retry"`
	LifecycleDLT   string        `yaml:"lifecycle_dlt"`
	ConsumerGroup  string        `yaml:"consumer_group"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	MaxRetries     int           `yaml:"max_retries"`
}

func defaultRiskConfig() riskConfig {
	return riskConfig{
		Store:        "memory",
		LockBackend:  "local",
		CacheTTL:     10 * time.Minute,
		LockTTL:      5 * time.Second,
		CheckTimeout: 800 * time.Millisecond,
		Scoring:      domain.DefaultScoringConfig(),
		Topics: topicConfig{
			Decisions:      "risk-decisions-topic",
			Lifecycle:      "order-lifecycle-topic",
			LifecycleRetry: "order-lifecycle-retry-topic",
			LifecycleDLT:   "order-lifecycle-dlt",
			ConsumerGroup:  "risk-service-group",
			RetryDelay:     5 * time.Second,
			MaxRetries:     3,
		},
	}
}

// loadRiskConfig 读取 risk 段并校验
func loadRiskConfig(cfg *bootstrap.Config) (riskConfig, error) {
	rc := defaultRiskConfig()
	if _, err := cfg.DecodeSection("risk", &rc); err != nil {
		return rc, err
	}
	rc.Scoring = rc.Scoring.WithDefaults()
	if err := rc.Scoring.Validate(); err != nil {
		return rc, fmt.Errorf("risk.scoring: %w", err)
	}
	switch rc.Store {
	case "memory", "mysql":
	default:
		return rc, fmt.Errorf("risk.store: unknown store %q", rc.Store)
	}
	switch rc.LockBackend {
	case "local", "redis", "zookeeper":
	default:
		return rc, fmt.Errorf("risk.lock_backend: unknown backend %q", rc.LockBackend)
	}
	return rc, nil
}

// ruleEngine 没有配置规则时返回 nil
func ruleEngine(configs []rule.Config) (*rule.CELRuleEngine, error) {
	if len(configs) == 0 {
		return nil, nil
	}
	return rule.NewCELRuleEngine(configs)
}
