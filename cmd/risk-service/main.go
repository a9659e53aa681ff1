package main

import (
	"context"
	"time"

	zlog "github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"

	"riskgate/internal/pkg/bootstrap"
	"riskgate/internal/pkg/logger"
	"riskgate/internal/pkg/mq"
	"riskgate/internal/pkg/redis"
	"riskgate/internal/pkg/zookeeper"
	"riskgate/internal/service/risk/application"
	"riskgate/internal/service/risk/domain"
	"riskgate/internal/service/risk/domain/port"
	"riskgate/internal/service/risk/infrastructure"
	"riskgate/internal/service/risk/infrastructure/adapter"
	"riskgate/internal/service/risk/infrastructure/rule"
	"riskgate/internal/service/risk/interfaces"
)

const (
	serviceName = "risk-service"
	servicePort = 8085
)

// main 是组装根：创建并组装所有依赖项，然后启动服务
func main() {
	bootstrap.Init()

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName:      serviceName,
		Port:             servicePort,
		RegisterHandlers: registerHandlers,
	})
}

func registerHandlers(appCtx bootstrap.AppCtx) {
	if err := wire(appCtx); err != nil {
		zlog.Fatal().Err(err).Str("service", serviceName).Msg("Failed to wire risk service")
	}
}

func wire(appCtx bootstrap.AppCtx) error {
	ctx := appCtx.Ctx
	cfg := appCtx.Config
	rc, err := loadRiskConfig(cfg)
	if err != nil {
		return err
	}
	tracer := otel.Tracer(serviceName)

	// 1. 事件日志与评估记录
	var eventLog domain.EventLog
	var assessments domain.AssessmentRepository
	switch rc.Store {
	case "mysql":
		db, err := infrastructure.NewMySQL(cfg.Infra.MySQL)
		if err != nil {
			return err
		}
		appCtx.OnShutdown("mysql", closeDB(db))
		eventLog = infrastructure.NewGormEventLog(db)
		assessments = infrastructure.NewGormAssessmentRepository(db)
	default:
		logger.Ctx(ctx).Warn().Msg("Using in-memory risk store, profiles are lost on restart")
		eventLog = infrastructure.NewMemoryEventLog()
		assessments = infrastructure.NewMemoryAssessmentRepository()
	}
	eventLog = infrastructure.NewInstrumentedEventLog(eventLog)

	// 2. Redis (投影缓存 / redis 锁)
	var redisClient *redis.Client
	if rc.CacheEnabled || rc.LockBackend == "redis" {
		redisClient, err = redis.NewClient(cfg.Infra.Redis.Addrs)
		if err != nil {
			return err
		}
		appCtx.OnShutdown("redis", func(context.Context) error { return redisClient.Close() })
	}
	var cache domain.ProfileCache
	if rc.CacheEnabled {
		cache, err = adapter.NewProfileCacheRedisAdapter(redisClient, rc.CacheTTL)
		if err != nil {
			return err
		}
	}

	// 3. 客户锁
	var locker port.CustomerLocker
	switch rc.LockBackend {
	case "redis":
		locker, err = adapter.NewRedisCustomerLocker(redisClient, rc.LockTTL, 20*time.Millisecond)
		if err != nil {
			return err
		}
	case "zookeeper":
		conn, err := zookeeper.Connect(cfg.Infra.Zookeeper.Servers, 10*time.Second)
		if err != nil {
			return err
		}
		appCtx.OnShutdown("zookeeper", func(context.Context) error {
			conn.Close()
			return nil
		})
		locker, err = adapter.NewZookeeperCustomerLocker(conn)
		if err != nil {
			return err
		}
	default:
		locker = adapter.NewLocalCustomerLocker()
	}

	// 4. 决策发布者
	brokers := cfg.Infra.Kafka.Brokers
	decisionWriter := mq.NewKafkaWriter(brokers, rc.Topics.Decisions)
	appCtx.OnShutdown("decision writer", func(context.Context) error { return decisionWriter.Close() })
	reviewFeed := interfaces.NewReviewFeedHub()
	appCtx.OnShutdown("review feed", reviewFeed.Close)

	publishers := []port.DecisionPublisher{
		infrastructure.NewMetricsPublisher(),
		adapter.NewDecisionKafkaAdapter(decisionWriter),
		reviewFeed,
	}

	// 5. 应用服务
	svc, err := application.NewRiskApplicationService(application.Dependencies{
		EventLog:    eventLog,
		Assessments: assessments,
		Cache:       cache,
		Locker:      locker,
		Publishers:  publishers,
		Tracer:      tracer,
	}, rc.Scoring, rc.CheckTimeout)
	if err != nil {
		return err
	}
	if err := applyRules(svc, rc.Rules); err != nil {
		return err
	}

	// 配置中心推送新配置时热更新评分和规则，校验失败则保留旧配置
	bootstrap.OnConfigChange(func(newCfg *bootstrap.Config) {
		if err := reloadRisk(svc, newCfg); err != nil {
			zlog.Error().Err(err).Msg("Ignoring invalid risk config update")
			return
		}
		zlog.Info().Msg("Risk scoring config reloaded")
	})

	// 6. HTTP 路由
	interfaces.NewRiskHandler(svc).RegisterRoutes(appCtx.Mux)
	reviewFeed.RegisterRoutes(appCtx.Mux)

	// 7. Kafka 消费者：主题 -> 重试主题 -> 死信主题
	retryWriter := mq.NewKafkaWriter(brokers, rc.Topics.LifecycleRetry)
	dltWriter := mq.NewKafkaWriter(brokers, rc.Topics.LifecycleDLT)
	failures := mq.NewFailureHandler(retryWriter, dltWriter, rc.Topics.MaxRetries)
	failures.Retryable = interfaces.Retryable

	lifecycle := interfaces.NewOrderEventConsumerAdapter(
		mq.NewKafkaReader(brokers, rc.Topics.Lifecycle, rc.Topics.ConsumerGroup),
		rc.Topics.Lifecycle, svc, failures, tracer)
	retry := interfaces.NewOrderEventConsumerAdapter(
		mq.NewKafkaReader(brokers, rc.Topics.LifecycleRetry, rc.Topics.ConsumerGroup),
		rc.Topics.LifecycleRetry, svc, failures, tracer).SetDelay(rc.Topics.RetryDelay)
	dlt := interfaces.NewDltConsumerAdapter(
		mq.NewKafkaReader(brokers, rc.Topics.LifecycleDLT, rc.Topics.ConsumerGroup+"-dlt"),
		rc.Topics.LifecycleDLT)

	// 写者在消费者之后关闭
	appCtx.OnShutdown("failure writers", func(context.Context) error {
		return closeWriters(retryWriter, dltWriter)
	})
	lifecycle.Start(ctx)
	retry.Start(ctx)
	dlt.Start(ctx)
	appCtx.OnShutdown("lifecycle consumer", lifecycle.Stop)
	appCtx.OnShutdown("retry consumer", retry.Stop)
	appCtx.OnShutdown("dlt consumer", dlt.Stop)

	logger.Ctx(ctx).Info().
		Str("store", rc.Store).
		Str("lock_backend", rc.LockBackend).
		Bool("cache", rc.CacheEnabled).
		Int("rules", len(rc.Rules)).
		Msg("Risk service wired")
	return nil
}

func applyRules(svc *application.RiskApplicationService, configs []rule.Config) error {
	engine, err := ruleEngine(configs)
	if err != nil {
		return err
	}
	svc.UpdateRules(asRuleEngine(engine))
	return nil
}

// reloadRisk 先编译规则、校验评分配置，全部通过后再一次性替换，任何一步失败都不改动当前配置
func reloadRisk(svc *application.RiskApplicationService, cfg *bootstrap.Config) error {
	next, err := loadRiskConfig(cfg)
	if err != nil {
		return err
	}
	engine, err := ruleEngine(next.Rules)
	if err != nil {
		return err
	}
	return svc.Reload(next.Scoring, asRuleEngine(engine))
}

// asRuleEngine 避免把 nil 指针包装成非 nil 接口
func asRuleEngine(engine *rule.CELRuleEngine) port.RuleEngine {
	if engine == nil {
		return nil
	}
	return engine
}

func closeDB(db *gorm.DB) func(context.Context) error {
	return func(context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
}

func closeWriters(writers ...*kafka.Writer) error {
	var first error
	for _, w := range writers {
		if err := w.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
