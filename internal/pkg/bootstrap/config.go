// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/nacos-group/nacos-sdk-go/v2/common/constant"
	zlog "github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"riskgate/internal/pkg/nacos"
)

// Config 是所有服务共享的配置结构。业务相关的段落保存在 raw 中，
// 由各服务通过 DecodeSection 自行解析。
type Config struct {
	App   AppConfig   `yaml:"app"`
	Infra InfraConfig `yaml:"infra"`

	raw map[string]yaml.Node
}

type AppConfig struct {
	Name      string `yaml:"name"`
	Port      int    `yaml:"port"`
	Env       string `yaml:"env"`
	LogLevel  string `yaml:"log_level"`
	LogPretty bool   `yaml:"log_pretty"`
}

type InfraConfig struct {
	Jaeger    JaegerConfig    `yaml:"jaeger"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	MySQL     MySQLConfig     `yaml:"mysql"`
	Zookeeper ZookeeperConfig `yaml:"zookeeper"`
	Nacos     NacosConfig     `yaml:"nacos"`
}

type JaegerConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
}

type RedisConfig struct {
	Addrs string `yaml:"addrs"`
}

type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

type ZookeeperConfig struct {
	Servers []string `yaml:"servers"`
}

type NacosConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServerAddrs string `yaml:"server_addrs"`
	Namespace   string `yaml:"namespace"`
	Group       string `yaml:"group"`
	DataID      string `yaml:"data_id"`
}

var (
	currentConfig atomic.Pointer[Config]

	watchersMu sync.Mutex
	watchers   []func(*Config)

	nacosConfigClient *nacos.ConfigClient
)

// DefaultConfig 返回本地开发环境的默认值
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{Port: 8085, Env: "dev", LogLevel: "info"},
		Infra: InfraConfig{
			Jaeger:    JaegerConfig{Endpoint: "http://localhost:14268/api/traces", SampleRatio: 1},
			Kafka:     KafkaConfig{Brokers: []string{"localhost:9092"}},
			Redis:     RedisConfig{Addrs: "localhost:6379"},
			MySQL:     MySQLConfig{Host: "localhost", Port: 3306, User: "root", Database: "riskgate"},
			Zookeeper: ZookeeperConfig{Servers: []string{"localhost:2181"}},
			Nacos:     NacosConfig{ServerAddrs: "localhost:8848", Group: "DEFAULT_GROUP"},
		},
		raw: map[string]yaml.Node{},
	}
}

// Init 加载配置：默认值 <- YAML 文件 <- 环境变量 <- Nacos 配置中心。
// 配置中心开启时会持续监听变更并通知 OnConfigChange 注册的回调。
func Init() {
	cfg, err := Load(getEnv("CONFIG_PATH", "configs/config.yaml"))
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to load config")
	}

	if cfg.Infra.Nacos.Enabled && cfg.Infra.Nacos.DataID != "" {
		if err := initNacosConfig(cfg); err != nil {
			zlog.Warn().Err(err).Msg("Nacos config center unavailable, using local config")
		}
	}
	currentConfig.Store(cfg)
}

// Load 读取配置文件并应用环境变量覆盖。文件不存在时只使用默认值。
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := cfg.merge(data); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case os.IsNotExist(err):
			zlog.Warn().Str("path", path).Msg("config file not found, using defaults")
		default:
			return nil, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

// GetCurrentConfig 返回当前生效的配置
func GetCurrentConfig() *Config {
	if cfg := currentConfig.Load(); cfg != nil {
		return cfg
	}
	cfg := DefaultConfig()
	cfg.applyEnv()
	currentConfig.CompareAndSwap(nil, cfg)
	return currentConfig.Load()
}

// SetCurrentConfig 替换当前配置并通知监听者
func SetCurrentConfig(cfg *Config) {
	currentConfig.Store(cfg)
	watchersMu.Lock()
	ws := append([]func(*Config){}, watchers...)
	watchersMu.Unlock()
	for _, w := range ws {
		w(cfg)
	}
}

// OnConfigChange 注册配置变更回调
func OnConfigChange(fn func(*Config)) {
	watchersMu.Lock()
	defer watchersMu.Unlock()
	watchers = append(watchers, fn)
}

// DecodeSection 把顶层的某个配置段解析到 out，段不存在时返回 false
func (c *Config) DecodeSection(name string, out interface{}) (bool, error) {
	node, ok := c.raw[name]
	if !ok {
		return false, nil
	}
	if err := node.Decode(out); err != nil {
		return true, fmt.Errorf("decode section %s: %w", name, err)
	}
	return true, nil
}

// merge 在当前配置上叠加一份 YAML
func (c *Config) merge(data []byte) error {
	if err := yaml.Unmarshal(data, c); err != nil {
		return err
	}
	var raw map[string]yaml.Node
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return err
	}
	if c.raw == nil {
		c.raw = map[string]yaml.Node{}
	}
	for k, v := range raw {
		c.raw[k] = v
	}
	return nil
}

func (c *Config) clone() *Config {
	cp := *c
	cp.Infra.Kafka.Brokers = append([]string{}, c.Infra.Kafka.Brokers...)
	cp.Infra.Zookeeper.Servers = append([]string{}, c.Infra.Zookeeper.Servers...)
	cp.raw = make(map[string]yaml.Node, len(c.raw))
	for k, v := range c.raw {
		cp.raw[k] = v
	}
	return &cp
}

func (c *Config) applyEnv() {
	c.App.Name = getEnv("APP_NAME", c.App.Name)
	c.App.Env = getEnv("APP_ENV", c.App.Env)
	c.App.LogLevel = getEnv("LOG_LEVEL", c.App.LogLevel)
	if v, err := strconv.Atoi(getEnv("PORT", "")); err == nil {
		c.App.Port = v
	}

	c.Infra.Jaeger.Endpoint = getEnv("JAEGER_ENDPOINT", c.Infra.Jaeger.Endpoint)
	if v := getEnv("KAFKA_BROKERS", ""); v != "" {
		c.Infra.Kafka.Brokers = strings.Split(v, ",")
	}
	c.Infra.Redis.Addrs = getEnv("REDIS_ADDRS", c.Infra.Redis.Addrs)

	c.Infra.MySQL.Host = getEnv("MYSQL_HOST", c.Infra.MySQL.Host)
	if v, err := strconv.Atoi(getEnv("MYSQL_PORT", "")); err == nil {
		c.Infra.MySQL.Port = v
	}
	c.Infra.MySQL.User = getEnv("MYSQL_USER", c.Infra.MySQL.User)
	c.Infra.MySQL.Password = getEnv("MYSQL_PASSWORD", c.Infra.MySQL.Password)
	c.Infra.MySQL.Database = getEnv("MYSQL_DATABASE", c.Infra.MySQL.Database)

	if v := getEnv("ZK_SERVERS", ""); v != "" {
		c.Infra.Zookeeper.Servers = strings.Split(v, ",")
	}

	c.Infra.Nacos.ServerAddrs = getEnv("NACOS_SERVER_ADDRS", c.Infra.Nacos.ServerAddrs)
	c.Infra.Nacos.Namespace = getEnv("NACOS_NAMESPACE", c.Infra.Nacos.Namespace)
	c.Infra.Nacos.Group = getEnv("NACOS_GROUP", c.Infra.Nacos.Group)
	c.Infra.Nacos.DataID = getEnv("NACOS_DATA_ID", c.Infra.Nacos.DataID)
	if v, err := strconv.ParseBool(getEnv("NACOS_ENABLED", "")); err == nil {
		c.Infra.Nacos.Enabled = v
	}
}

// initNacosConfig 拉取配置中心的内容叠加到本地配置上，并监听后续变更
func initNacosConfig(cfg *Config) error {
	nc := cfg.Infra.Nacos
	serverConfigs, err := createNacosServerConfigs(nc.ServerAddrs)
	if err != nil {
		return err
	}
	clientConfig := createNacosClientConfig(nc.Namespace)

	client, err := nacos.NewConfigClient(serverConfigs, &clientConfig)
	if err != nil {
		return err
	}
	nacosConfigClient = client

	content, err := client.GetConfig(nc.DataID, nc.Group)
	if err != nil {
		return err
	}
	if content != "" {
		if err := cfg.merge([]byte(content)); err != nil {
			return fmt.Errorf("parse nacos config %s: %w", nc.DataID, err)
		}
	}

	return client.ListenConfig(nc.DataID, nc.Group, func(data string) {
		next := GetCurrentConfig().clone()
		if err := next.merge([]byte(data)); err != nil {
			zlog.Error().Err(err).Str("data_id", nc.DataID).Msg("Ignoring invalid config from Nacos")
			return
		}
		zlog.Info().Str("data_id", nc.DataID).Msg("Config changed in Nacos, reloading")
		SetCurrentConfig(next)
	})
}

func createNacosServerConfigs(addrs string) ([]constant.ServerConfig, error) {
	var serverConfigs []constant.ServerConfig
	for _, addr := range strings.Split(addrs, ",") {
		parts := strings.Split(strings.TrimSpace(addr), ":")
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid nacos address format: %s", addr)
		}
		port, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid port in nacos address: %s", parts[1])
		}
		serverConfigs = append(serverConfigs, *constant.NewServerConfig(parts[0], port))
	}
	return serverConfigs, nil
}

func createNacosClientConfig(namespace string) constant.ClientConfig {
	return *constant.NewClientConfig(
		constant.WithNotLoadCacheAtStart(true),
		constant.WithLogDir("/tmp/nacos/log"),
		constant.WithCacheDir("/tmp/nacos/cache"),
		constant.WithLogLevel("warn"),
		constant.WithNamespaceId(namespace),
	)
}
