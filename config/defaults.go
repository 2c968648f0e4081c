// =============================================================================
// 📦 PlanFlow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Engine:    DefaultEngineConfig(),
		Store:     DefaultStoreConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
		Metrics:   DefaultMetricsConfig(),
	}
}

// DefaultEngineConfig 返回默认引擎配置
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		DefaultLanguage:  "expr",
		LoopWorkers:      4,
		QueueSize:        256,
		ExecutionTimeout: 0,
		InterruptOnEnd:   true,
		InterruptTypes:   []string{"sleep"},
		PlanDir:          "plans",
	}
}

// DefaultStoreConfig 返回默认存储配置
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type:     StoreTypeMemory,
		Redis:    DefaultRedisConfig(),
		Database: DefaultDatabaseConfig(),
		Mongo:    DefaultMongoConfig(),
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		KeyPrefix:    "planflow:",
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Host:            "localhost",
		Port:            5432,
		User:            "planflow",
		Password:        "",
		Name:            "planflow.db",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultMongoConfig 返回默认 MongoDB 配置
func DefaultMongoConfig() MongoConfig {
	return MongoConfig{
		URI:        "mongodb://localhost:27017",
		Database:   "planflow",
		Collection: "resolvedPlans",
		Timeout:    10 * time.Second,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "planflow",
		SampleRate:   0.1,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   true,
		Namespace: "planflow",
	}
}
