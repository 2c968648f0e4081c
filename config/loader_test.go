// 配置加载器与默认配置测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- 默认配置测试 ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// 验证引擎默认值
	assert.Equal(t, "expr", cfg.Engine.DefaultLanguage)
	assert.Equal(t, 4, cfg.Engine.LoopWorkers)
	assert.True(t, cfg.Engine.InterruptOnEnd)
	assert.Equal(t, []string{"sleep"}, cfg.Engine.InterruptTypes)

	// 验证存储默认值
	assert.Equal(t, StoreTypeMemory, cfg.Store.Type)
	assert.Equal(t, "localhost:6379", cfg.Store.Redis.Addr)
	assert.Equal(t, "planflow:", cfg.Store.Redis.KeyPrefix)
	assert.Equal(t, "sqlite", cfg.Store.Database.Driver)
	assert.Equal(t, "resolvedPlans", cfg.Store.Mongo.Collection)

	// 验证 Log 默认值
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "planflow", cfg.Metrics.Namespace)

	require.NoError(t, cfg.Validate())
}

// --- Loader 测试 ---

func TestLoader_LoadFromYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "planflow.yaml")

	yamlContent := `
engine:
  loop_workers: 8
  execution_timeout: 90s
  interrupt_patterns:
    - "^sleep"
store:
  type: redis
  redis:
    addr: "redis.example.com:6379"
    password: "secret"
    db: 1
log:
  level: "debug"
  format: "console"
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	cfg, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	require.NoError(t, err)

	// 验证 YAML 值覆盖了默认值
	assert.Equal(t, 8, cfg.Engine.LoopWorkers)
	assert.Equal(t, 90*time.Second, cfg.Engine.ExecutionTimeout)
	assert.Equal(t, []string{"^sleep"}, cfg.Engine.InterruptPatterns)
	assert.Equal(t, StoreTypeRedis, cfg.Store.Type)
	assert.Equal(t, "redis.example.com:6379", cfg.Store.Redis.Addr)
	assert.Equal(t, "secret", cfg.Store.Redis.Password)
	assert.Equal(t, 1, cfg.Store.Redis.DB)
	// 未出现在 YAML 中的字段保留默认值
	assert.Equal(t, 10, cfg.Store.Redis.PoolSize)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoader_LoadFromEnv(t *testing.T) {
	t.Setenv("PLANFLOW_ENGINE_LOOP_WORKERS", "16")
	t.Setenv("PLANFLOW_ENGINE_INTERRUPT_TYPES", "sleep, for")
	t.Setenv("PLANFLOW_STORE_TYPE", "gorm")
	t.Setenv("PLANFLOW_STORE_DATABASE_DRIVER", "postgres")
	t.Setenv("PLANFLOW_STORE_MONGO_TIMEOUT", "3s")
	t.Setenv("PLANFLOW_TELEMETRY_SAMPLE_RATE", "0.5")
	t.Setenv("PLANFLOW_LOG_LEVEL", "warn")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 16, cfg.Engine.LoopWorkers)
	assert.Equal(t, []string{"sleep", "for"}, cfg.Engine.InterruptTypes)
	assert.Equal(t, StoreTypeGorm, cfg.Store.Type)
	assert.Equal(t, "postgres", cfg.Store.Database.Driver)
	assert.Equal(t, 3*time.Second, cfg.Store.Mongo.Timeout)
	assert.Equal(t, 0.5, cfg.Telemetry.SampleRate)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "planflow.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("engine:\n  loop_workers: 2\n  plan_dir: yaml-plans\n"), 0644))

	// 环境变量应该覆盖 YAML
	t.Setenv("PLANFLOW_ENGINE_LOOP_WORKERS", "9")

	cfg, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	require.NoError(t, err)

	assert.Equal(t, 9, cfg.Engine.LoopWorkers)
	assert.Equal(t, "yaml-plans", cfg.Engine.PlanDir)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_ENGINE_PLAN_DIR", "/srv/plans")

	cfg, err := NewLoader().
		WithEnvPrefix("MYAPP").
		Load()
	require.NoError(t, err)
	assert.Equal(t, "/srv/plans", cfg.Engine.PlanDir)
}

func TestLoader_WithValidator(t *testing.T) {
	t.Setenv("PLANFLOW_ENGINE_LOOP_WORKERS", "0")

	_, err := NewLoader().
		WithValidator((*Config).Validate).
		Load()
	assert.Error(t, err)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("PLANFLOW_ENGINE_EXECUTION_TIMEOUT", "soon")
	_, err := NewLoader().Load()
	assert.Error(t, err)
}

func TestLoader_NonExistentFile(t *testing.T) {
	cfg, err := NewLoader().
		WithConfigPath("/non/existent/path/planflow.yaml").
		Load()
	require.NoError(t, err)
	assert.Equal(t, StoreTypeMemory, cfg.Store.Type)
}

func TestLoader_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("engine:\n  loop_workers: [invalid\n  nope\n"), 0644))

	_, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	assert.Error(t, err)
}

// --- Config 方法测试 ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid default config", func(c *Config) {}, false},
		{"zero loop workers", func(c *Config) { c.Engine.LoopWorkers = 0 }, true},
		{"negative timeout", func(c *Config) { c.Engine.ExecutionTimeout = -time.Second }, true},
		{"unknown store", func(c *Config) { c.Store.Type = "etcd" }, true},
		{"gorm with bad driver", func(c *Config) {
			c.Store.Type = StoreTypeGorm
			c.Store.Database.Driver = "oracle"
		}, true},
		{"gorm with mysql", func(c *Config) {
			c.Store.Type = StoreTypeGorm
			c.Store.Database.Driver = "mysql"
		}, false},
		{"sample rate too high", func(c *Config) { c.Telemetry.SampleRate = 2 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		name     string
		config   DatabaseConfig
		expected string
	}{
		{
			name: "postgres DSN",
			config: DatabaseConfig{
				Driver:   "postgres",
				Host:     "localhost",
				Port:     5432,
				User:     "user",
				Password: "pass",
				Name:     "dbname",
				SSLMode:  "disable",
			},
			expected: "host=localhost port=5432 user=user password=pass dbname=dbname sslmode=disable",
		},
		{
			name: "mysql DSN",
			config: DatabaseConfig{
				Driver:   "mysql",
				Host:     "localhost",
				Port:     3306,
				User:     "user",
				Password: "pass",
				Name:     "dbname",
			},
			expected: "user:pass@tcp(localhost:3306)/dbname?parseTime=true",
		},
		{
			name:     "sqlite DSN",
			config:   DatabaseConfig{Driver: "sqlite", Name: "/path/to/db.sqlite"},
			expected: "/path/to/db.sqlite",
		},
		{
			name:     "unknown driver",
			config:   DatabaseConfig{Driver: "unknown"},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.config.DSN())
		})
	}
}

// --- MustLoad 测试 ---

func TestMustLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "planflow.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("store:\n  type: mongo\n"), 0644))

	cfg := MustLoad(configPath)
	assert.Equal(t, StoreTypeMongo, cfg.Store.Type)

	bad := filepath.Join(tmpDir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("store: [\n"), 0644))
	assert.Panics(t, func() { MustLoad(bad) })
}
