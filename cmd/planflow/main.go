// =============================================================================
// PlanFlow 主入口
// =============================================================================
// 命令行入口点，执行或预览计划
//
// 使用方法:
//
//	planflow run --plan plans/main.yaml            # 执行计划
//	planflow run --plan main.yaml --param env=qa   # 传入执行参数
//	planflow resolve --plan plans/main.yaml        # 预览解析计划树
//	planflow version                               # 显示版本信息
// =============================================================================

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/planflow/config"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		code int
		err  error
	)
	switch os.Args[1] {
	case "run":
		code, err = runPlan(ctx, os.Args[2:], os.Stdout)
	case "resolve":
		err = resolvePlan(ctx, os.Args[2:], os.Stdout)
	case "version":
		printVersion(os.Stdout)
	case "help", "-h", "--help":
		printUsage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage(os.Stderr)
		code = 1
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		code = 1
	}
	stop()
	os.Exit(code)
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "PlanFlow %s\n", Version)
	fmt.Fprintf(w, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(w, "  Git Commit: %s\n", GitCommit)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `PlanFlow - plan execution engine

Usage:
  planflow <command> [options]

Commands:
  run       Execute a plan and print its report tree
  resolve   Build and print the resolved plan without executing it
  version   Show version information
  help      Show this help message

Options for 'run' and 'resolve':
  --config <path>      Path to configuration file (YAML)
  --plan <path>        Plan file (YAML or JSON)
  --plan-dir <dir>     Directory of plans reachable through callPlan
  --param key=value    Execution parameter, repeatable

Options for 'run':
  --metrics-out <path> Write Prometheus metrics in text format after the run

Examples:
  planflow run --plan plans/smoke.yaml --param env=qa
  planflow resolve --plan plans/smoke.yaml --plan-dir plans
  planflow version`)
}

// =============================================================================
// 🔧 配置与日志初始化
// =============================================================================

func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader().WithEnvPrefix("PLANFLOW")
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}
	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}

	var opts []zap.Option
	if cfg.EnableCaller {
		opts = append(opts, zap.AddCaller())
	}
	if cfg.EnableStacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}
	logger, err := zapConfig.Build(opts...)
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger
}
