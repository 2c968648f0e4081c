// Package config 提供 PlanFlow 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → PLANFLOW_* 环境变量 → 验证器 的顺序加载，
// 覆盖执行引擎、解析计划存储、日志、遥测与指标。
package config
