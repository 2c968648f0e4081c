// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 提供基于 GORM 的数据库打开与连接池管理，供 SQL 版解析计划
存储使用。

# 概述

Open 根据 config.DatabaseConfig 选择方言（postgres、mysql、纯 Go 的
glebarez sqlite），并通过 PoolManager 统一管理连接池参数与生命周期。
后台健康检查定时探活，异常时通过 zap 日志输出诊断信息。

# 核心类型

  - PoolManager：持有 GORM DB 与底层 sql.DB，提供 DB()、Ping()、
    Stats()、Close() 与 WithTransaction()。
  - PoolConfig：最大空闲连接数、最大打开连接数、连接生命周期与健康检查间隔。
    sqlite 固定为单连接。
*/
package database
