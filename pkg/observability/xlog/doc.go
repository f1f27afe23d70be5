// Package xlog 提供基于 log/slog 的结构化日志。
//
// 所有日志方法强制传 context，属性只接受 slog.Attr。各业务包
// 自行声明兼容的最小 Logger 接口，构建好的实例在装配处注入。
// Builder 负责输出目标、格式（text/json）、级别与源码位置的
// 配置；级别由共享的 slog.LevelVar 承载，运行时可调。
package xlog
