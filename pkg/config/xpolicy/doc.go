// Package xpolicy 提供准入引擎的静态策略配置：信任层级限额表、
// 垃圾内容规则、封禁阈值与维护任务参数。
//
// # 设计理念
//
// 策略在进程启动时一次性加载，运行期只读——不提供热更新。
// 引擎的限流键在多进程间共享，策略漂移会导致不同进程按不同
// 限额裁决同一个发送者，因此变更策略要求滚动重启。
//
// # 快速开始
//
//	policy, err := xpolicy.LoadFile("policy.yaml")
//	if err != nil {
//	    // 配置文件缺失时可以直接使用内置默认值
//	    policy = xpolicy.Default()
//	}
//
// 支持 YAML 与 JSON，按文件扩展名识别格式。
//
// # 配置示例
//
//	tiers:
//	  new_user:
//	    weekly_max: 20
//	    daily_max: 10
//	    hourly_max: 5
//	    min_seconds_between: 10
//	spam:
//	  duplicate_threshold: 3
//	  violations_before_ban: 5
//	  temp_ban_hours: 24
package xpolicy
