// Package xtier 实现发送者信任层级的评估与晋升。
//
// 层级取值见 xpolicy 的 Tier* 常量，优先级从高到低：
//   - premium：付费订阅未到期的用户，订阅截止时间由业务侧写入
//   - verified：通过外部身份校验（税号）
//   - regular：注册满晋升门槛天数的普通用户
//   - new_user：默认层级
//
// Evaluate 是无副作用的纯函数；Engine 在其上叠加档案读取、
// ristretto 读缓存（singleflight 合并并发解析）与层级持久化。
// 批量晋升由 xmaint 定时调用 EvaluateAll 完成，绕过缓存。
package xtier
