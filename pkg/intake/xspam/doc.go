// Package xspam 检测垃圾消息并执行违规升级。
//
// # 检测流程
//
// 两道检查按序执行，首个命中即短路：
//
//  1. 重复内容：消息体规范化后取 xxhash，与发送者最近若干条历史
//     （xkv 中的定长列表，带 TTL）比对，滚动窗口内同一哈希达到
//     阈值判为重复（严重度 2）。
//  2. 已知模式：按序匹配正则规则集（短链接、疑似电话号码的长数字串、
//     推广话术、显式垃圾词），首个命中判为模式违规（严重度 3）。
//
// 命中后写入违规记录（xsender，持久化），并检查升级条件：滚动一小时
// 内违规数达到阈值时，通过 xban 自动封禁（默认 24 小时）。封禁本身的
// 审计记录由 xban.Registry 统一追加。
//
// 历史登记（Record）与检测（Check）分离：只有最终被接受的消息才进入
// 历史，被拒绝的消息不会污染重复检测的样本。
package xspam
