// Package xsender 提供发送者档案与违规记录的持久化存储。
//
// # 设计理念
//
// 计数键（小时/天/周用量、封禁标记）放在 xkv，靠 TTL 自动回收；
// 需要跨重启留存的事实放在这里：发送者的首次出现时间、信任层级、
// 封禁镜像、违规历史。准入判定只读 xkv，本包不在热路径上——
// 写入失败降级为日志告警，绝不阻塞消息准入。
//
// # 核心功能
//
//   - Touch()：消息通过准入后登记发送者（首见即建档，累计消息数）
//   - SetTier()：信任层级变更落库
//   - SetBan()/ClearBan()：封禁镜像，供重启后恢复与离线审计
//   - AppendViolation()/CountViolationsSince()：违规记录与升级判定支撑
//   - ListBannedExpiredBefore()/ListTierCandidates()：维护任务的扫描入口
//   - DeleteViolationsBefore()/DeleteInactiveBefore()：保留期清理
//   - Counts()：日报所需的汇总计数
//
// 提供两个实现：NewMongo（生产）与 NewMemory（测试、单机部署）。
//
// # 使用示例
//
//	store, err := xsender.NewMongo(client, xsender.WithDatabase("msggate"))
//	if err != nil {
//	    return err
//	}
//	defer store.Close(context.Background())
//
//	sender, err := store.Touch(ctx, "+8613800138000", time.Now().UTC())
package xsender
