package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/omeyang/msggate/pkg/config/xpolicy"
	"github.com/omeyang/msggate/pkg/intake/xadmit"
	"github.com/omeyang/msggate/pkg/intake/xban"
	"github.com/omeyang/msggate/pkg/intake/xspam"
	"github.com/omeyang/msggate/pkg/intake/xtier"
	"github.com/omeyang/msggate/pkg/intake/xusage"
	"github.com/omeyang/msggate/pkg/observability/xalert"
	"github.com/omeyang/msggate/pkg/observability/xlog"
	"github.com/omeyang/msggate/pkg/storage/xkv"
	"github.com/omeyang/msggate/pkg/storage/xsender"
	"github.com/omeyang/msggate/pkg/util/xid"
)

// defaultBanDuration ban 命令未指定时长时的默认封禁时长。
const defaultBanDuration = 24 * time.Hour

// createCommands 创建所有子命令。
func createCommands() []*cli.Command {
	return []*cli.Command{
		createUsageCommand(),
		createCheckCommand(),
		createBanCommand(),
		createUnbanCommand(),
		createResetWeeklyCommand(),
	}
}

// senderArg 提取并校验 <sender> 位置参数。
func senderArg(cmd *cli.Command) (string, error) {
	sender := strings.TrimSpace(cmd.Args().First())
	if sender == "" {
		return "", badUsage("缺少 <sender> 参数")
	}
	return sender, nil
}

// withTimeout 应用全局超时选项。
func withTimeout(ctx context.Context, cmd *cli.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, cmd.Duration("timeout"))
}

// buildLogger 按全局 --log-level 选项构建日志器，输出到标准错误。
func buildLogger(cmd *cli.Command) (xlog.Logger, error) {
	logger, err := xlog.New().SetLevelString(cmd.String("log-level")).Build()
	if err != nil {
		return nil, badUsage("无效的日志级别 %q", cmd.String("log-level"))
	}
	return logger, nil
}

func createUsageCommand() *cli.Command {
	return &cli.Command{
		Name:      "usage",
		Usage:     "查看发送者三窗口用量",
		ArgsUsage: "<sender>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			sender, err := senderArg(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := withTimeout(ctx, cmd)
			defer cancel()

			kv, cleanup, err := openStore(ctx, cmd.String("redis"))
			if err != nil {
				return err
			}
			defer cleanup()

			tracker, err := xusage.New(kv)
			if err != nil {
				return err
			}

			u, err := tracker.Usage(ctx, sender, time.Now().UTC())
			if err != nil {
				return err
			}

			fmt.Fprint(cmd.Writer, formatUsage(sender, u))
			return nil
		},
	}
}

func createCheckCommand() *cli.Command {
	return &cli.Command{
		Name:      "check",
		Usage:     "对发送者做一次准入裁决（只读，不计数）",
		ArgsUsage: "<sender>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "tier",
				Usage: "假定的发送者层级 (new_user/regular/verified/premium)",
				Value: xpolicy.TierNewUser,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			sender, err := senderArg(cmd)
			if err != nil {
				return err
			}
			tier := cmd.String("tier")
			if _, err := xpolicy.Default().LimitsFor(tier); err != nil {
				return badUsage("未知层级 %q", tier)
			}

			ctx, cancel := withTimeout(ctx, cmd)
			defer cancel()

			kv, cleanup, err := openStore(ctx, cmd.String("redis"))
			if err != nil {
				return err
			}
			defer cleanup()

			now := time.Now().UTC()

			// 档案存储用内存实现按 --tier 预置：裁决只依赖
			// Redis 中的真实计数与封禁键，层级由调用方假定。
			senders := xsender.NewMemory()
			if _, err := senders.Touch(ctx, sender, now); err != nil {
				return err
			}
			if err := senders.SetTier(ctx, sender, tier); err != nil {
				return err
			}

			logger, err := buildLogger(cmd)
			if err != nil {
				return err
			}
			svc, done, err := buildService(kv, senders, logger)
			if err != nil {
				return err
			}
			defer done()

			verdict, err := svc.Check(ctx, sender, now)
			if err != nil {
				return err
			}

			fmt.Fprint(cmd.Writer, formatVerdict(sender, verdict))
			return nil
		},
	}
}

func createBanCommand() *cli.Command {
	return &cli.Command{
		Name:      "ban",
		Usage:     "封禁发送者",
		ArgsUsage: "<sender>",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:    "duration",
				Aliases: []string{"d"},
				Usage:   "封禁时长",
				Value:   defaultBanDuration,
			},
			&cli.StringFlag{
				Name:  "reason",
				Usage: "封禁原因（写入审计日志）",
				Value: "manual",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			sender, err := senderArg(cmd)
			if err != nil {
				return err
			}
			d := cmd.Duration("duration")
			if d <= 0 {
				return badUsage("封禁时长必须为正值: %v", d)
			}

			ctx, cancel := withTimeout(ctx, cmd)
			defer cancel()

			kv, cleanup, err := openStore(ctx, cmd.String("redis"))
			if err != nil {
				return err
			}
			defer cleanup()

			logger, err := buildLogger(cmd)
			if err != nil {
				return err
			}
			bans, err := xban.New(kv, xban.WithLogger(logger))
			if err != nil {
				return err
			}

			until, err := bans.Ban(ctx, sender, d, cmd.String("reason"))
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.Writer, "已封禁 %s，解封时间: %s\n", sender, formatInstant(until))
			return nil
		},
	}
}

func createUnbanCommand() *cli.Command {
	return &cli.Command{
		Name:      "unban",
		Usage:     "解除封禁",
		ArgsUsage: "<sender>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			sender, err := senderArg(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := withTimeout(ctx, cmd)
			defer cancel()

			kv, cleanup, err := openStore(ctx, cmd.String("redis"))
			if err != nil {
				return err
			}
			defer cleanup()

			bans, err := xban.New(kv)
			if err != nil {
				return err
			}

			if err := bans.Unban(ctx, sender); err != nil {
				return err
			}

			fmt.Fprintf(cmd.Writer, "已解除 %s 的封禁\n", sender)
			return nil
		},
	}
}

func createResetWeeklyCommand() *cli.Command {
	return &cli.Command{
		Name:  "reset-weekly",
		Usage: "清空历史周窗口计数键",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() > 0 {
				return badUsage("reset-weekly 不接受参数")
			}

			ctx, cancel := withTimeout(ctx, cmd)
			defer cancel()

			kv, cleanup, err := openStore(ctx, cmd.String("redis"))
			if err != nil {
				return err
			}
			defer cleanup()

			tracker, err := xusage.New(kv)
			if err != nil {
				return err
			}

			removed, err := tracker.ResetWeekly(ctx, time.Now().UTC())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.Writer, "已清理 %d 个历史周窗口键\n", removed)
			return nil
		},
	}
}

// buildService 在给定的计数存储与档案存储之上组装准入服务。
// 返回的 done 负责释放层级引擎的本地缓存。
func buildService(kv xkv.Store, senders xsender.Store, logger xlog.Logger) (*xadmit.Service, func(), error) {
	bans, err := xban.New(kv, xban.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	tiers, err := xtier.New(senders, xtier.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	usage, err := xusage.New(kv)
	if err != nil {
		_ = tiers.Close()
		return nil, nil, err
	}
	ids, err := xid.NewGenerator()
	if err != nil {
		_ = tiers.Close()
		return nil, nil, err
	}
	spam, err := xspam.New(kv, senders, bans, ids, xspam.WithLogger(logger))
	if err != nil {
		_ = tiers.Close()
		return nil, nil, err
	}
	svc, err := xadmit.New(bans, tiers, usage, spam, senders, kv,
		xadmit.WithLogger(logger),
		xadmit.WithAlerts(xalert.NewLogSink(logger)))
	if err != nil {
		_ = tiers.Close()
		return nil, nil, err
	}
	return svc, func() { _ = tiers.Close() }, nil
}

// ===== 输出格式化 =====

// formatInstant 统一的时间展示格式。
func formatInstant(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05 UTC")
}

// formatUsage 渲染用量查询结果。
func formatUsage(sender string, u *xusage.Usage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "发送者:   %s\n", sender)
	fmt.Fprintf(&b, "小时窗口: %d\n", u.Hourly)
	fmt.Fprintf(&b, "天窗口:   %d\n", u.Daily)
	fmt.Fprintf(&b, "周窗口:   %d\n", u.Weekly)
	if u.LastMessageAt.IsZero() {
		b.WriteString("最近消息: 无\n")
	} else {
		fmt.Fprintf(&b, "最近消息: %s\n", formatInstant(u.LastMessageAt))
	}
	return b.String()
}

// formatVerdict 渲染准入裁决结果。
func formatVerdict(sender string, v *xadmit.Verdict) string {
	var b strings.Builder
	fmt.Fprintf(&b, "发送者: %s\n", sender)
	if v.Tier != "" {
		fmt.Fprintf(&b, "层级:   %s\n", v.Tier)
	}
	if v.Allowed {
		b.WriteString("裁决:   放行\n")
	} else {
		fmt.Fprintf(&b, "裁决:   拒绝 (%s)\n", v.Reason)
	}
	if !v.ResetAt.IsZero() {
		fmt.Fprintf(&b, "恢复于: %s\n", formatInstant(v.ResetAt))
	}
	if v.Wait > 0 {
		fmt.Fprintf(&b, "需等待: %s\n", v.Wait)
	}
	if v.Message != "" {
		fmt.Fprintf(&b, "提示:   %s\n", v.Message)
	}
	// 封禁与 fail-open 裁决不携带限额快照
	if v.Limits.WeeklyMax > 0 {
		fmt.Fprintf(&b, "用量:   hourly=%d/%d daily=%d/%d weekly=%d/%d\n",
			v.Usage.Hourly, v.Limits.HourlyMax,
			v.Usage.Daily, v.Limits.DailyMax,
			v.Usage.Weekly, v.Limits.WeeklyMax)
	}
	return b.String()
}
