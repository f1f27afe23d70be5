package xtier

import (
	"context"
	"time"

	"github.com/omeyang/msggate/pkg/config/xpolicy"
	"github.com/omeyang/msggate/pkg/storage/xsender"
)

// Evaluate 根据档案计算发送者应处的层级。纯函数，不产生副作用。
//
// 优先级：未到期的付费订阅 > Verified 标记 > 注册满 upgradeAfter
// 的 new_user 晋升 regular > 维持原层级。订阅到期或校验标记清除后
// 失去依据的 premium/verified 回落到 regular：能到这两层的发送者
// 早已满足 regular 的年龄条件。
func Evaluate(sender *xsender.Sender, upgradeAfter time.Duration, now time.Time) string {
	switch {
	case sender.PremiumActive(now):
		return xpolicy.TierPremium
	case sender.Verified:
		return xpolicy.TierVerified
	case sender.Tier == xpolicy.TierNewUser && now.Sub(sender.FirstSeenAt) >= upgradeAfter:
		return xpolicy.TierRegular
	case sender.Tier == xpolicy.TierPremium || sender.Tier == xpolicy.TierVerified:
		return xpolicy.TierRegular
	}
	return sender.Tier
}

// =============================================================================
// 身份校验
// =============================================================================

// Verifier 定义外部身份校验接口。
// 校验通常对接税务机关或运营商的实名接口。
type Verifier interface {
	// Verify 校验税号是否有效。网络或服务故障时返回 error，
	// 调用方按"未通过校验"保守处理。
	Verify(ctx context.Context, taxID string) (bool, error)
}

// DevVerifier 开发环境校验器：任意 8 位数字均视为有效税号。
// 仅用于本地联调，生产部署必须替换为真实校验器。
type DevVerifier struct{}

// Verify 实现 Verifier 接口。
func (DevVerifier) Verify(_ context.Context, taxID string) (bool, error) {
	if len(taxID) != 8 {
		return false, nil
	}
	for _, r := range taxID {
		if r < '0' || r > '9' {
			return false, nil
		}
	}
	return true, nil
}

// 确保 DevVerifier 实现了 Verifier 接口。
var _ Verifier = DevVerifier{}
