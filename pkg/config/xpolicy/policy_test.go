package xpolicy

import (
	"errors"
	"testing"
	"time"
)

func TestDefault_IsValid(t *testing.T) {
	policy := Default()
	if err := policy.Validate(); err != nil {
		t.Fatalf("default policy should be valid: %v", err)
	}
}

func TestDefault_CanonicalLimits(t *testing.T) {
	policy := Default()

	tests := []struct {
		tier    string
		weekly  int
		daily   int
		hourly  int
		gapSecs int
	}{
		{TierNewUser, 20, 10, 5, 10},
		{TierRegular, 50, 20, 10, 5},
		{TierVerified, 100, 40, 20, 3},
		{TierPremium, 1000, 200, 60, 1},
	}
	for _, tt := range tests {
		t.Run(tt.tier, func(t *testing.T) {
			limits, err := policy.LimitsFor(tt.tier)
			if err != nil {
				t.Fatalf("LimitsFor(%s): %v", tt.tier, err)
			}
			if limits.WeeklyMax != tt.weekly || limits.DailyMax != tt.daily || limits.HourlyMax != tt.hourly {
				t.Errorf("limits = %+v", limits)
			}
			if limits.MinGap() != time.Duration(tt.gapSecs)*time.Second {
				t.Errorf("MinGap() = %v, want %ds", limits.MinGap(), tt.gapSecs)
			}
		})
	}
}

func TestLimitsFor_UnknownTier(t *testing.T) {
	_, err := Default().LimitsFor("vip")
	if !errors.Is(err, ErrUnknownTier) {
		t.Errorf("expected ErrUnknownTier, got %v", err)
	}
}

func TestPolicy_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Policy)
	}{
		{"empty tier table", func(p *Policy) { p.Tiers = nil }},
		{"unknown tier key", func(p *Policy) { p.Tiers["vip"] = p.Tiers[TierPremium] }},
		{"missing tier", func(p *Policy) { delete(p.Tiers, TierVerified) }},
		{"zero weekly max", func(p *Policy) {
			l := p.Tiers[TierNewUser]
			l.WeeklyMax = 0
			p.Tiers[TierNewUser] = l
		}},
		{"daily exceeds weekly", func(p *Policy) {
			l := p.Tiers[TierNewUser]
			l.DailyMax = l.WeeklyMax + 1
			p.Tiers[TierNewUser] = l
		}},
		{"duplicate threshold too low", func(p *Policy) { p.Spam.DuplicateThreshold = 1 }},
		{"history keep below read", func(p *Policy) { p.Spam.HistoryKeep = 2; p.Spam.HistoryRead = 5 }},
		{"zero ban hours", func(p *Policy) { p.Ban.TempBanHours = 0 }},
		{"zero upgrade threshold", func(p *Policy) { p.Tier.UpgradeThresholdDays = 0 }},
		{"critical below warn", func(p *Policy) {
			p.Maintenance.UsageWarnPercent = 90
			p.Maintenance.UsageCriticalPercent = 80
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := Default()
			tt.mutate(&policy)
			if err := policy.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestLoadBytes_YAMLOverridesDefaults(t *testing.T) {
	data := []byte(`
spam:
  duplicate_threshold: 4
ban:
  temp_ban_hours: 48
`)
	policy, err := LoadBytes(data, FormatYAML)
	if err != nil {
		t.Fatalf("LoadBytes failed: %v", err)
	}

	if policy.Spam.DuplicateThreshold != 4 {
		t.Errorf("duplicate_threshold = %d, want 4", policy.Spam.DuplicateThreshold)
	}
	if policy.Ban.TempBanDuration() != 48*time.Hour {
		t.Errorf("temp ban = %v, want 48h", policy.Ban.TempBanDuration())
	}
	// 未覆盖的键保持默认
	if policy.Ban.ViolationsBeforeBan != 5 {
		t.Errorf("violations_before_ban = %d, want default 5", policy.Ban.ViolationsBeforeBan)
	}
	if _, err := policy.LimitsFor(TierPremium); err != nil {
		t.Errorf("default tiers should survive merge: %v", err)
	}
}

func TestLoadBytes_JSON(t *testing.T) {
	data := []byte(`{"tier": {"upgrade_threshold_days": 14}}`)
	policy, err := LoadBytes(data, FormatJSON)
	if err != nil {
		t.Fatalf("LoadBytes failed: %v", err)
	}
	if policy.Tier.UpgradeThreshold() != 14*24*time.Hour {
		t.Errorf("upgrade threshold = %v, want 336h", policy.Tier.UpgradeThreshold())
	}
}

func TestLoadBytes_EmptyDataYieldsDefaults(t *testing.T) {
	policy, err := LoadBytes(nil, FormatYAML)
	if err != nil {
		t.Fatalf("LoadBytes failed: %v", err)
	}
	if policy.Spam.DuplicateThreshold != Default().Spam.DuplicateThreshold {
		t.Error("empty data should produce defaults")
	}
}

func TestLoadBytes_InvalidOverrideRejected(t *testing.T) {
	data := []byte("ban:\n  temp_ban_hours: -1\n")
	if _, err := LoadBytes(data, FormatYAML); !errors.Is(err, ErrInvalidPolicy) {
		t.Errorf("expected ErrInvalidPolicy, got %v", err)
	}
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		path    string
		want    Format
		wantErr bool
	}{
		{"policy.yaml", FormatYAML, false},
		{"policy.yml", FormatYAML, false},
		{"policy.json", FormatJSON, false},
		{"policy.toml", "", true},
		{"policy", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := detectFormat(tt.path)
			if tt.wantErr {
				if !errors.Is(err, ErrUnsupportedFormat) {
					t.Errorf("expected ErrUnsupportedFormat, got %v", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("detectFormat(%s) = %v, %v", tt.path, got, err)
			}
		})
	}
}

func TestPolicy_Clone(t *testing.T) {
	policy := Default()
	policy.Spam.Patterns = []string{`foo`}

	clone := policy.Clone()
	clone.Tiers[TierNewUser] = TierLimits{WeeklyMax: 1, DailyMax: 1, HourlyMax: 1}
	clone.Spam.Patterns[0] = "bar"

	if policy.Tiers[TierNewUser].WeeklyMax != 20 {
		t.Error("clone mutated original tier table")
	}
	if policy.Spam.Patterns[0] != "foo" {
		t.Error("clone mutated original pattern list")
	}
}
