package xtier

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/msggate/pkg/config/xpolicy"
	"github.com/omeyang/msggate/pkg/storage/xsender"
)

func TestEvaluate(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	week := 7 * 24 * time.Hour

	tests := []struct {
		name   string
		sender xsender.Sender
		want   string
	}{
		{
			name:   "active subscription wins",
			sender: xsender.Sender{Tier: xpolicy.TierNewUser, PremiumUntil: now.Add(time.Hour), Verified: true, FirstSeenAt: now},
			want:   xpolicy.TierPremium,
		},
		{
			name:   "lapsed subscription falls back to regular",
			sender: xsender.Sender{Tier: xpolicy.TierPremium, PremiumUntil: now.Add(-time.Minute), FirstSeenAt: now.Add(-90 * 24 * time.Hour)},
			want:   xpolicy.TierRegular,
		},
		{
			name:   "lapsed subscription with verified flag falls to verified",
			sender: xsender.Sender{Tier: xpolicy.TierPremium, PremiumUntil: now.Add(-time.Minute), Verified: true, FirstSeenAt: now.Add(-90 * 24 * time.Hour)},
			want:   xpolicy.TierVerified,
		},
		{
			name:   "verified flag beats age upgrade",
			sender: xsender.Sender{Tier: xpolicy.TierNewUser, Verified: true, FirstSeenAt: now.Add(-30 * 24 * time.Hour)},
			want:   xpolicy.TierVerified,
		},
		{
			name:   "new user past threshold becomes regular",
			sender: xsender.Sender{Tier: xpolicy.TierNewUser, FirstSeenAt: now.Add(-week)},
			want:   xpolicy.TierRegular,
		},
		{
			name:   "new user below threshold stays",
			sender: xsender.Sender{Tier: xpolicy.TierNewUser, FirstSeenAt: now.Add(-week + time.Second)},
			want:   xpolicy.TierNewUser,
		},
		{
			name:   "regular stays regular",
			sender: xsender.Sender{Tier: xpolicy.TierRegular, FirstSeenAt: now.Add(-365 * 24 * time.Hour)},
			want:   xpolicy.TierRegular,
		},
		{
			name:   "verified tier without flag falls back to regular",
			sender: xsender.Sender{Tier: xpolicy.TierVerified, FirstSeenAt: now.Add(-week)},
			want:   xpolicy.TierRegular,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(&tt.sender, week, now)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDevVerifier(t *testing.T) {
	ctx := context.Background()
	v := DevVerifier{}

	tests := []struct {
		name  string
		taxID string
		want  bool
	}{
		{"eight digits", "12345678", true},
		{"all zeros", "00000000", true},
		{"too short", "1234567", false},
		{"too long", "123456789", false},
		{"letters", "1234567a", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.Verify(ctx, tt.taxID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
