package trust

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Mindburn-Labs/verity/pkg/contracts"
)

var evalNow = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

func cfgWith(mode contracts.PolicyMode, teamKeys, userKeys []string) *contracts.TrustConfig {
	cfg := contracts.NewTrustConfig(mode)
	for _, k := range teamKeys {
		cfg.TeamKeys[k] = struct{}{}
	}
	for _, k := range userKeys {
		cfg.UserApprovedKeys[k] = struct{}{}
	}
	return cfg
}

func validMeta(keyID string, keyType contracts.KeyType) *contracts.KeyMetadata {
	return &contracts.KeyMetadata{
		KeyID:     keyID,
		Type:      keyType,
		CreatedAt: evalNow.Add(-30 * 24 * time.Hour),
		ExpiresAt: evalNow.Add(300 * 24 * time.Hour),
	}
}

func TestEvaluatePolicyMatrix(t *testing.T) {
	team := validMeta("team-key", contracts.KeyTypeTeam)
	user := validMeta("user-key", contracts.KeyTypeUser)

	cases := []struct {
		name       string
		mode       contracts.PolicyMode
		meta       *contracts.KeyMetadata
		teamKeys   []string
		userKeys   []string
		trusted    bool
		rejectKind contracts.ErrorKind
		wantHint   bool
		wantWarn   bool
	}{
		{name: "strict accepts team", mode: contracts.PolicyStrict, meta: team, teamKeys: []string{"team-key"}, trusted: true},
		{name: "strict rejects user-approved", mode: contracts.PolicyStrict, meta: user, userKeys: []string{"user-key"}, rejectKind: contracts.KindUntrustedSigner},
		{name: "strict rejects unknown", mode: contracts.PolicyStrict, meta: nil, rejectKind: contracts.KindUntrustedSigner},
		{name: "warn accepts team", mode: contracts.PolicyWarn, meta: team, teamKeys: []string{"team-key"}, trusted: true},
		{name: "warn accepts user-approved", mode: contracts.PolicyWarn, meta: user, userKeys: []string{"user-key"}, trusted: true},
		{name: "warn rejects unknown with hint", mode: contracts.PolicyWarn, meta: nil, rejectKind: contracts.KindUntrustedSigner, wantHint: true},
		{name: "best effort accepts team", mode: contracts.PolicyBestEffort, meta: team, teamKeys: []string{"team-key"}, trusted: true, wantWarn: true},
		{name: "best effort accepts unknown with warning", mode: contracts.PolicyBestEffort, meta: nil, trusted: true, wantWarn: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := cfgWith(tc.mode, tc.teamKeys, tc.userKeys)
			d := Evaluate(tc.meta, cfg, evalNow)

			assert.Equal(t, tc.trusted, d.Trusted)
			if tc.trusted {
				assert.NoError(t, d.Err())
			} else {
				assert.Equal(t, tc.rejectKind, d.RejectKind)
				assert.ErrorIs(t, d.Err(), &contracts.VerifyError{Kind: tc.rejectKind})
			}
			if tc.wantHint {
				assert.NotEmpty(t, d.Hint)
			}
			if tc.wantWarn {
				assert.NotEmpty(t, d.Warning)
			}
		})
	}
}

func TestEvaluateRevocationShortCircuits(t *testing.T) {
	// A revoked team key is rejected under every mode, even BEST_EFFORT.
	revokedAt := evalNow.Add(-time.Hour)
	meta := validMeta("team-key", contracts.KeyTypeTeam)
	meta.Revoked = true
	meta.RevokedAt = &revokedAt
	meta.RevocationReason = "compromised"

	for _, mode := range []contracts.PolicyMode{contracts.PolicyStrict, contracts.PolicyWarn, contracts.PolicyBestEffort} {
		cfg := cfgWith(mode, []string{"team-key"}, nil)
		d := Evaluate(meta, cfg, evalNow)
		assert.False(t, d.Trusted, "mode %s", mode)
		assert.Equal(t, contracts.KindKeyRevoked, d.RejectKind)
		assert.Equal(t, contracts.KeyStateRevoked, d.State)
		assert.Contains(t, d.Reason, "compromised")
	}
}

func TestEvaluateExpirationShortCircuits(t *testing.T) {
	meta := validMeta("team-key", contracts.KeyTypeTeam)
	meta.ExpiresAt = evalNow.Add(-time.Minute)

	for _, mode := range []contracts.PolicyMode{contracts.PolicyStrict, contracts.PolicyWarn, contracts.PolicyBestEffort} {
		cfg := cfgWith(mode, []string{"team-key"}, nil)
		d := Evaluate(meta, cfg, evalNow)
		assert.False(t, d.Trusted, "mode %s", mode)
		assert.Equal(t, contracts.KindKeyExpired, d.RejectKind)
	}
}

func TestEvaluateExpiryWarningWindow(t *testing.T) {
	meta := validMeta("team-key", contracts.KeyTypeTeam)
	meta.ExpiresAt = evalNow.Add(10 * 24 * time.Hour) // inside the 30-day lead

	cfg := cfgWith(contracts.PolicyStrict, []string{"team-key"}, nil)
	d := Evaluate(meta, cfg, evalNow)

	assert.True(t, d.Trusted, "imminent expiry is a warning, not a rejection")
	assert.Contains(t, d.Warning, "expires soon")
}

func TestEvaluateZeroExpiryNeverWarns(t *testing.T) {
	meta := validMeta("team-key", contracts.KeyTypeTeam)
	meta.ExpiresAt = time.Time{}

	cfg := cfgWith(contracts.PolicyStrict, []string{"team-key"}, nil)
	d := Evaluate(meta, cfg, evalNow)
	assert.True(t, d.Trusted)
	assert.Empty(t, d.Warning)
}
