package goLinkAuth

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the environment prefix read by LoadConfig. A key such as
// policy.emergencydisable is overridden by LINKAUTH_POLICY_EMERGENCYDISABLE.
const EnvPrefix = "LINKAUTH"

// LoadConfig reads path (any format viper understands; empty means
// environment only) on top of DefaultConfig and applies LINKAUTH_*
// environment overrides. Durations are strings such as "15m".
//
// Key material is never read inline: jwt.privatekeyfile and
// jwt.publickeyfile name PEM or raw key files, and jwt.secretfile names an
// HS256 secret file.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	setConfigDefaults(v, defaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	var err error
	switch {
	case v.GetString("jwt.secretfile") != "":
		cfg.JWT.PrivateKey, err = readKeyFile(v.GetString("jwt.secretfile"))
		if err != nil {
			return Config{}, err
		}
	default:
		if f := v.GetString("jwt.privatekeyfile"); f != "" {
			if cfg.JWT.PrivateKey, err = readKeyFile(f); err != nil {
				return Config{}, err
			}
		}
		if f := v.GetString("jwt.publickeyfile"); f != "" {
			if cfg.JWT.PublicKey, err = readKeyFile(f); err != nil {
				return Config{}, err
			}
		}
	}

	return cfg, nil
}

func readKeyFile(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	if len(b) == 0 {
		return nil, errors.New("key file is empty")
	}
	return b, nil
}

func setConfigDefaults(v *viper.Viper, d Config) {
	v.SetDefault("magiclink.tokenttl", d.MagicLink.TokenTTL)
	v.SetDefault("magiclink.tokenbytes", d.MagicLink.TokenBytes)
	v.SetDefault("magiclink.baseurl", d.MagicLink.BaseURL)
	v.SetDefault("magiclink.allowedredirects", d.MagicLink.AllowedRedirects)

	v.SetDefault("secondfactor.issuer", d.SecondFactor.Issuer)
	v.SetDefault("secondfactor.drift", d.SecondFactor.Drift)
	v.SetDefault("secondfactor.backupcodecount", d.SecondFactor.BackupCodeCount)
	v.SetDefault("secondfactor.pendingttl", d.SecondFactor.PendingTTL)
	v.SetDefault("secondfactor.maxpendingattempts", d.SecondFactor.MaxPendingAttempts)
	v.SetDefault("secondfactor.redisprefix", d.SecondFactor.RedisPrefix)

	v.SetDefault("policy.requiredroles", d.Policy.RequiredRoles)
	v.SetDefault("policy.graceperiod", d.Policy.GracePeriod)
	v.SetDefault("policy.lockoutthreshold", d.Policy.LockoutThreshold)
	v.SetDefault("policy.lockoutduration", d.Policy.LockoutDuration)
	v.SetDefault("policy.emergencydisable", d.Policy.EmergencyDisable)
	v.SetDefault("policy.adminroles", d.Policy.AdminRoles)

	v.SetDefault("session.redisprefix", d.Session.RedisPrefix)
	v.SetDefault("session.ttl", d.Session.TTL)
	v.SetDefault("session.bindfingerprint", d.Session.BindFingerprint)

	v.SetDefault("jwt.accessttl", d.JWT.AccessTTL)
	v.SetDefault("jwt.signingmethod", d.JWT.SigningMethod)
	v.SetDefault("jwt.issuer", d.JWT.Issuer)
	v.SetDefault("jwt.audience", d.JWT.Audience)
	v.SetDefault("jwt.leeway", d.JWT.Leeway)
	v.SetDefault("jwt.keyid", d.JWT.KeyID)
	v.SetDefault("jwt.privatekeyfile", "")
	v.SetDefault("jwt.publickeyfile", "")
	v.SetDefault("jwt.secretfile", "")

	v.SetDefault("password.enabled", d.Password.Enabled)
	v.SetDefault("password.memory", d.Password.Memory)
	v.SetDefault("password.time", d.Password.Time)
	v.SetDefault("password.parallelism", d.Password.Parallelism)
	v.SetDefault("password.saltlength", d.Password.SaltLength)
	v.SetDefault("password.keylength", d.Password.KeyLength)

	v.SetDefault("ratelimit.enableipthrottle", d.RateLimit.EnableIPThrottle)
	v.SetDefault("ratelimit.maxmagiclinkrequests", d.RateLimit.MaxMagicLinkRequests)
	v.SetDefault("ratelimit.maxmagiclinkrequestsip", d.RateLimit.MaxMagicLinkRequestsIP)
	v.SetDefault("ratelimit.magiclinkwindow", d.RateLimit.MagicLinkWindow)
	v.SetDefault("ratelimit.maxloginattempts", d.RateLimit.MaxLoginAttempts)
	v.SetDefault("ratelimit.logincooldownduration", d.RateLimit.LoginCooldownDuration)

	v.SetDefault("audit.enabled", d.Audit.Enabled)
	v.SetDefault("audit.buffersize", d.Audit.BufferSize)
	v.SetDefault("audit.dropiffull", d.Audit.DropIfFull)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.enablelatencyhistograms", d.Metrics.EnableLatencyHistograms)
}
