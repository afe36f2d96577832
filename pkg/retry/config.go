package retry

import "statusflow/internal/config"

// FromConfig fills a Policy from a retry config section, keeping defaults
// for unset fields.
func FromConfig(cfg config.RetryConfig) Policy {
	policy := DefaultPolicy()
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialInterval > 0 {
		policy.InitialInterval = cfg.InitialInterval
	}
	if cfg.MaxInterval > 0 {
		policy.MaxInterval = cfg.MaxInterval
	}
	if cfg.Multiplier > 0 {
		policy.Multiplier = cfg.Multiplier
	}
	if cfg.MaxElapsedTime > 0 {
		policy.MaxElapsedTime = cfg.MaxElapsedTime
	}
	return policy
}
