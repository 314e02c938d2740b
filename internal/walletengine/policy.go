package walletengine

// Policy collects the numeric constants this module otherwise leaves to
// configuration (`minimumFee`, `maxSupportedMixin`,
// `defaultDustThreshold`, the fusion thresholds, and the size-check
// bound): values a deployment tunes via pkg/config rather than ones this
// package hardcodes. DefaultPolicy gives every field a sane CryptoNote-ish
// default so the engine is usable without an explicit override.
type Policy struct {
	MinimumFee                 uint64
	MaxSupportedMixin          uint64
	DefaultDustThreshold       uint64
	BlockGrantedFullRewardZone uint64
	MinerTxReserve             uint64
	FusionTxMinInputCount      int
	FusionTxMinInOutCountRatio int
	FusionTxMaxSize            uint64
}

// DefaultPolicy returns the values this module ships with absent a
// config file, modeled on the real CryptoNote/Bytecoin network constants
// of the same name.
func DefaultPolicy() Policy {
	return Policy{
		MinimumFee:                 1000000,
		MaxSupportedMixin:          100,
		DefaultDustThreshold:       2000000,
		BlockGrantedFullRewardZone: 250000,
		MinerTxReserve:             600,
		FusionTxMinInputCount:      12,
		FusionTxMinInOutCountRatio: 4,
		FusionTxMaxSize:            32768,
	}
}

// SetPolicy overrides the engine's policy constants, typically from a
// loaded pkg/config document.
func (e *Engine) SetPolicy(p Policy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policy = p
}
