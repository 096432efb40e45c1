package service

import (
	"time"

	"github.com/graphery/executor/internal/config"
	"github.com/graphery/executor/internal/controller"
	"github.com/graphery/executor/internal/protocol"
)

// MergeSettings applies per-request options on top of the configured
// execution settings. Formatting options replace the configured values;
// resource options can only lower the ceilings.
func MergeSettings(cfg *config.ExecutorConfig, opts *protocol.Options) controller.Settings {
	s := controller.Settings{
		CPUTime:        cfg.CPUTime(),
		MemoryLimit:    cfg.MemoryBytes(),
		FloatPrecision: cfg.Precision(),
		MaxReprLength:  cfg.ReprLength(),
		Seed:           cfg.RandSeed,
		Trusted:        cfg.IsLocal,
		Inputs:         cfg.InputList,
	}
	if opts == nil {
		return s
	}
	if opts.FloatPrecision != nil {
		s.FloatPrecision = *opts.FloatPrecision
	}
	if opts.MaxReprLength != nil && *opts.MaxReprLength > 0 {
		s.MaxReprLength = *opts.MaxReprLength
	}
	if opts.RandSeed != nil {
		s.Seed = *opts.RandSeed
	}
	if opts.InputList != nil {
		s.Inputs = opts.InputList
	}
	if opts.TimeOut != nil {
		if d := time.Duration(*opts.TimeOut) * time.Second; d > 0 && d < s.CPUTime {
			s.CPUTime = d
		}
	}
	if opts.MemOut != nil {
		if b := int64(*opts.MemOut) << 20; b > 0 && b < s.MemoryLimit {
			s.MemoryLimit = b
		}
	}
	return s
}
