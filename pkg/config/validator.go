package config

import "errors"

// Validator validates a Config comprehensively, collecting every problem
// found rather than stopping at the first one, matching the ambient
// stack's `errors.Join` aggregation convention.
type Validator struct {
	cfg *Config
}

// NewValidator returns a validator for cfg.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll runs every section's checks and joins the results.
func (v *Validator) ValidateAll() error {
	return errors.Join(
		v.validateDatabase(),
		v.validateEngine(),
		v.validateScheduler(),
		v.validateAgentGateway(),
	)
}

func (v *Validator) validateDatabase() error {
	d := v.cfg.Database
	var errs []error
	if d.Host == "" {
		errs = append(errs, NewValidationError("database", "host", "required"))
	}
	if d.Database == "" {
		errs = append(errs, NewValidationError("database", "database", "required"))
	}
	if d.Port <= 0 {
		errs = append(errs, NewValidationError("database", "port", "must be positive"))
	}
	return errors.Join(errs...)
}

func (v *Validator) validateEngine() error {
	e := v.cfg.Engine
	if e.MaxConcurrentExecutions < 0 {
		return NewValidationError("engine", "max_concurrent_executions", "must not be negative")
	}
	return nil
}

func (v *Validator) validateScheduler() error {
	s := v.cfg.Scheduler
	if s.MaxJitter < 0 {
		return NewValidationError("scheduler", "max_jitter", "must not be negative")
	}
	if s.MinWakeInterval < 0 {
		return NewValidationError("scheduler", "min_wake_interval", "must not be negative")
	}
	return nil
}

func (v *Validator) validateAgentGateway() error {
	if v.cfg.AgentGateway.Addr == "" {
		return NewValidationError("agent_gateway", "addr", "required")
	}
	return nil
}
