package command

import (
	"regexp"
)

// Validation limits.
const (
	maxIDLength          = 128
	maxDeviceIDLength    = 128
	maxCommandNameLength = 64
	maxParameters        = 64
	maxStringValueLen    = 4096
	maxBinaryValueLen    = 64 * 1024
	maxSourceRefLength   = 256
)

var commandNameRegex = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Validate checks a request and returns every problem found as
// ValidationErrors, or nil.
func (r *Request) Validate() error {
	var errs ValidationErrors
	add := func(field, msg string) {
		errs = append(errs, ValidationError{Field: field, Message: msg})
	}

	if len(r.ID) > maxIDLength {
		add("id", "too long")
	}

	switch {
	case r.DeviceID == "":
		add("device_id", "required")
	case len(r.DeviceID) > maxDeviceIDLength:
		add("device_id", "too long")
	}

	switch {
	case r.CommandName == "":
		add("command", "required")
	case len(r.CommandName) > maxCommandNameLength:
		add("command", "too long")
	case !commandNameRegex.MatchString(r.CommandName):
		add("command", "must be lower snake_case")
	}

	if !r.Priority.Valid() {
		add("priority", "unknown priority")
	}

	validateParameters(r.Parameters, add)
	validateSource(r.Source, add)
	validateRetryPolicy(r.RetryPolicy, add)

	if r.AttemptCount < 0 {
		add("attempt_count", "must not be negative")
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

func validateParameters(ps Parameters, add func(field, msg string)) {
	if len(ps) > maxParameters {
		add("parameters", "too many parameters")
		return
	}
	seen := make(map[string]struct{}, len(ps))
	for _, p := range ps {
		field := "parameters." + p.Name
		if p.Name == "" {
			add("parameters", "parameter name required")
			continue
		}
		if _, dup := seen[p.Name]; dup {
			add(field, "duplicate parameter")
			continue
		}
		seen[p.Name] = struct{}{}

		if s, ok := p.Value.AsString(); ok && len(s) > maxStringValueLen {
			add(field, "string value too long")
		}
		if b, ok := p.Value.AsBinary(); ok && len(b) > maxBinaryValueLen {
			add(field, "binary value too long")
		}
	}
}

func validateSource(s Source, add func(field, msg string)) {
	switch s.Kind {
	case SourceUser, SourceSystem, SourceRule, SourceWorkflow, SourceAgent:
	case "":
		add("source.kind", "required")
		return
	default:
		add("source.kind", "unknown source kind")
		return
	}

	ref := s.Ref()
	switch {
	case ref == "":
		add("source", "reference for "+string(s.Kind)+" source required")
	case s.refCount() != 1:
		add("source", "exactly one reference field must be set")
	case len(ref) > maxSourceRefLength:
		add("source", "reference too long")
	}
}

func validateRetryPolicy(p RetryPolicy, add func(field, msg string)) {
	if p.MaxAttempts < 1 {
		add("retry_policy.max_attempts", "must be at least 1")
	}
	if p.BackoffMultiplier < 1 {
		add("retry_policy.backoff_multiplier", "must be at least 1")
	}
	if p.BaseDelay < 0 {
		add("retry_policy.base_delay", "must not be negative")
	}
	if p.MaxDelay < p.BaseDelay {
		add("retry_policy.max_delay", "must not be less than base_delay")
	}
	if p.AttemptTimeout <= 0 {
		add("retry_policy.attempt_timeout", "must be positive")
	}
}
