package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// RegisterCustomValidators registers lightning-enable specific validation
// rules. Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	// duration: validates a time.ParseDuration string like "15m" or "30s"
	if err := v.RegisterValidation("duration", validateDuration); err != nil {
		return fmt.Errorf("failed to register duration validator: %w", err)
	}
	return nil
}

func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d > 0
}

// Validate validates the Config using struct tags and cross-field rules.
// Budget tier ordering is NOT validated here: Normalize already replaced
// invalid budget values with defaults.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateRuleNamesUnique(); err != nil {
		return err
	}

	return nil
}

// validateRuleNamesUnique ensures CEL rule names are distinct: denial
// reasons cite the rule name, so duplicates make denials ambiguous.
func (c *Config) validateRuleNamesUnique() error {
	seen := make(map[string]struct{}, len(c.Rules))
	for i, rule := range c.Rules {
		if _, dup := seen[rule.Name]; dup {
			return fmt.Errorf("rules[%d]: duplicate rule name: %s", i, rule.Name)
		}
		seen[rule.Name] = struct{}{}
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to
// user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "startswith":
		return fmt.Sprintf("%s must start with %q", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "hexadecimal":
		return fmt.Sprintf("%s must be hex-encoded", field)
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, e.Param())
	case "duration":
		return fmt.Sprintf("%s must be a positive duration like \"15m\"", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
