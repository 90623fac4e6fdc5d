// Package prompt validates prompts before they reach the agent and parses
// what comes back.
package prompt

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultInjectionPatterns is the pattern set used when configuration supplies none.
// Matching is case-insensitive.
var DefaultInjectionPatterns = []string{
	`ignore (all )?(previous|prior|above) instructions`,
	`disregard (the )?(system|previous) prompt`,
	`you are now (in )?developer mode`,
	`reveal (your|the) system prompt`,
	`<\|im_start\|>`,
}

// ValidatorConfig holds validator limits. Zero limits are disabled.
type ValidatorConfig struct {
	MinBytes          int
	MaxBytes          int
	InjectionPatterns []string
}

// Violation describes one reason a prompt was rejected.
type Violation struct {
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// InjectionCheckResult lists the injection patterns a prompt matched.
type InjectionCheckResult struct {
	Flagged  bool     `json:"flagged"`
	Patterns []string `json:"patterns,omitempty"`
}

// ValidationResult is the verdict on one prompt.
type ValidationResult struct {
	Valid      bool                 `json:"valid"`
	Violations []Violation          `json:"violations,omitempty"`
	Injection  InjectionCheckResult `json:"injection"`
}

// Error joins the violation messages.
func (r ValidationResult) Error() string {
	msgs := make([]string, 0, len(r.Violations))
	for _, v := range r.Violations {
		msgs = append(msgs, v.Message)
	}
	return strings.Join(msgs, "; ")
}

// Validator checks prompts against size limits and injection patterns.
// It is stateless after construction and safe for concurrent use.
type Validator struct {
	cfg      ValidatorConfig
	patterns []*regexp.Regexp
}

// NewValidator compiles the configured injection patterns.
// A nil pattern list selects DefaultInjectionPatterns; an empty non-nil list disables the check.
func NewValidator(cfg ValidatorConfig) (*Validator, error) {
	sources := cfg.InjectionPatterns
	if sources == nil {
		sources = DefaultInjectionPatterns
	}

	patterns := make([]*regexp.Regexp, 0, len(sources))
	for _, src := range sources {
		re, err := regexp.Compile("(?i)" + src)
		if err != nil {
			return nil, fmt.Errorf("compiling injection pattern %q: %w", src, err)
		}
		patterns = append(patterns, re)
	}

	return &Validator{cfg: cfg, patterns: patterns}, nil
}

// Validate checks a prompt.
func (v *Validator) Validate(prompt string) ValidationResult {
	var result ValidationResult

	if strings.TrimSpace(prompt) == "" {
		result.Violations = append(result.Violations, Violation{Rule: "empty", Message: "prompt is empty"})
	}
	if !utf8.ValidString(prompt) {
		result.Violations = append(result.Violations, Violation{Rule: "encoding", Message: "prompt is not valid UTF-8"})
	}

	size := len(prompt)
	if v.cfg.MinBytes > 0 && size < v.cfg.MinBytes {
		result.Violations = append(result.Violations, Violation{
			Rule:    "min_size",
			Message: fmt.Sprintf("prompt is %d bytes, minimum is %d", size, v.cfg.MinBytes),
		})
	}
	if v.cfg.MaxBytes > 0 && size > v.cfg.MaxBytes {
		result.Violations = append(result.Violations, Violation{
			Rule:    "max_size",
			Message: fmt.Sprintf("prompt is %d bytes, maximum is %d", size, v.cfg.MaxBytes),
		})
	}

	result.Injection = v.CheckInjection(prompt)
	for _, p := range result.Injection.Patterns {
		result.Violations = append(result.Violations, Violation{
			Rule:    "injection",
			Message: fmt.Sprintf("prompt matches injection pattern %q", p),
		})
	}

	result.Valid = len(result.Violations) == 0
	return result
}

// CheckInjection reports which injection patterns the prompt matches.
func (v *Validator) CheckInjection(prompt string) InjectionCheckResult {
	var res InjectionCheckResult
	for _, re := range v.patterns {
		if re.MatchString(prompt) {
			res.Patterns = append(res.Patterns, strings.TrimPrefix(re.String(), "(?i)"))
		}
	}
	res.Flagged = len(res.Patterns) > 0
	return res
}
