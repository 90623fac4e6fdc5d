package prompt

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/usorama/rad-engineer/internal/wave"
)

// fencedJSON matches a ```json fenced block (language tag optional).
var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*\\n(.*?)```")

// ParserConfig controls which fields a response must carry.
type ParserConfig struct {
	RequiredFields []string // Defaults to ["status"]
}

// ParseResult is the structured view of one agent response.
type ParseResult struct {
	Raw     string            `json:"raw"`
	Fields  map[string]string `json:"fields,omitempty"`
	Status  string            `json:"status,omitempty"`
	Summary string            `json:"summary,omitempty"`
}

// Parser extracts structured fields from agent output.
type Parser struct {
	required []string
}

// NewParser creates a response parser.
func NewParser(cfg ParserConfig) *Parser {
	required := cfg.RequiredFields
	if required == nil {
		required = []string{"status"}
	}
	return &Parser{required: required}
}

// Parse extracts the JSON document from raw agent output.
// Malformed output yields a ParseFailure; a document reporting
// status "failed" or "error" yields an ExecutionFailure.
func (p *Parser) Parse(raw string) (ParseResult, error) {
	result := ParseResult{Raw: raw}

	doc, ok := extractJSON(raw)
	if !ok {
		return result, wave.Errorf(wave.KindParse, "", "no JSON object found in agent output")
	}
	if !gjson.Valid(doc) {
		return result, wave.Errorf(wave.KindParse, "", "agent output contains malformed JSON")
	}

	parsed := gjson.Parse(doc)
	if !parsed.IsObject() {
		return result, wave.Errorf(wave.KindParse, "", "agent output is not a JSON object")
	}

	result.Fields = make(map[string]string)
	parsed.ForEach(func(key, value gjson.Result) bool {
		result.Fields[key.String()] = value.String()
		return true
	})

	for _, field := range p.required {
		if !parsed.Get(field).Exists() {
			return result, wave.Errorf(wave.KindParse, "", "agent output missing required field %q", field)
		}
	}

	result.Status = strings.ToLower(parsed.Get("status").String())
	result.Summary = parsed.Get("summary").String()

	switch result.Status {
	case "failed", "error":
		reason := parsed.Get("error").String()
		if reason == "" {
			reason = result.Summary
		}
		return result, wave.Errorf(wave.KindExecution, "", "agent reported failure: %s", reason)
	}

	return result, nil
}

// extractJSON returns the first JSON object in s: a fenced block if present,
// otherwise the span from the first '{' to the last '}'.
func extractJSON(s string) (string, bool) {
	if m := fencedJSON.FindStringSubmatch(s); m != nil {
		body := strings.TrimSpace(m[1])
		if strings.HasPrefix(body, "{") {
			return body, true
		}
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

