package model

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	jss "github.com/kaptinlin/jsonschema"
	"gopkg.in/yaml.v3"

	_ "embed"
)

// Supported import scan types of the destination system.
const (
	ScanTypeNessus  = "Nessus Scan"
	ScanTypeTenable = "Tenable Scan"
)

//go:embed schemas/product.schema.json
var productSchemaSource []byte

var productSchema *jss.Schema

func init() {
	if len(productSchemaSource) == 0 {
		panic("variable productSchemaSource is empty")
	}
	compiler := jss.NewCompiler()
	schema, err := compiler.Compile(productSchemaSource)
	if err != nil {
		panic(err)
	}
	productSchema = schema
}

// Severity is the ordered severity scale of the destination system.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = [...]string{"Info", "Low", "Medium", "High", "Critical"}

func (s Severity) String() string {
	if s < SeverityInfo || s > SeverityCritical {
		return fmt.Sprintf("Severity(%d)", int(s))
	}
	return severityNames[s]
}

// SeverityFromString normalizes capitalization, so "medium" and "MEDIUM"
// are both accepted.
func SeverityFromString(raw string) (Severity, error) {
	name := capitalize(raw)
	for i, n := range severityNames {
		if n == name {
			return Severity(i), nil
		}
	}
	return 0, fmt.Errorf(
		"invalid minimum severity %q: should be one of %s",
		raw, strings.Join(severityNames[:], ", "))
}

// Config is the per-run import configuration. Loaded once, read-only after.
type Config struct {
	ScanType                  string
	AutoCreateContext         bool
	DeduplicationOnEngagement bool
	ProductPayload            map[string]any
	LeadUserID                int
	MaxRequests               int
	MinimumSeverity           Severity
}

type rawConfig struct {
	BaseConfig struct {
		ScanType                  string `yaml:"scan_type"`
		AutoCreateContext         bool   `yaml:"auto_create_context"`
		DeduplicationOnEngagement bool   `yaml:"deduplication_on_engagement"`
		LeadUserID                int    `yaml:"lead_user_id"`
		MaxRequests               int    `yaml:"max_requests"`
		MinimumSeverity           string `yaml:"minimum_severity"`
	} `yaml:"base_config"`
	ProductPayload map[string]any `yaml:"product_creation_config"`
}

// LoadConfig decodes the YAML configuration and validates every constrained
// field before any network call is made.
func LoadConfig(r io.Reader) (Config, error) {
	var zero Config
	var raw rawConfig
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil {
		return zero, fmt.Errorf("decoding config: %w", err)
	}

	scanType := titleCase(raw.BaseConfig.ScanType)
	if scanType != ScanTypeNessus && scanType != ScanTypeTenable {
		return zero, fmt.Errorf(
			"invalid scan type %q: should be %q or %q",
			raw.BaseConfig.ScanType, ScanTypeTenable, ScanTypeNessus)
	}

	if mr := raw.BaseConfig.MaxRequests; mr < 1 || mr > 10 {
		return zero, fmt.Errorf("invalid max requests %d: value should be in range 1-10", mr)
	}

	severity, err := SeverityFromString(raw.BaseConfig.MinimumSeverity)
	if err != nil {
		return zero, err
	}

	if err := validateProductPayload(raw.ProductPayload); err != nil {
		return zero, fmt.Errorf("invalid product_creation_config: %w", err)
	}

	return Config{
		ScanType:                  scanType,
		AutoCreateContext:         raw.BaseConfig.AutoCreateContext,
		DeduplicationOnEngagement: raw.BaseConfig.DeduplicationOnEngagement,
		ProductPayload:            raw.ProductPayload,
		LeadUserID:                raw.BaseConfig.LeadUserID,
		MaxRequests:               raw.BaseConfig.MaxRequests,
		MinimumSeverity:           severity,
	}, nil
}

// ProductPayloadFor returns a copy of the creation template bound to one
// project: name is overridden, the description placeholder `{}` is
// substituted, otherwise the project name is appended to the description.
func (c Config) ProductPayloadFor(projectName string) map[string]any {
	payload := make(map[string]any, len(c.ProductPayload)+1)
	for k, v := range c.ProductPayload {
		payload[k] = v
	}
	payload["name"] = projectName

	desc, _ := payload["description"].(string)
	if strings.Contains(desc, "{}") {
		payload["description"] = strings.Replace(desc, "{}", projectName, 1)
	} else {
		payload["description"] = strings.TrimSpace(desc + " " + projectName)
	}
	return payload
}

func validateProductPayload(payload map[string]any) error {
	if payload == nil {
		return fmt.Errorf("missing section")
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	res := productSchema.Validate(b)
	if !res.Valid {
		var errorMsgs []string
		for _, err := range res.Errors {
			errorMsgs = append(errorMsgs, fmt.Sprintf("%s: %s", err.Keyword, err.Error()))
		}
		return fmt.Errorf("%s", strings.Join(errorMsgs, "; "))
	}
	return nil
}

func capitalize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = capitalize(w)
	}
	return strings.Join(words, " ")
}
