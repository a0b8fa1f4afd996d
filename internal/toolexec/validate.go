package toolexec

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidationError describes why a call's arguments were rejected. The
// text is written for the model, not the end user: it names the bad
// parameters and tells the model to ask rather than invent values.
type ValidationError struct {
	Missing []string
	Invalid []string
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required parameters: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid parameters: "+strings.Join(e.Invalid, ", "))
	}
	return strings.Join(parts, "; ")
}

// Instruction renders the corrective tool-result message for the model.
func (e *ValidationError) Instruction() string {
	return fmt.Sprintf("Tool call rejected: %s. Ask the user for the missing or corrected information instead of guessing values.", e.Error())
}

type schemaProperty struct {
	Type string `json:"type"`
}

type toolSchema struct {
	Properties map[string]schemaProperty `json:"properties"`
	Required   []string                  `json:"required"`
}

// validateArgs coerces loosely-typed values against the declared schema
// and validates the result. It returns the coerced argument map; raw is
// left untouched for audit logging.
func validateArgs(schemaJSON json.RawMessage, raw map[string]any) (map[string]any, *ValidationError) {
	var declared toolSchema
	if err := json.Unmarshal(schemaJSON, &declared); err != nil {
		// An unreadable schema cannot reject anything.
		return raw, nil
	}

	coerced := make(map[string]any, len(raw))
	for key, value := range raw {
		if prop, ok := declared.Properties[key]; ok {
			coerced[key] = coerceValue(value, prop.Type)
		} else {
			coerced[key] = value
		}
	}

	verr := &ValidationError{}
	for _, name := range declared.Required {
		if v, ok := coerced[name]; !ok || v == nil || v == "" {
			verr.Missing = append(verr.Missing, name)
		}
	}
	if len(verr.Missing) > 0 {
		sort.Strings(verr.Missing)
		return coerced, verr
	}

	if err := validateAgainstSchema(schemaJSON, coerced); err != nil {
		verr.Invalid = flattenSchemaError(err)
		if len(verr.Invalid) == 0 {
			verr.Invalid = []string{err.Error()}
		}
		return coerced, verr
	}
	return coerced, nil
}

func validateAgainstSchema(schemaJSON json.RawMessage, args map[string]any) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("tool.json", strings.NewReader(string(schemaJSON))); err != nil {
		return nil
	}
	schema, err := compiler.Compile("tool.json")
	if err != nil {
		return nil
	}

	// Round-trip so numbers take the json.Number forms the validator expects.
	encoded, err := json.Marshal(args)
	if err != nil {
		return nil
	}
	var instance any
	if err := json.Unmarshal(encoded, &instance); err != nil {
		return nil
	}
	return schema.Validate(instance)
}

func flattenSchemaError(err error) []string {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return nil
	}
	var out []string
	for _, cause := range verr.Causes {
		loc := strings.TrimPrefix(cause.InstanceLocation, "/")
		if loc == "" {
			loc = "arguments"
		}
		out = append(out, fmt.Sprintf("%s (%s)", loc, cause.Message))
	}
	if len(out) == 0 && verr.InstanceLocation != "" {
		out = append(out, fmt.Sprintf("%s (%s)", strings.TrimPrefix(verr.InstanceLocation, "/"), verr.Message))
	}
	sort.Strings(out)
	return out
}

// coerceValue converts common loose typings the model produces: numeric
// strings for number parameters, "yes"/"1"/"true" for booleans, and
// numbers for string parameters.
func coerceValue(value any, declaredType string) any {
	switch declaredType {
	case "number", "integer":
		if s, ok := value.(string); ok {
			trimmed := strings.TrimSpace(s)
			if n, err := strconv.ParseFloat(trimmed, 64); err == nil {
				if declaredType == "integer" && n == float64(int64(n)) {
					return int64(n)
				}
				return n
			}
		}
	case "boolean":
		switch v := value.(type) {
		case string:
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "yes", "1", "true", "y":
				return true
			case "no", "0", "false", "n":
				return false
			}
		case float64:
			if v == 1 {
				return true
			}
			if v == 0 {
				return false
			}
		}
	case "string":
		switch v := value.(type) {
		case float64:
			if v == float64(int64(v)) {
				return strconv.FormatInt(int64(v), 10)
			}
			return strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			return strconv.FormatBool(v)
		}
	}
	return value
}
