package tool

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ValidateInput checks input against the subset of JSON Schema the built-in
// tools declare: required, type, enum, minLength, minimum and maximum.
func ValidateInput(schema map[string]interface{}, input json.RawMessage) error {
	var inputMap map[string]interface{}
	if err := json.Unmarshal(input, &inputMap); err != nil {
		return fmt.Errorf("invalid JSON input: %w", err)
	}
	if inputMap == nil {
		inputMap = map[string]interface{}{}
	}

	return validateObject(schema, inputMap)
}

func validateObject(schema map[string]interface{}, input map[string]interface{}) error {
	for _, fieldName := range requiredFields(schema) {
		if _, exists := input[fieldName]; !exists {
			return fmt.Errorf("missing required field: %s", fieldName)
		}
	}

	properties, ok := schema["properties"].(map[string]interface{})
	if !ok {
		return nil
	}

	for key, value := range input {
		propSchema, ok := properties[key].(map[string]interface{})
		if !ok {
			continue
		}
		if err := validateValue(key, propSchema, value); err != nil {
			return err
		}
	}

	return nil
}

func requiredFields(schema map[string]interface{}) []string {
	switch required := schema["required"].(type) {
	case []string:
		return required
	case []interface{}:
		out := make([]string, 0, len(required))
		for _, field := range required {
			if name, ok := field.(string); ok {
				out = append(out, name)
			}
		}
		return out
	default:
		return nil
	}
}

func validateValue(fieldName string, schema map[string]interface{}, value interface{}) error {
	expectedType, _ := schema["type"].(string)

	switch expectedType {
	case "string":
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("field '%s' expected string, got %T", fieldName, value)
		}
		if minLen, ok := number(schema["minLength"]); ok && float64(len(strings.TrimSpace(s))) < minLen {
			return fmt.Errorf("field '%s' must be at least %d characters", fieldName, int(minLen))
		}
		if err := checkEnum(fieldName, schema, s); err != nil {
			return err
		}
	case "number", "integer":
		n, ok := value.(float64)
		if !ok {
			return fmt.Errorf("field '%s' expected number, got %T", fieldName, value)
		}
		if expectedType == "integer" && n != float64(int64(n)) {
			return fmt.Errorf("field '%s' expected integer, got %v", fieldName, n)
		}
		if lo, ok := number(schema["minimum"]); ok && n < lo {
			return fmt.Errorf("field '%s' must be >= %v", fieldName, lo)
		}
		if hi, ok := number(schema["maximum"]); ok && n > hi {
			return fmt.Errorf("field '%s' must be <= %v", fieldName, hi)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("field '%s' expected boolean, got %T", fieldName, value)
		}
	case "array":
		arr, ok := value.([]interface{})
		if !ok {
			return fmt.Errorf("field '%s' expected array, got %T", fieldName, value)
		}
		if itemsSchema, ok := schema["items"].(map[string]interface{}); ok {
			for i, item := range arr {
				if err := validateValue(fmt.Sprintf("%s[%d]", fieldName, i), itemsSchema, item); err != nil {
					return err
				}
			}
		}
	case "object":
		obj, ok := value.(map[string]interface{})
		if !ok {
			return fmt.Errorf("field '%s' expected object, got %T", fieldName, value)
		}
		return validateObject(schema, obj)
	}

	return nil
}

func checkEnum(fieldName string, schema map[string]interface{}, value string) error {
	var allowed []string
	switch enum := schema["enum"].(type) {
	case []string:
		allowed = enum
	case []interface{}:
		for _, v := range enum {
			if s, ok := v.(string); ok {
				allowed = append(allowed, s)
			}
		}
	default:
		return nil
	}
	for _, a := range allowed {
		if a == value {
			return nil
		}
	}
	return fmt.Errorf("field '%s' must be one of %s", fieldName, strings.Join(allowed, ", "))
}

func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
