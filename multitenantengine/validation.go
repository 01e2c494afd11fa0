package multitenantengine

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/liamcoop/simplerules/rules"
)

const (
	maxObjects          = 100
	maxFieldsPerObject  = 200
	maxIdentifierLength = 100
)

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

var celTypes = map[string]bool{
	"int":       true,
	"int64":     true,
	"uint":      true,
	"float64":   true,
	"double":    true,
	"string":    true,
	"bool":      true,
	"bytes":     true,
	"timestamp": true,
	"duration":  true,
}

// CEL keywords plus the names every rule expression already binds
var reservedIdentifiers = map[string]bool{
	"true":      true,
	"false":     true,
	"null":      true,
	"if":        true,
	"else":      true,
	"for":       true,
	"while":     true,
	"break":     true,
	"continue":  true,
	"return":    true,
	"var":       true,
	"let":       true,
	"const":     true,
	"function":  true,
	"in":        true,
	"as":        true,
	"import":    true,
	"package":   true,
	"namespace": true,
	"loop":      true,
	"void":      true,

	rules.VarSubject:  true,
	rules.VarPrevious: true,
}

// ValidateSchema checks object and field names, counts and type names.
// Returns nil if the schema is valid.
func ValidateSchema(schema Schema) error {
	if len(schema) == 0 {
		return fmt.Errorf("schema cannot be empty, must contain at least one object definition")
	}
	if len(schema) > maxObjects {
		return fmt.Errorf("schema contains %d objects, maximum allowed is %d", len(schema), maxObjects)
	}

	for _, objectName := range schema.Objects() {
		fields := schema[objectName]
		if err := validateIdentifier(objectName); err != nil {
			return fmt.Errorf("invalid object name %q: %w", objectName, err)
		}

		if len(fields) == 0 {
			return fmt.Errorf("object %q must contain at least one field", objectName)
		}
		if len(fields) > maxFieldsPerObject {
			return fmt.Errorf("object %q contains %d fields, maximum allowed is %d", objectName, len(fields), maxFieldsPerObject)
		}

		for fieldName, typeName := range fields {
			if err := validateIdentifier(fieldName); err != nil {
				return fmt.Errorf("invalid field name %q in object %q: %w", fieldName, objectName, err)
			}
			if typeName == "" {
				return fmt.Errorf("field %q in object %q has empty type name", fieldName, objectName)
			}
			if strings.TrimSpace(typeName) != typeName {
				return fmt.Errorf("field %q in object %q has type with leading/trailing whitespace: %q", fieldName, objectName, typeName)
			}
			if !isValidCELType(typeName) {
				return fmt.Errorf("field %q in object %q has invalid type %q (must be one of: %s)",
					fieldName, objectName, typeName, strings.Join(validCELTypes(), ", "))
			}
		}
	}

	return nil
}

// ValidateSubject rejects subjects whose top-level keys are not objects declared by the schema
func ValidateSubject(schema Schema, subject map[string]any) error {
	var unknown []string
	for key := range subject {
		if _, ok := schema[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("subject contains undeclared objects: %s", strings.Join(unknown, ", "))
	}
	return nil
}

// validateIdentifier checks length, format and reserved words
func validateIdentifier(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(name) > maxIdentifierLength {
		return fmt.Errorf("identifier length %d exceeds maximum of %d characters", len(name), maxIdentifierLength)
	}
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("must match pattern %s (start with letter or underscore, followed by letters, digits, or underscores)", identifierPattern)
	}
	if isReservedKeyword(name) {
		return fmt.Errorf("cannot use reserved keyword %q as identifier", name)
	}
	return nil
}

// isValidCELType reports whether typeName is an accepted field type. Case-sensitive.
func isValidCELType(typeName string) bool {
	return celTypes[typeName]
}

func validCELTypes() []string {
	names := make([]string, 0, len(celTypes))
	for name := range celTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func isReservedKeyword(name string) bool {
	return reservedIdentifiers[name]
}
