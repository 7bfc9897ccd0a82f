package jsontext

import (
	"fmt"
	"os"

	"github.com/xeipuuv/gojsonschema"
)

// SchemaValidator は構文検証を通過したJSONを JSON Schema で検証する
type SchemaValidator struct {
	schema *gojsonschema.Schema
}

// NewSchemaValidator はスキーマ文書から SchemaValidator を作成する
func NewSchemaValidator(schemaJSON string) (*SchemaValidator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to compile JSON schema: %w", err)
	}
	return &SchemaValidator{schema: schema}, nil
}

// LoadSchemaValidator はファイルからスキーマを読み込む
func LoadSchemaValidator(path string) (*SchemaValidator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read JSON schema %s: %w", path, err)
	}
	return NewSchemaValidator(string(data))
}

// Check は文書を検証し、違反があれば位置情報なしの診断を返す
func (v *SchemaValidator) Check(document string) *Diagnostic {
	result, err := v.schema.Validate(gojsonschema.NewStringLoader(document))
	if err != nil {
		return &Diagnostic{Message: err.Error(), Offset: -1}
	}
	if result.Valid() {
		return nil
	}

	violations := make([]string, len(result.Errors()))
	for i, desc := range result.Errors() {
		violations[i] = desc.String()
	}
	return &Diagnostic{
		Message:    fmt.Sprintf("%d violation(s)", len(violations)),
		Offset:     -1,
		Violations: violations,
	}
}
