package bigquery

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"cloud.google.com/go/bigquery"
)

func convertBigQuerySchema(schema bigquery.Schema) []*Column {
	var fields []*Column
	for _, field := range schema {
		fields = append(fields, convertBigQueryField(field))
	}
	return fields
}

func convertBigQueryField(field *bigquery.FieldSchema) *Column {
	column := &Column{
		Name:        field.Name,
		Type:        field.Type,
		Repeated:    field.Repeated,
		Required:    field.Required,
		Description: field.Description,
	}

	for _, subField := range field.Schema {
		column.Fields = append(column.Fields, convertBigQueryField(subField))
	}

	return column
}

// toBigQuerySchema is the inverse of convertBigQuerySchema.
func (s *TableSchema) toBigQuerySchema() bigquery.Schema {
	if s == nil {
		return nil
	}
	return toBigQueryFields(s.Fields)
}

func toBigQueryFields(columns []*Column) bigquery.Schema {
	if len(columns) == 0 {
		return nil
	}
	schema := make(bigquery.Schema, 0, len(columns))
	for _, col := range columns {
		schema = append(schema, &bigquery.FieldSchema{
			Name:        col.Name,
			Type:        col.Type,
			Repeated:    col.Repeated,
			Required:    col.Required,
			Description: col.Description,
			Schema:      toBigQueryFields(col.Fields),
		})
	}
	return schema
}

// ParseColumns parses a flat schema of the form "name:TYPE,other:TYPE".
// A missing type defaults to STRING; a "!" suffix on the type marks the
// column REQUIRED.
func ParseColumns(s string) (*TableSchema, error) {
	schema := &TableSchema{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		name, typ, _ := strings.Cut(part, ":")
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("invalid column %q: empty name", part)
		}

		col := &Column{Name: name, Type: bigquery.StringFieldType}
		typ = strings.ToUpper(strings.TrimSpace(typ))
		if strings.HasSuffix(typ, "!") {
			col.Required = true
			typ = strings.TrimSuffix(typ, "!")
		}
		if typ != "" {
			ft, err := parseFieldType(typ)
			if err != nil {
				return nil, fmt.Errorf("invalid column %q: %w", part, err)
			}
			col.Type = ft
		}
		schema.Fields = append(schema.Fields, col)
	}

	if len(schema.Fields) == 0 {
		return nil, fmt.Errorf("schema %q has no columns", s)
	}
	return schema, nil
}

// ReadSchemaFile reads a schema in the JSON format the bq tool emits.
func ReadSchemaFile(path string) (*TableSchema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, LocalIOError.Wrap(err)
	}
	schema, err := bigquery.SchemaFromJSON(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse schema file %s: %w", path, err)
	}
	return &TableSchema{Fields: convertBigQuerySchema(schema)}, nil
}

var fieldTypes = map[string]bigquery.FieldType{
	"STRING":     bigquery.StringFieldType,
	"BYTES":      bigquery.BytesFieldType,
	"INTEGER":    bigquery.IntegerFieldType,
	"INT64":      bigquery.IntegerFieldType,
	"FLOAT":      bigquery.FloatFieldType,
	"FLOAT64":    bigquery.FloatFieldType,
	"BOOLEAN":    bigquery.BooleanFieldType,
	"BOOL":       bigquery.BooleanFieldType,
	"TIMESTAMP":  bigquery.TimestampFieldType,
	"DATE":       bigquery.DateFieldType,
	"TIME":       bigquery.TimeFieldType,
	"DATETIME":   bigquery.DateTimeFieldType,
	"NUMERIC":    bigquery.NumericFieldType,
	"BIGNUMERIC": bigquery.BigNumericFieldType,
	"GEOGRAPHY":  bigquery.GeographyFieldType,
	"JSON":       bigquery.JSONFieldType,
}

func parseFieldType(s string) (bigquery.FieldType, error) {
	if ft, ok := fieldTypes[s]; ok {
		return ft, nil
	}
	known := make([]string, 0, len(fieldTypes))
	for name := range fieldTypes {
		known = append(known, name)
	}
	sort.Strings(known)
	return "", fmt.Errorf("unknown type %q (known: %s)", s, strings.Join(known, ", "))
}
