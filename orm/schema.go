package orm

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const schemaTemplate = "CREATE TABLE IF NOT EXISTS %s (\n%s\n);"

// autoDefaults 日期时间类型自动生成对应的 DEFAULT 子句
var autoDefaults = map[FieldType]string{
	FieldTypeDate:      "CURRENT_DATE",
	FieldTypeTime:      "CURRENT_TIME",
	FieldTypeTimestamp: "CURRENT_TIMESTAMP",
}

// makeFieldSchema 渲染单个列的定义子句。
// 同样的字段定义总是得到同样的文本，迁移生成器依赖这一点做差异对比
func makeFieldSchema(field *FieldDefinition) (string, error) {
	var sb strings.Builder
	sb.WriteString(field.Name)
	sb.WriteString(" ")
	sb.WriteString(field.SQLType())

	if field.Primary {
		sb.WriteString(" PRIMARY KEY")
		if field.Auto && field.Type == FieldTypeInteger {
			sb.WriteString(" AUTOINCREMENT")
		}
		return sb.String(), nil
	}

	switch {
	case field.Auto:
		sb.WriteString(" DEFAULT ")
		sb.WriteString(autoDefaults[field.Type])
	case field.Default != nil:
		rendered, err := renderDefaultValue(field)
		if err != nil {
			return "", err
		}
		sb.WriteString(" DEFAULT ")
		sb.WriteString(rendered)
	case field.Required:
		sb.WriteString(" NOT NULL")
	}

	if field.Unique {
		sb.WriteString(" UNIQUE")
	}

	return sb.String(), nil
}

// renderDefaultValue 按逻辑类型渲染默认值字面量：
// 文本转义加引号，布尔按整型存储渲染为 1/0，
// 日期时间保持字面量不加引号，二进制渲染为十六进制 BLOB 字面量
func renderDefaultValue(field *FieldDefinition) (string, error) {
	switch field.Type {
	case FieldTypeText:
		s, ok := field.Default.(string)
		if !ok {
			s = fmt.Sprintf("%v", field.Default)
		}
		return "'" + strings.ReplaceAll(s, "'", "''") + "'", nil
	case FieldTypeBoolean:
		if b, ok := field.Default.(bool); ok && b {
			return "1", nil
		}
		return "0", nil
	case FieldTypeInteger:
		switch v := field.Default.(type) {
		case int64:
			return strconv.FormatInt(v, 10), nil
		case int:
			return strconv.Itoa(v), nil
		}
	case FieldTypeReal:
		if f, ok := field.Default.(float64); ok {
			return strconv.FormatFloat(f, 'g', -1, 64), nil
		}
	case FieldTypeDate, FieldTypeTime, FieldTypeTimestamp:
		if t, ok := field.Default.(time.Time); ok {
			return t.Format("2006-01-02 15:04:05"), nil
		}
		return fmt.Sprintf("%v", field.Default), nil
	case FieldTypeBinary:
		if b, ok := field.Default.([]byte); ok {
			return "X'" + hex.EncodeToString(b) + "'", nil
		}
	}
	return "", errors.Wrapf(ErrModelIntegrity,
		"field %q has default value %v incompatible with type %q", field.Name, field.Default, field.Type)
}

// makeForeignKeySchema 渲染外键约束子句
func makeForeignKeySchema(field *FieldDefinition) string {
	fk := field.ForeignKey
	return fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s(%s) ON UPDATE %s ON DELETE %s",
		field.Name, fk.References, fk.Column, fk.OnUpdate, fk.OnDelete)
}

// makeTableSchema 编译完整建表语句。列按声明顺序排列，
// 外键约束跟在全部列之后，保持所属列的相对顺序
func makeTableSchema(table string, fields []FieldDefinition) (string, error) {
	clauses := make([]string, 0, len(fields))
	for i := range fields {
		clause, err := makeFieldSchema(&fields[i])
		if err != nil {
			return "", err
		}
		clauses = append(clauses, "    "+clause)
	}
	for i := range fields {
		if fields[i].ForeignKey != nil {
			clauses = append(clauses, "    "+makeForeignKeySchema(&fields[i]))
		}
	}
	return fmt.Sprintf(schemaTemplate, table, strings.Join(clauses, ",\n")), nil
}

// primaryKeyPattern 匹配 "<列名> <类型> PRIMARY KEY"，大小写和空白不敏感
var primaryKeyPattern = regexp.MustCompile(`(?i)(\w+)\s+\w+\s+PRIMARY\s+KEY`)

// GetPrimaryKey 从建表语句文本中解析主键列名，没有主键时返回空串。
// 调用方也可以传入自定义的建表语句，所以从文本解析而不是从结构推导
func GetPrimaryKey(schema string) string {
	match := primaryKeyPattern.FindStringSubmatch(schema)
	if match == nil {
		return ""
	}
	return match[1]
}
