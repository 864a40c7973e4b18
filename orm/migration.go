package orm

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// GenerateMigrationScript 对比同一记录类型的新旧表模型，生成迁移脚本。
//
// 删除的字段逐个生成 DROP COLUMN，新增的字段逐个生成 ADD COLUMN，
// 共同字段只要有一个渲染出的列定义发生变化，就整表重建：把现有表改名让位，
// 按新模型重建原表名，拷贝新旧共有列的数据，最后丢弃改名后的旧表。
// 目标引擎的 ALTER 方言不支持原地修改列类型，所以哪怕只变了一列也要全量重建。
//
// 返回的脚本是所有语句的拼接，调用方负责在事务中执行
func GenerateMigrationScript(old, new *TableModel, originalTablename string, newTablename string) (string, error) {
	var scripts []string

	tablename := originalTablename
	if newTablename != "" && newTablename != originalTablename {
		scripts = append(scripts, fmt.Sprintf("ALTER TABLE %s RENAME TO %s;", originalTablename, newTablename))
		tablename = newTablename
	}

	// 旧有新无：删列
	for i := range old.Fields {
		if _, ok := new.fieldIndex[old.Fields[i].Name]; !ok {
			scripts = append(scripts, fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s;", tablename, old.Fields[i].Name))
		}
	}

	// 新有旧无：加列。唯一列没有可靠的回填值，主键无法事后追加，
	// 必填且无默认值的列无法满足已有行，这三类都拒绝生成脚本
	for i := range new.Fields {
		field := &new.Fields[i]
		if _, ok := old.fieldIndex[field.Name]; ok {
			continue
		}

		if field.Unique {
			return "", errors.Wrapf(ErrMigration,
				"cannot process %q because it's marked as unique", field.Name)
		}
		if field.Primary {
			return "", errors.Wrapf(ErrMigration,
				"cannot process %q because it's marked as primary key", field.Name)
		}
		if field.Required && field.Default == nil && !field.Auto {
			return "", errors.Wrapf(ErrMigration,
				"cannot script a \"not null\" field without default value in field %q", field.Name)
		}

		fieldSchema, err := makeFieldSchema(field)
		if err != nil {
			return "", err
		}
		scripts = append(scripts, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s;", tablename, fieldSchema))
	}

	// 新旧都有：对比渲染后的列定义文本
	alterFields := false
	for i := range new.Fields {
		field := &new.Fields[i]
		oldIdx, ok := old.fieldIndex[field.Name]
		if !ok {
			continue
		}

		oldSchema, err := makeFieldSchema(&old.Fields[oldIdx])
		if err != nil {
			return "", err
		}
		newSchema, err := makeFieldSchema(field)
		if err != nil {
			return "", err
		}
		if oldSchema != newSchema {
			alterFields = true
			break
		}
	}

	if alterFields {
		rebuilt, err := makeTableSchema(tablename, new.Fields)
		if err != nil {
			return "", err
		}

		// 只拷贝新旧共有的列
		var common []string
		for i := range new.Fields {
			if _, ok := old.fieldIndex[new.Fields[i].Name]; ok {
				common = append(common, new.Fields[i].Name)
			}
		}
		cols := strings.Join(common, ", ")

		scripts = append(scripts, strings.Join([]string{
			fmt.Sprintf("ALTER TABLE %s RENAME TO _%s;", tablename, tablename),
			"",
			rebuilt,
			"",
			fmt.Sprintf("INSERT INTO %s (%s)", tablename, cols),
			fmt.Sprintf("  SELECT %s", cols),
			fmt.Sprintf("  FROM _%s;", tablename),
			"",
			fmt.Sprintf("DROP TABLE _%s;", tablename),
		}, "\n"))
	}

	return strings.Join(scripts, "\n\n"), nil
}
