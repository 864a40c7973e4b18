package orm

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// 本文件的 ForXxx 系列函数为每种 CRUD 操作构造参数化查询，
// 返回 SQL 文本和按占位符顺序排列的绑定值。函数都是纯函数，
// 不触碰共享状态，可以被任意多个调用方并发使用。
//
// 列名在进入这里之前已经通过 ValidateKeys 按照已知字段集校验过，
// 可以安全拼接进 SQL 文本；值永远只通过占位符绑定。
// 等值条件以 map 形式传入，为保证同样的输入生成同样的文本，
// 所有 map 驱动的拼接都按键排序。

// sortedKeys 返回按字典序排序的键列表
func sortedKeys[V any](kws map[string]V) []string {
	keys := make([]string, 0, len(kws))
	for key := range kws {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// whereClause 把等值条件渲染成 "(c1 = ? AND c2 = ?)" 和对应的值序列
func whereClause(kws map[string]any) (string, []any) {
	keys := sortedKeys(kws)
	conditions := make([]string, 0, len(keys))
	vals := make([]any, 0, len(keys))
	for _, key := range keys {
		conditions = append(conditions, key+" = ?")
		vals = append(vals, kws[key])
	}
	return "(" + strings.Join(conditions, " AND ") + ")", vals
}

// ForInsert 构造插入查询
//
// ignore 为 true 时冲突被静默忽略，不返回任何行即是冲突发生的信号；
// 为 false 时冲突由执行层映射为 ErrQueryExecution。
// returning 为 true 时查询返回插入的整行
func ForInsert(table string, ignore bool, returning bool, kws map[string]any) (string, []any, error) {
	if len(kws) == 0 {
		return "", nil, errors.Wrapf(ErrBadQuery, "insert into %q requires at least one column", table)
	}

	keys := sortedKeys(kws)
	vals := make([]any, 0, len(keys))
	for _, key := range keys {
		vals = append(vals, kws[key])
	}

	q := "INSERT "
	if ignore {
		q = "INSERT OR IGNORE "
	}
	q += fmt.Sprintf("INTO %s (%s) VALUES (%s)", table, strings.Join(keys, ", "), placeholders(len(keys)))
	if returning {
		q += " RETURNING *"
	}
	return q + ";", vals, nil
}

// ForGetOrNone 构造单行等值查询，空条件没有意义，直接拒绝
func ForGetOrNone(table string, kws map[string]any) (string, []any, error) {
	if len(kws) == 0 {
		return "", nil, errors.Wrapf(ErrBadQuery, "lookup in %q requires at least one condition", table)
	}

	where, vals := whereClause(kws)
	q := fmt.Sprintf("SELECT rowid, * FROM %s WHERE %s LIMIT 1;", table, where)
	return q, vals, nil
}

// ForGetMany 构造多行等值查询，支持可选的排序和条数限制。
// 排序列必须是已声明的列，方向大小写不敏感，统一规范化为大写；
// limit 小于 0 视为非法，0 表示不限制
func ForGetMany(model *TableModel, kws map[string]any, orderBy map[string]string, limit int) (string, []any, error) {
	var vals []any
	q := fmt.Sprintf("SELECT rowid, * FROM %s", model.Table)

	if len(kws) > 0 {
		where, whereVals := whereClause(kws)
		q += " WHERE " + where
		vals = append(vals, whereVals...)
	}

	if len(orderBy) > 0 {
		clauses, err := ValidateOrdering(model, orderBy)
		if err != nil {
			return "", nil, err
		}
		q += " ORDER BY " + strings.Join(clauses, ", ")
	}

	switch {
	case limit < 0:
		return "", nil, errors.Wrapf(ErrBadQuery, "limit must be a positive integer, got %d", limit)
	case limit > 0:
		q += " LIMIT ?"
		vals = append(vals, limit)
	}

	return q + ";", vals, nil
}

// ForSaveOne 构造单实例保存查询。实例携带 rowid 时精确更新那一行，
// 否则退化为 INSERT OR REPLACE
func ForSaveOne(model *TableModel, obj any) (string, []any, error) {
	vals, err := model.Values(obj)
	if err != nil {
		return "", nil, err
	}

	columns := model.Columns()
	if rowid, ok := model.InstanceRowID(obj); ok {
		assignments := make([]string, 0, len(columns))
		for _, column := range columns {
			assignments = append(assignments, column+" = ?")
		}
		q := fmt.Sprintf("UPDATE %s SET %s WHERE rowid = ?;", model.Table, strings.Join(assignments, ", "))
		return q, append(vals, rowid), nil
	}

	q := fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) VALUES (%s);",
		model.Table, strings.Join(columns, ", "), placeholders(len(columns)))
	return q, vals, nil
}

// ForSaveMany 构造批量保存查询，所有实例共享同一条语句，
// 返回每个实例一组的绑定值序列
func ForSaveMany(model *TableModel, objs []any) (string, [][]any, error) {
	if len(objs) == 0 {
		return "", nil, errors.Wrapf(ErrBadQuery, "to save many, pass at least one object")
	}

	columns := model.Columns()
	q := fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) VALUES (%s);",
		model.Table, strings.Join(columns, ", "), placeholders(len(columns)))

	valsPerObj := make([][]any, 0, len(objs))
	for _, obj := range objs {
		vals, err := model.Values(obj)
		if err != nil {
			return "", nil, err
		}
		valsPerObj = append(valsPerObj, vals)
	}
	return q, valsPerObj, nil
}

// ForDeleteOne 构造单实例删除查询，按可用的标识逐级降级：
// 声明主键按主键等值删除；已知 rowid 按 rowid 删除；
// 否则按全列等值匹配删除，此时存在完全相同的重复行会一并删除，
// 这是该回退路径的预期行为
func ForDeleteOne(model *TableModel, obj any) (string, []any, error) {
	if model.PrimaryKey != "" {
		rv, err := instanceField(model, obj, model.PrimaryKey)
		if err != nil {
			return "", nil, err
		}
		q := fmt.Sprintf("DELETE FROM %s WHERE %s = ?;", model.Table, model.PrimaryKey)
		return q, []any{rv}, nil
	}

	if rowid, ok := model.InstanceRowID(obj); ok {
		q := fmt.Sprintf("DELETE FROM %s WHERE rowid = ?;", model.Table)
		return q, []any{rowid}, nil
	}

	vals, err := model.Values(obj)
	if err != nil {
		return "", nil, err
	}
	conditions := make([]string, 0, len(model.Fields))
	for _, column := range model.Columns() {
		conditions = append(conditions, column+" = ?")
	}
	q := fmt.Sprintf("DELETE FROM %s WHERE (%s);", model.Table, strings.Join(conditions, " AND "))
	return q, vals, nil
}

// ForDeleteMany 构造批量删除查询。全部实例都携带 rowid 时按 rowid IN 删除；
// 否则在声明了主键且每个实例的主键都已填充时按主键 IN 删除；
// 两者都不满足时无法安全定位行，拒绝执行。
// 零值主键视为未填充，这样的记录必须携带 rowid 才能参与批量删除，
// 查询返回的实例都满足这一点
func ForDeleteMany(model *TableModel, objs []any) (string, []any, error) {
	if len(objs) == 0 {
		return "", nil, errors.Wrapf(ErrBadQuery, "to delete many, pass at least one object")
	}

	rowids := make([]any, 0, len(objs))
	for _, obj := range objs {
		rowid, ok := model.InstanceRowID(obj)
		if !ok {
			rowids = nil
			break
		}
		rowids = append(rowids, rowid)
	}
	if rowids != nil {
		q := fmt.Sprintf("DELETE FROM %s WHERE rowid IN (%s);", model.Table, placeholders(len(rowids)))
		return q, rowids, nil
	}

	if model.PrimaryKey != "" {
		pks := make([]any, 0, len(objs))
		for _, obj := range objs {
			pk, ok := model.PrimaryValue(obj)
			if !ok {
				return "", nil, errors.Wrapf(ErrBadQuery,
					"objects require either a primary key or the rowid set for mass deletion")
			}
			pks = append(pks, pk)
		}
		q := fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s);", model.Table, model.PrimaryKey, placeholders(len(pks)))
		return q, pks, nil
	}

	return "", nil, errors.Wrapf(ErrBadQuery,
		"objects require either a primary key or the rowid set for mass deletion")
}

// ForCount 构造计数查询，column 为 "*" 时统计全部行，
// 否则统计该列非空值的行数，列必须是已声明的列
func ForCount(model *TableModel, column string, kws map[string]any) (string, []any, error) {
	if column != "*" {
		if _, ok := model.Field(column); !ok {
			return "", nil, errors.Wrapf(ErrBadQuery,
				"%q is not a field of the %q table", column, model.Table)
		}
	}

	var vals []any
	q := fmt.Sprintf("SELECT COUNT(%s) AS total_count FROM %s", column, model.Table)
	if len(kws) > 0 {
		where, whereVals := whereClause(kws)
		q += " WHERE " + where
		vals = whereVals
	}
	return q + ";", vals, nil
}

// placeholders 生成 n 个逗号分隔的占位符
func placeholders(n int) string {
	marks := make([]string, n)
	for i := range marks {
		marks[i] = "?"
	}
	return strings.Join(marks, ", ")
}

// instanceField 读取实例上指定列的值
func instanceField(model *TableModel, obj any, column string) (any, error) {
	rv, err := model.instance(obj)
	if err != nil {
		return nil, err
	}
	return rv.Field(model.Fields[model.fieldIndex[column]].index).Interface(), nil
}
