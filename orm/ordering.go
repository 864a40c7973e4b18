package orm

import (
	"strings"

	"github.com/pkg/errors"
)

// ValidateOrdering 校验排序条件并规范化为 "column ASC|DESC" 子句列表。
// 键必须是已声明的列，方向大小写不敏感。
// 为保证生成的查询文本确定，子句按列名排序
func ValidateOrdering(model *TableModel, orderBy map[string]string) ([]string, error) {
	clauses := make([]string, 0, len(orderBy))
	for _, column := range sortedKeys(orderBy) {
		if _, ok := model.Field(column); !ok {
			return nil, errors.Wrapf(ErrUnknownColumn, "%q is not a valid column name", column)
		}

		direction := strings.ToUpper(orderBy[column])
		if direction != "ASC" && direction != "DESC" {
			return nil, errors.Wrapf(ErrInvalidOrdering,
				"%q value %q is invalid, must be either \"asc\" or \"desc\" (case insensitive)",
				column, orderBy[column])
		}
		clauses = append(clauses, column+" "+direction)
	}
	return clauses, nil
}
