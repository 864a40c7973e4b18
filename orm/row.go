package orm

import (
	"reflect"
	"time"

	"github.com/pkg/errors"
)

// Populate 用一行查询结果填充记录实例并恢复隐藏的 rowid 属性。
//
// row 是按声明字段顺序排列的列值序列。rowid 显式传入时（插入路径，
// 引擎报告的行号是权威值）row 只包含列值；否则 row 的第一个值被消费为
// rowid，其余按顺序对应各字段
func (m *TableModel) Populate(obj any, row []any, rowid *int64) error {
	base, err := m.base(obj)
	if err != nil {
		return err
	}

	var id int64
	if rowid != nil {
		id = *rowid
	} else {
		if len(row) == 0 {
			return errors.Wrapf(ErrBadQuery, "row for %q is missing the rowid column", m.Table)
		}
		v, ok := row[0].(int64)
		if !ok {
			return errors.Wrapf(ErrBadQuery, "rowid of %q is %T, expected int64", m.Table, row[0])
		}
		id = v
		row = row[1:]
	}

	if len(row) != len(m.Fields) {
		return errors.Wrapf(ErrBadQuery,
			"row for %q has %d values, expected %d", m.Table, len(row), len(m.Fields))
	}

	rv, err := m.instance(obj)
	if err != nil {
		return err
	}
	for i := range m.Fields {
		field := rv.Field(m.Fields[i].index)
		if err := setFieldValue(field, row[i]); err != nil {
			return errors.WithMessagef(err, "failed to set field %q of %q", m.Fields[i].Name, m.Table)
		}
	}

	base.SetRowID(id)
	return nil
}

// timeLayouts 驱动把日期时间列以文本返回时依次尝试的解析格式
var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
	"2006-01-02",
	"15:04:05",
}

// setFieldValue 把驱动返回的值转换后写入结构体字段。
// sqlite 驱动对 INTEGER 一律返回 int64，布尔和窄整型需要收窄，
// 文本列可能以 []byte 返回，日期时间列可能以文本返回
func setFieldValue(field reflect.Value, value any) error {
	if value == nil {
		field.SetZero()
		return nil
	}

	if field.Kind() == reflect.Ptr {
		if field.IsNil() {
			field.Set(reflect.New(field.Type().Elem()))
		}
		field = field.Elem()
	}

	if field.Type() == timeType {
		switch v := value.(type) {
		case time.Time:
			field.Set(reflect.ValueOf(v))
			return nil
		case []byte:
			value = string(v)
		}
		if s, ok := value.(string); ok {
			for _, layout := range timeLayouts {
				if t, err := time.Parse(layout, s); err == nil {
					field.Set(reflect.ValueOf(t))
					return nil
				}
			}
		}
		return errors.Wrapf(ErrBadQuery, "cannot convert %v (%T) to time.Time", value, value)
	}

	switch field.Kind() {
	case reflect.Bool:
		switch v := value.(type) {
		case bool:
			field.SetBool(v)
			return nil
		case int64:
			field.SetBool(v != 0)
			return nil
		}
	case reflect.String:
		switch v := value.(type) {
		case string:
			field.SetString(v)
			return nil
		case []byte:
			field.SetString(string(v))
			return nil
		}
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.Uint8 {
			if b, ok := value.([]byte); ok {
				field.SetBytes(append([]byte(nil), b...))
				return nil
			}
		}
	}

	valueType := reflect.TypeOf(value)
	if valueType.AssignableTo(field.Type()) {
		field.Set(reflect.ValueOf(value))
		return nil
	}
	if valueType.ConvertibleTo(field.Type()) {
		field.Set(reflect.ValueOf(value).Convert(field.Type()))
		return nil
	}

	return errors.Wrapf(ErrBadQuery, "cannot convert %v to %v", valueType, field.Type())
}
