package orm

import (
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// FieldType 字段逻辑类型
type FieldType string

const (
	FieldTypeInteger   FieldType = "integer"
	FieldTypeReal      FieldType = "real"
	FieldTypeText      FieldType = "text"
	FieldTypeBoolean   FieldType = "boolean"
	FieldTypeTimestamp FieldType = "timestamp"
	FieldTypeDate      FieldType = "date"
	FieldTypeTime      FieldType = "time"
	FieldTypeBinary    FieldType = "binary"
)

// fieldTypeMapping 逻辑类型到 SQL 类型的固定映射
var fieldTypeMapping = map[FieldType]string{
	FieldTypeInteger:   "INTEGER",
	FieldTypeReal:      "REAL",
	FieldTypeText:      "TEXT",
	FieldTypeBoolean:   "INTEGER",
	FieldTypeTimestamp: "DATETIME",
	FieldTypeDate:      "DATE",
	FieldTypeTime:      "TIME",
	FieldTypeBinary:    "BLOB",
}

// 外键动作
const (
	FKNoAction   = "NO ACTION"
	FKRestrict   = "RESTRICT"
	FKSetNull    = "SET NULL"
	FKSetDefault = "SET DEFAULT"
	FKCascade    = "CASCADE"
)

var foreignKeyActions = map[string]string{
	"no_action":   FKNoAction,
	"no action":   FKNoAction,
	"noaction":    FKNoAction,
	"restrict":    FKRestrict,
	"set_null":    FKSetNull,
	"set null":    FKSetNull,
	"set_default": FKSetDefault,
	"set default": FKSetDefault,
	"cascade":     FKCascade,
}

// ForeignKeyDefinition 外键定义
type ForeignKeyDefinition struct {
	References string // 目标表名
	Column     string // 目标列名
	OnDelete   string
	OnUpdate   string
}

// FieldDefinition 字段定义，每个声明字段对应一个
type FieldDefinition struct {
	Name       string
	Type       FieldType
	Required   bool
	Default    any
	Primary    bool
	Unique     bool
	Auto       bool
	ForeignKey *ForeignKeyDefinition

	index int // 结构体字段下标
}

// SQLType 返回字段对应的 SQL 类型
func (f *FieldDefinition) SQLType() string {
	return fieldTypeMapping[f.Type]
}

// TableModel 表模型，每个记录类型首次使用时推导一次，之后只读
type TableModel struct {
	Table      string
	Fields     []FieldDefinition
	PrimaryKey string // 解析出的主键列名，空串表示使用隐式 rowid
	Schema     string // 编译后的建表语句

	typ        reflect.Type
	modelIndex int            // 内嵌 orm.Model 的字段下标
	fieldIndex map[string]int // 列名到 Fields 下标
}

// Columns 按声明顺序返回全部列名
func (m *TableModel) Columns() []string {
	columns := make([]string, 0, len(m.Fields))
	for i := range m.Fields {
		columns = append(columns, m.Fields[i].Name)
	}
	return columns
}

// Field 按列名查找字段定义
func (m *TableModel) Field(name string) (*FieldDefinition, bool) {
	idx, ok := m.fieldIndex[name]
	if !ok {
		return nil, false
	}
	return &m.Fields[idx], true
}

// ValidateKeys 校验等值条件的键都是已声明的列
func (m *TableModel) ValidateKeys(kws map[string]any) error {
	for key := range kws {
		if _, ok := m.fieldIndex[key]; !ok {
			return errors.Wrapf(ErrUnknownColumn,
				"%q is not a field of the %q table and cannot be used in queries", key, m.Table)
		}
	}
	return nil
}

var modelType = reflect.TypeOf(Model{})

// TableModelBuilder 表模型构建器
type TableModelBuilder struct{}

// NewTableModelBuilder 创建新的表模型构建器
func NewTableModelBuilder() *TableModelBuilder {
	return &TableModelBuilder{}
}

// rawFieldTag 标签解析的中间结果，类型确定后再解析默认值
type rawFieldTag struct {
	name       string
	typ        string
	primary    []string // 出现过的主键标记，用于检测重复同义词
	auto       bool
	unique     bool
	required   bool
	defaultRaw string
	hasDefault bool
	references string
	fkColumn   string
	onDelete   string
	onUpdate   string
}

// FromStruct 从结构体推导 TableModel
//
// 支持的 tag 格式：
//   - `orm:"column_name,primary,auto,unique,required,type=text,default=v"`
//   - `orm:"column_name,references=users,fk=id,on_delete=CASCADE,on_update=RESTRICT"`
//   - `orm:"-"` 跳过该字段
func (b *TableModelBuilder) FromStruct(v any) (*TableModel, error) {
	rt := reflect.TypeOf(v)
	if rt != nil && rt.Kind() == reflect.Ptr {
		rt = rt.Elem()
	}
	if rt == nil || rt.Kind() != reflect.Struct {
		return nil, errors.Wrapf(ErrModelIntegrity, "expected struct, got %T", v)
	}

	model := &TableModel{
		Table:      tableName(v, rt),
		typ:        rt,
		modelIndex: -1,
		fieldIndex: map[string]int{},
	}

	var primaryField string
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if field.Anonymous && field.Type == modelType {
			model.modelIndex = i
			continue
		}
		if !field.IsExported() {
			continue
		}

		tag := field.Tag.Get("orm")
		if tag == "-" {
			continue
		}

		fieldDef, err := b.resolveField(rt, field, tag)
		if err != nil {
			return nil, err
		}
		fieldDef.index = i

		if fieldDef.Primary {
			if primaryField != "" {
				return nil, errors.Wrapf(ErrModelIntegrity,
					"model %q declares more than one primary key: %q and %q",
					rt.Name(), primaryField, fieldDef.Name)
			}
			primaryField = fieldDef.Name
		}
		if _, exists := model.fieldIndex[fieldDef.Name]; exists {
			return nil, errors.Wrapf(ErrModelIntegrity,
				"model %q declares column %q more than once", rt.Name(), fieldDef.Name)
		}

		model.fieldIndex[fieldDef.Name] = len(model.Fields)
		model.Fields = append(model.Fields, *fieldDef)
	}

	if model.modelIndex < 0 {
		return nil, errors.Wrapf(ErrModelIntegrity, "model %q must embed orm.Model", rt.Name())
	}
	if len(model.Fields) == 0 {
		return nil, errors.Wrapf(ErrModelIntegrity, "model %q declares no fields", rt.Name())
	}

	schema, err := makeTableSchema(model.Table, model.Fields)
	if err != nil {
		return nil, err
	}
	model.Schema = schema
	model.PrimaryKey = GetPrimaryKey(schema)

	return model, nil
}

// resolveField 把一个字段的声明类型和标签归一化为 FieldDefinition
func (b *TableModelBuilder) resolveField(rt reflect.Type, field reflect.StructField, tag string) (*FieldDefinition, error) {
	raw, err := parseFieldTag(rt, field, tag)
	if err != nil {
		return nil, err
	}

	fieldDef := &FieldDefinition{
		Name:    raw.name,
		Primary: len(raw.primary) == 1,
		Auto:    raw.auto,
		Unique:  raw.unique,
	}

	// 确定逻辑类型：标签覆盖优先，否则按 Go 类型推断
	if raw.typ != "" {
		typ := FieldType(raw.typ)
		if _, ok := fieldTypeMapping[typ]; !ok {
			return nil, errors.Wrapf(ErrUnsupportedFieldType,
				"field %q of model %q has unsupported type %q", field.Name, rt.Name(), raw.typ)
		}
		fieldDef.Type = typ
	} else {
		typ, ok := inferFieldType(field.Type)
		if !ok {
			return nil, errors.Wrapf(ErrUnsupportedFieldType,
				"field %q of model %q is of unsupported type %q", field.Name, rt.Name(), field.Type)
		}
		fieldDef.Type = typ
	}

	if raw.hasDefault {
		def, err := parseDefaultValue(raw.defaultRaw, fieldDef.Type)
		if err != nil {
			return nil, errors.Wrapf(ErrModelIntegrity,
				"field %q of model %q has default value %q incompatible with type %q",
				field.Name, rt.Name(), raw.defaultRaw, fieldDef.Type)
		}
		fieldDef.Default = def
	}

	// unique 和 default 互斥
	if fieldDef.Unique && fieldDef.Default != nil {
		return nil, errors.Wrapf(ErrModelIntegrity,
			"field %q of model %q cannot be unique and have a default value", field.Name, rt.Name())
	}

	// 自动生成只对整型主键（自增）和日期时间类型（当前值）有意义
	if fieldDef.Auto {
		switch fieldDef.Type {
		case FieldTypeInteger, FieldTypeDate, FieldTypeTime, FieldTypeTimestamp:
		default:
			return nil, errors.Wrapf(ErrUnsupportedAutoField,
				"field %q of model %q with type %q cannot be auto generated",
				field.Name, rt.Name(), fieldDef.Type)
		}
	}

	// 必填性：指针、默认值和自动生成都意味着调用方可以不提供值。
	// 主键自增时数据库生成主键，同样不要求调用方提供
	if raw.required {
		fieldDef.Required = true
	} else {
		fieldDef.Required = field.Type.Kind() != reflect.Ptr && fieldDef.Default == nil && !fieldDef.Auto
	}
	if fieldDef.Primary && fieldDef.Auto {
		fieldDef.Required = false
	}

	if raw.references != "" {
		fk, err := resolveForeignKey(rt, field, raw)
		if err != nil {
			return nil, err
		}
		fieldDef.ForeignKey = fk
	} else if raw.fkColumn != "" || raw.onDelete != "" || raw.onUpdate != "" {
		return nil, errors.Wrapf(ErrModelIntegrity,
			"field %q of model %q declares foreign key attributes without references", field.Name, rt.Name())
	}

	return fieldDef, nil
}

func resolveForeignKey(rt reflect.Type, field reflect.StructField, raw *rawFieldTag) (*ForeignKeyDefinition, error) {
	if raw.fkColumn == "" {
		return nil, errors.Wrapf(ErrModelIntegrity,
			"foreign key on field %q of model %q requires a target column (fk=...)", field.Name, rt.Name())
	}

	fk := &ForeignKeyDefinition{
		References: raw.references,
		Column:     raw.fkColumn,
		OnDelete:   FKNoAction,
		OnUpdate:   FKNoAction,
	}
	if raw.onDelete != "" {
		action, ok := foreignKeyActions[strings.ToLower(raw.onDelete)]
		if !ok {
			return nil, errors.Wrapf(ErrModelIntegrity,
				"field %q of model %q has invalid on_delete action %q", field.Name, rt.Name(), raw.onDelete)
		}
		fk.OnDelete = action
	}
	if raw.onUpdate != "" {
		action, ok := foreignKeyActions[strings.ToLower(raw.onUpdate)]
		if !ok {
			return nil, errors.Wrapf(ErrModelIntegrity,
				"field %q of model %q has invalid on_update action %q", field.Name, rt.Name(), raw.onUpdate)
		}
		fk.OnUpdate = action
	}
	return fk, nil
}

// parseFieldTag 解析字段的 orm tag
func parseFieldTag(rt reflect.Type, field reflect.StructField, tag string) (*rawFieldTag, error) {
	raw := &rawFieldTag{
		name: strings.ToLower(field.Name),
	}
	if tag == "" {
		return raw, nil
	}

	parts := strings.Split(tag, ",")
	if parts[0] != "" && !strings.Contains(parts[0], "=") {
		raw.name = parts[0]
		parts = parts[1:]
	}

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if kv := strings.SplitN(part, "=", 2); len(kv) == 2 {
			key := strings.ToLower(strings.TrimSpace(kv[0]))
			value := strings.TrimSpace(kv[1])

			switch key {
			case "type":
				raw.typ = strings.ToLower(value)
			case "default":
				raw.defaultRaw = value
				raw.hasDefault = true
			case "references":
				raw.references = value
			case "fk":
				raw.fkColumn = value
			case "on_delete":
				raw.onDelete = value
			case "on_update":
				raw.onUpdate = value
			default:
				return nil, errors.Wrapf(ErrModelIntegrity,
					"field %q of model %q has unknown tag key %q", field.Name, rt.Name(), key)
			}
			continue
		}

		switch strings.ToLower(part) {
		// 历史上主键标记存在多个同义词，同一字段只允许出现一个
		case "primary", "primary_key", "pk":
			raw.primary = append(raw.primary, strings.ToLower(part))
		case "auto":
			raw.auto = true
		case "unique":
			raw.unique = true
		case "required", "not_null":
			raw.required = true
		default:
			return nil, errors.Wrapf(ErrModelIntegrity,
				"field %q of model %q has unknown tag flag %q", field.Name, rt.Name(), part)
		}
	}

	if len(raw.primary) > 1 {
		return nil, errors.Wrapf(ErrModelIntegrity,
			"field %q of model %q declares more than one primary key marker: %s",
			field.Name, rt.Name(), strings.Join(raw.primary, ", "))
	}

	return raw, nil
}

var timeType = reflect.TypeOf(time.Time{})

// inferFieldType 从 Go 类型推断逻辑类型
func inferFieldType(t reflect.Type) (FieldType, bool) {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == timeType {
		return FieldTypeTimestamp, true
	}

	switch t.Kind() {
	case reflect.String:
		return FieldTypeText, true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return FieldTypeInteger, true
	case reflect.Float32, reflect.Float64:
		return FieldTypeReal, true
	case reflect.Bool:
		return FieldTypeBoolean, true
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return FieldTypeBinary, true
		}
	}
	return "", false
}

// parseDefaultValue 按逻辑类型解析标签里的默认值，
// 值和类型不匹配时报错而不是退化成零值
func parseDefaultValue(value string, fieldType FieldType) (any, error) {
	switch fieldType {
	case FieldTypeInteger:
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, errors.Errorf("%q is not a valid integer default", value)
		}
		return i, nil
	case FieldTypeReal:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, errors.Errorf("%q is not a valid real default", value)
		}
		return f, nil
	case FieldTypeBoolean:
		switch strings.ToLower(value) {
		case "true", "1":
			return true, nil
		case "false", "0":
			return false, nil
		}
		return nil, errors.Errorf("%q is not a valid boolean default", value)
	case FieldTypeText:
		if len(value) >= 2 && (value[0] == '\'' || value[0] == '"') && value[len(value)-1] == value[0] {
			return value[1 : len(value)-1], nil
		}
		return value, nil
	case FieldTypeBinary:
		return []byte(value), nil
	default:
		// 日期时间类型保留字面量，渲染时不加引号
		return value, nil
	}
}

// tableName 表名默认为类型名的小写形式，实现 Table 接口可以覆盖
func tableName(v any, rt reflect.Type) string {
	if t, ok := v.(Table); ok {
		return t.Table()
	}
	return strings.ToLower(rt.Name())
}

// tableModels 每个记录类型的模型缓存。推导是纯函数，
// 并发首次访问时重复计算是安全的，以先存入的为准
var tableModels sync.Map

// TableModelOf 返回记录类型对应的表模型，首次调用时推导并缓存
func TableModelOf(v any) (*TableModel, error) {
	rt := reflect.TypeOf(v)
	if rt != nil && rt.Kind() == reflect.Ptr {
		rt = rt.Elem()
	}
	if rt == nil {
		return nil, errors.Wrapf(ErrModelIntegrity, "expected struct, got %T", v)
	}

	if cached, ok := tableModels.Load(rt); ok {
		return cached.(*TableModel), nil
	}

	model, err := NewTableModelBuilder().FromStruct(v)
	if err != nil {
		return nil, err
	}

	actual, _ := tableModels.LoadOrStore(rt, model)
	return actual.(*TableModel), nil
}

// instance 把实例解引用成可寻址的结构体值
func (m *TableModel) instance(obj any) (reflect.Value, error) {
	rv := reflect.ValueOf(obj)
	if rv.Kind() != reflect.Ptr || rv.IsNil() || rv.Elem().Type() != m.typ {
		return reflect.Value{}, errors.Wrapf(ErrBadQuery, "expected *%s, got %T", m.typ.Name(), obj)
	}
	return rv.Elem(), nil
}

// base 返回实例内嵌的 orm.Model
func (m *TableModel) base(obj any) (*Model, error) {
	rv, err := m.instance(obj)
	if err != nil {
		return nil, err
	}
	return rv.Field(m.modelIndex).Addr().Interface().(*Model), nil
}

// Values 按声明顺序提取实例的全部列值
func (m *TableModel) Values(obj any) ([]any, error) {
	rv, err := m.instance(obj)
	if err != nil {
		return nil, err
	}

	values := make([]any, 0, len(m.Fields))
	for i := range m.Fields {
		values = append(values, rv.Field(m.Fields[i].index).Interface())
	}
	return values, nil
}

// InstanceRowID 返回实例携带的隐藏 rowid
func (m *TableModel) InstanceRowID(obj any) (int64, bool) {
	base, err := m.base(obj)
	if err != nil {
		return 0, false
	}
	return base.RowID()
}

// PrimaryValue 返回实例的主键值，没有声明主键或主键为零值时第二个返回值为 false。
// Go 的结构体字段无法区分"未赋值"和零值，主键恰好为零值的记录
// 通过 rowid 定位，查询返回的实例都带有 rowid
func (m *TableModel) PrimaryValue(obj any) (any, bool) {
	if m.PrimaryKey == "" {
		return nil, false
	}
	rv, err := m.instance(obj)
	if err != nil {
		return nil, false
	}

	field := rv.Field(m.Fields[m.fieldIndex[m.PrimaryKey]].index)
	if field.IsZero() {
		return nil, false
	}
	return field.Interface(), true
}
