package engine

import (
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

// EngineOptions 引擎初始化选项
type EngineOptions struct {
	// Driver 数据库驱动，目前只支持 sqlite3
	Driver string `cfg:"driver" def:"sqlite3" yaml:"driver" toml:"driver" ini:"driver" validate:"omitempty,oneof=sqlite3"`

	// Database 数据库文件路径，内存库使用 ":memory:"
	Database string `cfg:"database" yaml:"database" toml:"database" ini:"database" validate:"required"`

	// EnableForeignKeys 是否开启外键约束检查
	EnableForeignKeys bool `cfg:"enableForeignKeys" yaml:"enableForeignKeys" toml:"enableForeignKeys" ini:"enableForeignKeys"`

	// MaxConns 最大连接数
	MaxConns int `cfg:"maxConns" def:"10" yaml:"maxConns" toml:"maxConns" ini:"maxConns" validate:"omitempty,min=1"`

	// MaxIdle 最大空闲连接数
	MaxIdle int `cfg:"maxIdle" def:"5" yaml:"maxIdle" toml:"maxIdle" ini:"maxIdle" validate:"omitempty,min=1"`
}

// SetDefaults 为选项结构体设置默认值，基于 def tag。
// 只有零值字段会被填充
func SetDefaults(object any) error {
	if object == nil {
		return errors.New("object cannot be nil")
	}

	rv := reflect.ValueOf(object)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return errors.New("object must be a non-nil pointer")
	}
	rv = rv.Elem()
	if rv.Kind() != reflect.Struct {
		return nil
	}

	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		fieldValue := rv.Field(i)
		if !fieldValue.CanSet() {
			continue
		}

		if fieldValue.Kind() == reflect.Struct {
			if err := SetDefaults(fieldValue.Addr().Interface()); err != nil {
				return err
			}
			continue
		}

		defTag := field.Tag.Get("def")
		if defTag == "" || !fieldValue.IsZero() {
			continue
		}

		switch fieldValue.Kind() {
		case reflect.String:
			fieldValue.SetString(defTag)
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			v, err := strconv.ParseInt(defTag, 10, 64)
			if err != nil {
				return errors.Wrapf(err, "failed to set default value for field %s", field.Name)
			}
			fieldValue.SetInt(v)
		case reflect.Bool:
			v, err := strconv.ParseBool(defTag)
			if err != nil {
				return errors.Wrapf(err, "failed to set default value for field %s", field.Name)
			}
			fieldValue.SetBool(v)
		case reflect.Float32, reflect.Float64:
			v, err := strconv.ParseFloat(defTag, 64)
			if err != nil {
				return errors.Wrapf(err, "failed to set default value for field %s", field.Name)
			}
			fieldValue.SetFloat(v)
		default:
			return errors.Errorf("unsupported default value kind %s for field %s", fieldValue.Kind(), field.Name)
		}
	}
	return nil
}

// ValidateStruct 使用 validator 校验选项结构体
func ValidateStruct(object any) error {
	if object == nil {
		return nil
	}
	return validator.New().Struct(object)
}

// LoadEngineOptionsFromFile 从配置文件加载引擎选项，按扩展名选择解码器，
// 支持 yaml / toml / ini，随后填充默认值并校验
func LoadEngineOptionsFromFile(path string) (*EngineOptions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read options file %s", path)
	}

	options := &EngineOptions{}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, options); err != nil {
			return nil, errors.Wrapf(err, "failed to decode YAML options from %s", path)
		}
	case ".toml":
		if err := toml.Unmarshal(data, options); err != nil {
			return nil, errors.Wrapf(err, "failed to decode TOML options from %s", path)
		}
	case ".ini":
		cfg, err := ini.Load(data)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to decode INI options from %s", path)
		}
		if err := cfg.Section("").MapTo(options); err != nil {
			return nil, errors.Wrapf(err, "failed to map INI options from %s", path)
		}
	default:
		return nil, errors.Errorf("unsupported options file extension %q", ext)
	}

	if err := SetDefaults(options); err != nil {
		return nil, err
	}
	if err := ValidateStruct(options); err != nil {
		return nil, errors.WithMessagef(err, "invalid options in %s", path)
	}
	return options, nil
}
