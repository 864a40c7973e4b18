package orm

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

// 测试用的结构体
type TestUser struct {
	Model
	ID   int64  `orm:"id,primary,auto"`
	Name string `orm:"name,required"`
	Age  int    `orm:"age,default=0"`
}

type TestGuild struct {
	Model
	ID   int64  `orm:"id,pk"`
	Name string `orm:"name"`
}

type TestMember struct {
	Model
	ID      int64 `orm:"id,primary"`
	GuildID int64 `orm:"guild_id,references=guild,fk=id,on_delete=CASCADE,on_update=CASCADE"`
}

// TestCustomTable 测试自定义表名
type TestCustomTable struct {
	Model
	ID int64 `orm:"id,primary"`
}

func (TestCustomTable) Table() string {
	return "custom_table_name"
}

func TestTableModelBuilderFromStruct(t *testing.T) {
	Convey("测试 TableModelBuilder FromStruct 方法", t, func() {
		builder := NewTableModelBuilder()

		Convey("基本字段解析", func() {
			model, err := builder.FromStruct(&TestUser{})
			So(err, ShouldBeNil)
			So(model.Table, ShouldEqual, "testuser")
			So(model.Columns(), ShouldResemble, []string{"id", "name", "age"})
			So(model.PrimaryKey, ShouldEqual, "id")

			id, ok := model.Field("id")
			So(ok, ShouldBeTrue)
			So(id.Type, ShouldEqual, FieldTypeInteger)
			So(id.Primary, ShouldBeTrue)
			So(id.Auto, ShouldBeTrue)
			// 主键自增时数据库生成主键，字段不再必填
			So(id.Required, ShouldBeFalse)

			name, _ := model.Field("name")
			So(name.Type, ShouldEqual, FieldTypeText)
			So(name.Required, ShouldBeTrue)

			age, _ := model.Field("age")
			So(age.Default, ShouldEqual, int64(0))
			So(age.Required, ShouldBeFalse)
		})

		Convey("类型推断", func() {
			type TypedRecord struct {
				Model
				A string    `orm:"a"`
				B int       `orm:"b"`
				C float64   `orm:"c"`
				D bool      `orm:"d"`
				E time.Time `orm:"e"`
				F []byte    `orm:"f"`
				G time.Time `orm:"g,type=date"`
				H string    `orm:"h,type=time"`
			}
			model, err := builder.FromStruct(&TypedRecord{})
			So(err, ShouldBeNil)

			expect := map[string]FieldType{
				"a": FieldTypeText,
				"b": FieldTypeInteger,
				"c": FieldTypeReal,
				"d": FieldTypeBoolean,
				"e": FieldTypeTimestamp,
				"f": FieldTypeBinary,
				"g": FieldTypeDate,
				"h": FieldTypeTime,
			}
			for column, typ := range expect {
				field, ok := model.Field(column)
				So(ok, ShouldBeTrue)
				So(field.Type, ShouldEqual, typ)
			}
		})

		Convey("不支持的字段类型", func() {
			type BadTypeRecord struct {
				Model
				Data map[string]string `orm:"data"`
			}
			_, err := builder.FromStruct(&BadTypeRecord{})
			So(errors.Is(err, ErrUnsupportedFieldType), ShouldBeTrue)
			So(err.Error(), ShouldContainSubstring, "Data")
			So(err.Error(), ShouldContainSubstring, "BadTypeRecord")
		})

		Convey("多个主键字段", func() {
			type TwoPrimaryRecord struct {
				Model
				A int64 `orm:"a,primary"`
				B int64 `orm:"b,pk"`
			}
			_, err := builder.FromStruct(&TwoPrimaryRecord{})
			So(errors.Is(err, ErrModelIntegrity), ShouldBeTrue)
			So(err.Error(), ShouldContainSubstring, `"a"`)
			So(err.Error(), ShouldContainSubstring, `"b"`)
		})

		Convey("同一字段出现多个主键同义词", func() {
			type DoubleMarkerRecord struct {
				Model
				A int64 `orm:"a,primary,pk"`
			}
			_, err := builder.FromStruct(&DoubleMarkerRecord{})
			So(errors.Is(err, ErrModelIntegrity), ShouldBeTrue)
		})

		Convey("默认值与类型不匹配", func() {
			type BadIntDefault struct {
				Model
				A int `orm:"a,default=abc"`
			}
			type BadRealDefault struct {
				Model
				A float64 `orm:"a,default=fast"`
			}
			type BadBoolDefault struct {
				Model
				A bool `orm:"a,default=yes"`
			}
			_, err := builder.FromStruct(&BadIntDefault{})
			So(errors.Is(err, ErrModelIntegrity), ShouldBeTrue)
			So(err.Error(), ShouldContainSubstring, `"abc"`)

			_, err = builder.FromStruct(&BadRealDefault{})
			So(errors.Is(err, ErrModelIntegrity), ShouldBeTrue)

			_, err = builder.FromStruct(&BadBoolDefault{})
			So(errors.Is(err, ErrModelIntegrity), ShouldBeTrue)

			// 合法写法不受影响
			type GoodDefaults struct {
				Model
				A int     `orm:"a,default=-3"`
				B float64 `orm:"b,default=1.5"`
				C bool    `orm:"c,default=false"`
			}
			model, err := builder.FromStruct(&GoodDefaults{})
			So(err, ShouldBeNil)
			a, _ := model.Field("a")
			So(a.Default, ShouldEqual, int64(-3))
			c, _ := model.Field("c")
			So(c.Default, ShouldEqual, false)
		})

		Convey("unique 和 default 互斥", func() {
			type UniqueDefaultText struct {
				Model
				A string `orm:"a,unique,default=x"`
			}
			type UniqueDefaultInt struct {
				Model
				A int64 `orm:"a,unique,default=1"`
			}
			type UniqueDefaultBool struct {
				Model
				A bool `orm:"a,unique,default=true"`
			}
			_, err := builder.FromStruct(&UniqueDefaultText{})
			So(errors.Is(err, ErrModelIntegrity), ShouldBeTrue)
			_, err = builder.FromStruct(&UniqueDefaultInt{})
			So(errors.Is(err, ErrModelIntegrity), ShouldBeTrue)
			_, err = builder.FromStruct(&UniqueDefaultBool{})
			So(errors.Is(err, ErrModelIntegrity), ShouldBeTrue)
		})

		Convey("auto 只支持整型和日期时间类型", func() {
			type AutoText struct {
				Model
				A string `orm:"a,auto"`
			}
			_, err := builder.FromStruct(&AutoText{})
			So(errors.Is(err, ErrUnsupportedAutoField), ShouldBeTrue)

			type AutoTimestamp struct {
				Model
				A time.Time `orm:"a,auto"`
			}
			model, err := builder.FromStruct(&AutoTimestamp{})
			So(err, ShouldBeNil)
			field, _ := model.Field("a")
			So(field.Auto, ShouldBeTrue)
			So(field.Required, ShouldBeFalse)
		})

		Convey("外键解析", func() {
			model, err := builder.FromStruct(&TestMember{})
			So(err, ShouldBeNil)

			field, _ := model.Field("guild_id")
			So(field.ForeignKey, ShouldNotBeNil)
			So(field.ForeignKey.References, ShouldEqual, "guild")
			So(field.ForeignKey.Column, ShouldEqual, "id")
			So(field.ForeignKey.OnDelete, ShouldEqual, FKCascade)
			So(field.ForeignKey.OnUpdate, ShouldEqual, FKCascade)
		})

		Convey("外键缺少目标列", func() {
			type NoTargetColumn struct {
				Model
				A int64 `orm:"a,references=guild"`
			}
			_, err := builder.FromStruct(&NoTargetColumn{})
			So(errors.Is(err, ErrModelIntegrity), ShouldBeTrue)
		})

		Convey("外键动作非法", func() {
			type BadAction struct {
				Model
				A int64 `orm:"a,references=guild,fk=id,on_delete=EXPLODE"`
			}
			_, err := builder.FromStruct(&BadAction{})
			So(errors.Is(err, ErrModelIntegrity), ShouldBeTrue)
		})

		Convey("必须内嵌 orm.Model", func() {
			type NoBase struct {
				A int64 `orm:"a"`
			}
			_, err := builder.FromStruct(&NoBase{})
			So(errors.Is(err, ErrModelIntegrity), ShouldBeTrue)
		})

		Convey("自定义表名", func() {
			model, err := builder.FromStruct(&TestCustomTable{})
			So(err, ShouldBeNil)
			So(model.Table, ShouldEqual, "custom_table_name")
		})
	})
}

func TestTableModelOf(t *testing.T) {
	Convey("测试 TableModelOf 缓存", t, func() {
		first, err := TableModelOf(&TestUser{})
		So(err, ShouldBeNil)

		second, err := TableModelOf(&TestUser{})
		So(err, ShouldBeNil)

		// 同一类型只推导一次，返回同一个模型
		So(second, ShouldEqual, first)
	})
}

func TestTableModelValues(t *testing.T) {
	Convey("测试实例取值", t, func() {
		model, err := TableModelOf(&TestUser{})
		So(err, ShouldBeNil)

		Convey("按声明顺序提取列值", func() {
			user := &TestUser{ID: 1, Name: "ant", Age: 3}
			vals, err := model.Values(user)
			So(err, ShouldBeNil)
			So(vals, ShouldResemble, []any{int64(1), "ant", 3})
		})

		Convey("rowid 默认不存在", func() {
			user := &TestUser{}
			_, ok := model.InstanceRowID(user)
			So(ok, ShouldBeFalse)

			user.SetRowID(42)
			rowid, ok := model.InstanceRowID(user)
			So(ok, ShouldBeTrue)
			So(rowid, ShouldEqual, 42)
		})

		Convey("主键取值", func() {
			user := &TestUser{ID: 7}
			pk, ok := model.PrimaryValue(user)
			So(ok, ShouldBeTrue)
			So(pk, ShouldEqual, int64(7))

			// 主键零值视为未填充
			_, ok = model.PrimaryValue(&TestUser{})
			So(ok, ShouldBeFalse)
		})

		Convey("等值条件键校验", func() {
			So(model.ValidateKeys(map[string]any{"name": "ant"}), ShouldBeNil)

			err := model.ValidateKeys(map[string]any{"bogus": 1})
			So(errors.Is(err, ErrUnknownColumn), ShouldBeTrue)
			So(err.Error(), ShouldContainSubstring, "testuser")
		})
	})
}
