package orm

import (
	"testing"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

// 没有主键的结构体，用来验证删除的降级路径
type TestNoPrimary struct {
	Model
	Name string `orm:"name"`
	Age  int    `orm:"age"`
}

func TestForInsert(t *testing.T) {
	Convey("测试 ForInsert 方法", t, func() {
		Convey("列按字典序排列", func() {
			q, vals, err := ForInsert("user", false, true, map[string]any{"name": "ant", "age": 3})
			So(err, ShouldBeNil)
			So(q, ShouldEqual, "INSERT INTO user (age, name) VALUES (?, ?) RETURNING *;")
			So(vals, ShouldResemble, []any{3, "ant"})
		})

		Convey("忽略冲突", func() {
			q, _, err := ForInsert("user", true, false, map[string]any{"name": "ant"})
			So(err, ShouldBeNil)
			So(q, ShouldEqual, "INSERT OR IGNORE INTO user (name) VALUES (?);")
		})

		Convey("空条件非法", func() {
			_, _, err := ForInsert("user", false, false, nil)
			So(errors.Is(err, ErrBadQuery), ShouldBeTrue)
		})
	})
}

func TestForGetOrNone(t *testing.T) {
	Convey("测试 ForGetOrNone 方法", t, func() {
		Convey("单行等值查询", func() {
			q, vals, err := ForGetOrNone("user", map[string]any{"name": "ant", "age": 3})
			So(err, ShouldBeNil)
			So(q, ShouldEqual, "SELECT rowid, * FROM user WHERE (age = ? AND name = ?) LIMIT 1;")
			So(vals, ShouldResemble, []any{3, "ant"})
		})

		Convey("空条件非法", func() {
			_, _, err := ForGetOrNone("user", map[string]any{})
			So(errors.Is(err, ErrBadQuery), ShouldBeTrue)
		})
	})
}

func TestForGetMany(t *testing.T) {
	Convey("测试 ForGetMany 方法", t, func() {
		model, err := TableModelOf(&TestUser{})
		So(err, ShouldBeNil)

		Convey("无条件查询全表", func() {
			q, vals, err := ForGetMany(model, nil, nil, 0)
			So(err, ShouldBeNil)
			So(q, ShouldEqual, "SELECT rowid, * FROM testuser;")
			So(vals, ShouldBeEmpty)
		})

		Convey("条件加排序加限制", func() {
			q, vals, err := ForGetMany(model,
				map[string]any{"name": "ant"},
				map[string]string{"age": "desc", "id": "ASC"}, 10)
			So(err, ShouldBeNil)
			So(q, ShouldEqual, "SELECT rowid, * FROM testuser WHERE (name = ?) ORDER BY age DESC, id ASC LIMIT ?;")
			So(vals, ShouldResemble, []any{"ant", 10})
		})

		Convey("负数限制非法", func() {
			_, _, err := ForGetMany(model, nil, nil, -1)
			So(errors.Is(err, ErrBadQuery), ShouldBeTrue)
		})

		Convey("排序列必须是已声明的列", func() {
			_, _, err := ForGetMany(model, nil, map[string]string{"bogus": "asc"}, 0)
			So(errors.Is(err, ErrUnknownColumn), ShouldBeTrue)
		})

		Convey("排序方向非法", func() {
			_, _, err := ForGetMany(model, nil, map[string]string{"age": "sideways"}, 0)
			So(errors.Is(err, ErrInvalidOrdering), ShouldBeTrue)
		})
	})
}

func TestForSaveOne(t *testing.T) {
	Convey("测试 ForSaveOne 方法", t, func() {
		model, err := TableModelOf(&TestUser{})
		So(err, ShouldBeNil)

		Convey("没有 rowid 时退化为 INSERT OR REPLACE", func() {
			q, vals, err := ForSaveOne(model, &TestUser{ID: 1, Name: "ant", Age: 3})
			So(err, ShouldBeNil)
			So(q, ShouldEqual, "INSERT OR REPLACE INTO testuser (id, name, age) VALUES (?, ?, ?);")
			So(vals, ShouldResemble, []any{int64(1), "ant", 3})
		})

		Convey("携带 rowid 时精确更新", func() {
			user := &TestUser{ID: 1, Name: "ant", Age: 3}
			user.SetRowID(7)
			q, vals, err := ForSaveOne(model, user)
			So(err, ShouldBeNil)
			So(q, ShouldEqual, "UPDATE testuser SET id = ?, name = ?, age = ? WHERE rowid = ?;")
			So(vals, ShouldResemble, []any{int64(1), "ant", 3, int64(7)})
		})
	})
}

func TestForSaveMany(t *testing.T) {
	Convey("测试 ForSaveMany 方法", t, func() {
		model, err := TableModelOf(&TestUser{})
		So(err, ShouldBeNil)

		Convey("所有实例共享同一条语句", func() {
			q, valsPerObj, err := ForSaveMany(model, []any{
				&TestUser{ID: 1, Name: "a"},
				&TestUser{ID: 2, Name: "b", Age: 1},
			})
			So(err, ShouldBeNil)
			So(q, ShouldEqual, "INSERT OR REPLACE INTO testuser (id, name, age) VALUES (?, ?, ?);")
			So(valsPerObj, ShouldResemble, [][]any{
				{int64(1), "a", 0},
				{int64(2), "b", 1},
			})
		})

		Convey("空列表非法", func() {
			_, _, err := ForSaveMany(model, nil)
			So(errors.Is(err, ErrBadQuery), ShouldBeTrue)
		})
	})
}

func TestForDeleteOne(t *testing.T) {
	Convey("测试 ForDeleteOne 方法", t, func() {
		Convey("声明主键时按主键删除", func() {
			model, err := TableModelOf(&TestUser{})
			So(err, ShouldBeNil)

			q, vals, err := ForDeleteOne(model, &TestUser{ID: 7, Name: "ant"})
			So(err, ShouldBeNil)
			So(q, ShouldEqual, "DELETE FROM testuser WHERE id = ?;")
			So(vals, ShouldResemble, []any{int64(7)})
		})

		Convey("没有主键但已知 rowid 时按 rowid 删除", func() {
			model, err := TableModelOf(&TestNoPrimary{})
			So(err, ShouldBeNil)

			obj := &TestNoPrimary{Name: "ant"}
			obj.SetRowID(3)
			q, vals, err := ForDeleteOne(model, obj)
			So(err, ShouldBeNil)
			So(q, ShouldEqual, "DELETE FROM testnoprimary WHERE rowid = ?;")
			So(vals, ShouldResemble, []any{int64(3)})
		})

		Convey("否则按全列等值匹配", func() {
			model, err := TableModelOf(&TestNoPrimary{})
			So(err, ShouldBeNil)

			q, vals, err := ForDeleteOne(model, &TestNoPrimary{Name: "ant", Age: 3})
			So(err, ShouldBeNil)
			So(q, ShouldEqual, "DELETE FROM testnoprimary WHERE (name = ? AND age = ?);")
			So(vals, ShouldResemble, []any{"ant", 3})
		})
	})
}

func TestForDeleteMany(t *testing.T) {
	Convey("测试 ForDeleteMany 方法", t, func() {
		model, err := TableModelOf(&TestUser{})
		So(err, ShouldBeNil)

		Convey("全部携带 rowid 时按 rowid IN 删除", func() {
			a, b := &TestUser{}, &TestUser{}
			a.SetRowID(1)
			b.SetRowID(2)
			q, vals, err := ForDeleteMany(model, []any{a, b})
			So(err, ShouldBeNil)
			So(q, ShouldEqual, "DELETE FROM testuser WHERE rowid IN (?, ?);")
			So(vals, ShouldResemble, []any{int64(1), int64(2)})
		})

		Convey("主键都已填充时按主键 IN 删除", func() {
			q, vals, err := ForDeleteMany(model, []any{
				&TestUser{ID: 1}, &TestUser{ID: 2}, &TestUser{ID: 3},
			})
			So(err, ShouldBeNil)
			So(q, ShouldEqual, "DELETE FROM testuser WHERE id IN (?, ?, ?);")
			So(vals, ShouldResemble, []any{int64(1), int64(2), int64(3)})
		})

		Convey("主键为零值但携带 rowid 的记录走 rowid 路径", func() {
			zero := &TestUser{ID: 0, Name: "ant"}
			zero.SetRowID(5)
			other := &TestUser{ID: 7}
			other.SetRowID(6)
			q, vals, err := ForDeleteMany(model, []any{zero, other})
			So(err, ShouldBeNil)
			So(q, ShouldEqual, "DELETE FROM testuser WHERE rowid IN (?, ?);")
			So(vals, ShouldResemble, []any{int64(5), int64(6)})
		})

		Convey("既无 rowid 也无主键值时拒绝", func() {
			_, _, err := ForDeleteMany(model, []any{&TestUser{Name: "ant"}})
			So(errors.Is(err, ErrBadQuery), ShouldBeTrue)
		})

		Convey("空列表非法", func() {
			_, _, err := ForDeleteMany(model, nil)
			So(errors.Is(err, ErrBadQuery), ShouldBeTrue)
		})
	})
}

func TestForCount(t *testing.T) {
	Convey("测试 ForCount 方法", t, func() {
		model, err := TableModelOf(&TestUser{})
		So(err, ShouldBeNil)

		Convey("统计全部行", func() {
			q, vals, err := ForCount(model, "*", nil)
			So(err, ShouldBeNil)
			So(q, ShouldEqual, "SELECT COUNT(*) AS total_count FROM testuser;")
			So(vals, ShouldBeEmpty)
		})

		Convey("统计指定列加条件", func() {
			q, vals, err := ForCount(model, "age", map[string]any{"name": "ant"})
			So(err, ShouldBeNil)
			So(q, ShouldEqual, "SELECT COUNT(age) AS total_count FROM testuser WHERE (name = ?);")
			So(vals, ShouldResemble, []any{"ant"})
		})

		Convey("未知列非法", func() {
			_, _, err := ForCount(model, "bogus", nil)
			So(errors.Is(err, ErrBadQuery), ShouldBeTrue)
		})
	})
}
