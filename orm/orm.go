// Package orm 提供基于结构体标签的表结构推导与 SQL 查询构造能力。
//
// 记录类型是内嵌 orm.Model 的普通结构体，通过 `orm:"..."` 标签声明列属性。
// 核心组件只负责从记录类型推导建表语句、为各类 CRUD 操作生成参数化查询，
// 以及把查询结果行还原为记录实例，本身不执行任何 I/O，执行交给 engine 层。
//
// 示例：
//
//	type User struct {
//	    orm.Model
//	    ID   int64  `orm:"id,primary,auto"`
//	    Name string `orm:"name,required"`
//	    Age  int    `orm:"age,default=0"`
//	}
package orm

// Model 记录基类，承载隐藏的 rowid 属性。
//
// rowid 不是声明列，不会作为列值写回数据库。只有插入操作或带 rowid 的查询
// 返回的实例才会被设置，之后用于在没有声明主键时精确定位行做更新和删除。
type Model struct {
	rowid    int64
	hasRowID bool
}

// RowID 返回实例关联的存储行号，未设置时第二个返回值为 false
func (m *Model) RowID() (int64, bool) {
	return m.rowid, m.hasRowID
}

// SetRowID 设置实例关联的存储行号，通常由查询结果还原逻辑调用
func (m *Model) SetRowID(id int64) {
	m.rowid = id
	m.hasRowID = true
}

// ClearRowID 清除实例关联的存储行号
func (m *Model) ClearRowID() {
	m.rowid = 0
	m.hasRowID = false
}

// Table 实现该接口的记录类型可以自定义表名，
// 否则默认使用结构体名称的小写形式
type Table interface {
	Table() string
}
