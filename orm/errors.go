package orm

import (
	"github.com/pkg/errors"
)

// 错误分类。各组件通过 errors.Wrapf 补充上下文，
// 调用方用 errors.Is 判断错误类别
var (
	// ErrModelIntegrity 模型定义阶段的静态错误：重复主键、unique 与 default 冲突、
	// 同一字段出现多个主键标记、外键目标不完整等
	ErrModelIntegrity = errors.New("model integrity error")

	// ErrUnsupportedFieldType 字段类型没有对应的 SQL 类型映射
	ErrUnsupportedFieldType = errors.New("unsupported field type")

	// ErrUnsupportedAutoField 字段类型不支持自动生成
	ErrUnsupportedAutoField = errors.New("unsupported auto field")

	// ErrBadQuery 调用方构造的操作在结构上不合法：
	// 批量操作的空实例列表、count 引用未知列、批量删除缺少可用标识
	ErrBadQuery = errors.New("bad query")

	// ErrUnknownColumn 等值条件或排序引用了记录类型之外的列
	ErrUnknownColumn = errors.New("unknown column")

	// ErrInvalidOrdering 排序方向不是 asc/desc
	ErrInvalidOrdering = errors.New("invalid ordering")

	// ErrQueryExecution 底层引擎因约束冲突拒绝了非忽略模式的写入
	ErrQueryExecution = errors.New("query execution error")

	// ErrDisconnectedEngine 连接已关闭，属于基础设施故障，
	// 与查询本身的错误区分开便于调用方决定重连还是修改查询
	ErrDisconnectedEngine = errors.New("disconnected engine")

	// ErrMigration 请求的表结构演进无法安全生成脚本
	ErrMigration = errors.New("migration error")

	// ErrRecordNotFound 查询没有命中任何记录
	ErrRecordNotFound = errors.New("record not found")
)
