package engine

import (
	"context"
	"database/sql"
	"reflect"

	"github.com/pkg/errors"

	"github.com/hatlonely/ormx/logger"
	"github.com/hatlonely/ormx/orm"
)

// QueryOptions 查询选项
type QueryOptions struct {
	OrderBy map[string]string
	Limit   int
}

type QueryOption func(*QueryOptions)

// WithOrderBy 设置排序条件，形如 {"age": "desc"}，方向大小写不敏感
func WithOrderBy(orderBy map[string]string) QueryOption {
	return func(options *QueryOptions) {
		options.OrderBy = orderBy
	}
}

// WithLimit 设置返回条数上限
func WithLimit(limit int) QueryOption {
	return func(options *QueryOptions) {
		options.Limit = limit
	}
}

// Crud 的每个记录类型对应一个句柄，封装该类型全部的增删改查操作。
// 句柄本身无状态，可以被任意多个调用方并发使用
type Crud[T any] struct {
	engine *Engine
	model  *orm.TableModel
	logger logger.Logger
}

// NewCrud 返回记录类型对应的 Crud 句柄，每个类型只构造一次。
// 记录类型会被自动登记到引擎
func NewCrud[T any](e *Engine) (*Crud[T], error) {
	var zero T
	rt := reflect.TypeOf(zero)
	if cached, ok := e.cruds.Load(rt); ok {
		return cached.(*Crud[T]), nil
	}

	model, err := orm.TableModelOf(&zero)
	if err != nil {
		return nil, err
	}
	if err := e.Register(&zero); err != nil {
		return nil, err
	}

	crud := &Crud[T]{engine: e, model: model, logger: e.logger}
	actual, _ := e.cruds.LoadOrStore(rt, crud)
	return actual.(*Crud[T]), nil
}

// Model 返回句柄对应的表模型
func (c *Crud[T]) Model() *orm.TableModel {
	return c.model
}

// Insert 插入一条记录并返回包含数据库生成值的实例。
// 主键或唯一约束冲突时返回 ErrQueryExecution
func (c *Crud[T]) Insert(ctx context.Context, kws map[string]any) (*T, error) {
	if err := c.model.ValidateKeys(kws); err != nil {
		return nil, err
	}
	q, vals, err := orm.ForInsert(c.model.Table, false, true, kws)
	if err != nil {
		return nil, err
	}
	return c.execInsert(ctx, q, vals)
}

// InsertOrIgnore 插入一条记录，冲突被静默忽略。
// 没有发生冲突时返回新插入的实例，发生冲突时返回 nil
func (c *Crud[T]) InsertOrIgnore(ctx context.Context, kws map[string]any) (*T, error) {
	if err := c.model.ValidateKeys(kws); err != nil {
		return nil, err
	}
	q, vals, err := orm.ForInsert(c.model.Table, true, true, kws)
	if err != nil {
		return nil, err
	}
	return c.execInsert(ctx, q, vals)
}

// execInsert 在同一个连接上执行插入并取回引擎报告的 rowid，
// 这个 rowid 是权威值，显式传给行还原逻辑
func (c *Crud[T]) execInsert(ctx context.Context, q string, vals []any) (*T, error) {
	c.logger.DebugContext(ctx, "execute query", "query", q, "vals", vals)

	conn, err := c.engine.db.Conn(ctx)
	if err != nil {
		return nil, wrapExecError(err)
	}
	defer conn.Close()

	row, err := c.queryReturnedRow(ctx, conn, q, vals)
	if err != nil {
		return nil, err
	}
	if row == nil {
		// 忽略冲突的插入路径，没有返回行即是冲突发生的信号
		return nil, nil
	}

	var rowid int64
	if err := conn.QueryRowContext(ctx, "SELECT last_insert_rowid();").Scan(&rowid); err != nil {
		return nil, wrapExecError(err)
	}

	obj := new(T)
	if err := c.model.Populate(obj, row, &rowid); err != nil {
		return nil, err
	}
	return obj, nil
}

func (c *Crud[T]) queryReturnedRow(ctx context.Context, conn *sql.Conn, q string, vals []any) ([]any, error) {
	rows, err := conn.QueryContext(ctx, q, vals...)
	if err != nil {
		return nil, wrapExecError(err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, wrapExecError(rows.Err())
	}
	row, err := scanRow(rows)
	if err != nil {
		return nil, err
	}
	return row, nil
}

// GetOrNone 按等值条件查询单条记录，没有命中时返回 nil
func (c *Crud[T]) GetOrNone(ctx context.Context, kws map[string]any) (*T, error) {
	if err := c.model.ValidateKeys(kws); err != nil {
		return nil, err
	}
	q, vals, err := orm.ForGetOrNone(c.model.Table, kws)
	if err != nil {
		return nil, err
	}
	c.logger.DebugContext(ctx, "execute query", "query", q, "vals", vals)

	rows, err := c.engine.db.QueryContext(ctx, q, vals...)
	if err != nil {
		return nil, wrapExecError(err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, wrapExecError(rows.Err())
	}
	row, err := scanRow(rows)
	if err != nil {
		return nil, err
	}

	obj := new(T)
	if err := c.model.Populate(obj, row, nil); err != nil {
		return nil, err
	}
	return obj, nil
}

// Get 按等值条件查询单条记录，没有命中时返回 ErrRecordNotFound
func (c *Crud[T]) Get(ctx context.Context, kws map[string]any) (*T, error) {
	obj, err := c.GetOrNone(ctx, kws)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, errors.Wrapf(orm.ErrRecordNotFound, "no record in %q matches the given criteria", c.model.Table)
	}
	return obj, nil
}

// GetOrCreate 查询满足条件的记录，不存在时插入一条。
// 返回实例和它是否由本次调用创建。读取和插入之间没有原子性，
// 两个并发调用者竞争时以插入的唯一约束为准，后写入方的插入被静默忽略，
// 重新读取后得到 created = false，这是预期行为
func (c *Crud[T]) GetOrCreate(ctx context.Context, kws map[string]any) (*T, bool, error) {
	obj, err := c.GetOrNone(ctx, kws)
	if err != nil {
		return nil, false, err
	}
	if obj != nil {
		return obj, false, nil
	}

	obj, err = c.InsertOrIgnore(ctx, kws)
	if err != nil {
		return nil, false, err
	}
	if obj != nil {
		return obj, true, nil
	}

	// 插入被忽略说明另一个调用方抢先创建了记录，重新读取
	obj, err = c.Get(ctx, kws)
	if err != nil {
		return nil, false, err
	}
	return obj, false, nil
}

// GetAll 返回表中全部记录
func (c *Crud[T]) GetAll(ctx context.Context) ([]*T, error) {
	return c.GetMany(ctx, nil)
}

// GetMany 按等值条件查询多条记录，支持排序和条数限制
func (c *Crud[T]) GetMany(ctx context.Context, kws map[string]any, opts ...QueryOption) ([]*T, error) {
	if err := c.model.ValidateKeys(kws); err != nil {
		return nil, err
	}

	options := &QueryOptions{}
	for _, opt := range opts {
		opt(options)
	}

	q, vals, err := orm.ForGetMany(c.model, kws, options.OrderBy, options.Limit)
	if err != nil {
		return nil, err
	}
	c.logger.DebugContext(ctx, "execute query", "query", q, "vals", vals)

	rows, err := c.engine.db.QueryContext(ctx, q, vals...)
	if err != nil {
		return nil, wrapExecError(err)
	}
	defer rows.Close()

	var objs []*T
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		obj := new(T)
		if err := c.model.Populate(obj, row, nil); err != nil {
			return nil, err
		}
		objs = append(objs, obj)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapExecError(err)
	}
	return objs, nil
}

// SaveOne 保存一个实例。实例携带 rowid 时精确更新那一行，
// 否则按 INSERT OR REPLACE 写入
func (c *Crud[T]) SaveOne(ctx context.Context, obj *T) error {
	q, vals, err := orm.ForSaveOne(c.model, obj)
	if err != nil {
		return err
	}
	c.logger.DebugContext(ctx, "execute query", "query", q, "vals", vals)

	if _, err := c.engine.db.ExecContext(ctx, q, vals...); err != nil {
		return wrapExecError(err)
	}
	return nil
}

// SaveMany 批量保存实例，整批在一个事务里执行
func (c *Crud[T]) SaveMany(ctx context.Context, objs []*T) error {
	q, valsPerObj, err := orm.ForSaveMany(c.model, asAnySlice(objs))
	if err != nil {
		return err
	}
	c.logger.DebugContext(ctx, "execute batch query", "query", q, "batch", len(valsPerObj))

	tx, err := c.engine.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapExecError(err)
	}

	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		tx.Rollback()
		return wrapExecError(err)
	}
	defer stmt.Close()

	for _, vals := range valsPerObj {
		if _, err := stmt.ExecContext(ctx, vals...); err != nil {
			tx.Rollback()
			return wrapExecError(err)
		}
	}
	return wrapExecError(tx.Commit())
}

// DeleteOne 删除一个实例对应的行。优先按声明主键定位，
// 其次按 rowid，都没有时按全列等值匹配，
// 此时与实例完全相同的重复行会被一并删除
func (c *Crud[T]) DeleteOne(ctx context.Context, obj *T) error {
	q, vals, err := orm.ForDeleteOne(c.model, obj)
	if err != nil {
		return err
	}
	c.logger.DebugContext(ctx, "execute query", "query", q, "vals", vals)

	if _, err := c.engine.db.ExecContext(ctx, q, vals...); err != nil {
		return wrapExecError(err)
	}
	return nil
}

// DeleteMany 批量删除实例对应的行，一条语句完成
func (c *Crud[T]) DeleteMany(ctx context.Context, objs []*T) error {
	q, vals, err := orm.ForDeleteMany(c.model, asAnySlice(objs))
	if err != nil {
		return err
	}
	c.logger.DebugContext(ctx, "execute query", "query", q, "vals", vals)

	if _, err := c.engine.db.ExecContext(ctx, q, vals...); err != nil {
		return wrapExecError(err)
	}
	return nil
}

// Count 统计记录数量，column 为 "*" 时统计全部行，
// 否则统计该列非空值的行数
func (c *Crud[T]) Count(ctx context.Context, column string, kws map[string]any) (int64, error) {
	if err := c.model.ValidateKeys(kws); err != nil {
		return 0, err
	}
	q, vals, err := orm.ForCount(c.model, column, kws)
	if err != nil {
		return 0, err
	}
	c.logger.DebugContext(ctx, "execute query", "query", q, "vals", vals)

	var count int64
	if err := c.engine.db.QueryRowContext(ctx, q, vals...).Scan(&count); err != nil {
		return 0, wrapExecError(err)
	}
	return count, nil
}

// scanRow 把当前行扫描成位置值序列
func scanRow(rows *sql.Rows) ([]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	values := make([]any, len(columns))
	valuePtrs := make([]any, len(columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}
	if err := rows.Scan(valuePtrs...); err != nil {
		return nil, err
	}
	return values, nil
}

func asAnySlice[T any](objs []*T) []any {
	out := make([]any, 0, len(objs))
	for _, obj := range objs {
		out = append(out, obj)
	}
	return out
}
