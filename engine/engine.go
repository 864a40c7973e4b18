// Package engine 负责把 orm 核心生成的查询真正执行到嵌入式数据库上：
// 管理连接、登记并创建表结构、维护每个记录类型的 Crud 句柄缓存。
package engine

import (
	"context"
	"database/sql"
	"strings"
	"sync"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/hatlonely/ormx/logger"
	"github.com/hatlonely/ormx/orm"
)

// Engine 数据库引擎
type Engine struct {
	db      *sql.DB
	options *EngineOptions
	logger  logger.Logger

	mutex   sync.Mutex
	schemas []string            // 登记的建表语句，按登记顺序执行
	tables  map[string]struct{} // 已登记的表名
	cruds   sync.Map            // reflect.Type -> *Crud[T]
}

func NewEngineWithOptions(options *EngineOptions) (*Engine, error) {
	if options == nil {
		return nil, errors.New("options is nil")
	}
	if err := SetDefaults(options); err != nil {
		return nil, err
	}
	if err := ValidateStruct(options); err != nil {
		return nil, errors.WithMessage(err, "invalid engine options")
	}
	if options.Driver != "sqlite3" {
		return nil, errors.Errorf("unsupported driver: %s", options.Driver)
	}

	dsn := options.Database
	if options.EnableForeignKeys {
		// 外键开关是连接级别的状态，通过 DSN 参数保证池里的每个连接都开启
		if strings.Contains(dsn, "?") {
			dsn += "&_foreign_keys=on"
		} else {
			dsn += "?_foreign_keys=on"
		}
	}

	db, err := sql.Open(options.Driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database %s", options.Database)
	}

	if isMemoryDatabase(options.Database) {
		// 内存库的每个连接都是独立的库，连接池必须收敛到单连接
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(options.MaxConns)
		db.SetMaxIdleConns(options.MaxIdle)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, wrapExecError(errors.Wrap(err, "failed to ping database"))
	}

	return &Engine{
		db:      db,
		options: options,
		logger:  logger.NewSLog(),
		tables:  map[string]struct{}{},
	}, nil
}

func isMemoryDatabase(database string) bool {
	return strings.Contains(database, ":memory:") || strings.Contains(database, "mode=memory")
}

// SetLogger 替换引擎使用的日志器
func (e *Engine) SetLogger(l logger.Logger) {
	e.logger = l
}

// Register 登记一个记录类型，推导并缓存它的表模型。
// 同名表只登记一次
func (e *Engine) Register(v any) error {
	model, err := orm.TableModelOf(v)
	if err != nil {
		return err
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()
	if _, ok := e.tables[model.Table]; ok {
		return nil
	}
	e.tables[model.Table] = struct{}{}
	e.schemas = append(e.schemas, model.Schema)
	return nil
}

// Setup 建立登记过的全部表结构
func (e *Engine) Setup(ctx context.Context) error {
	e.mutex.Lock()
	schemas := append([]string(nil), e.schemas...)
	e.mutex.Unlock()

	if e.options.EnableForeignKeys {
		if _, err := e.db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
			return wrapExecError(errors.Wrap(err, "failed to enable foreign keys"))
		}
	}
	for _, schema := range schemas {
		if _, err := e.db.ExecContext(ctx, schema); err != nil {
			return wrapExecError(errors.Wrapf(err, "failed to create table"))
		}
	}
	return nil
}

// DB 返回底层连接池，供调用方执行本层没有覆盖的语句（比如迁移脚本）
func (e *Engine) DB() *sql.DB {
	return e.db
}

func (e *Engine) Close() error {
	return e.db.Close()
}

// wrapExecError 把底层驱动错误映射到统一的错误分类：
// 约束冲突属于查询问题，调用方应当修正后重试；
// 连接已关闭属于基础设施问题，调用方可以选择重连
func wrapExecError(err error) error {
	if err == nil {
		return nil
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return errors.Wrapf(orm.ErrQueryExecution, "%s", err.Error())
	}
	if errors.Is(err, sql.ErrConnDone) || strings.Contains(err.Error(), "database is closed") {
		return errors.Wrapf(orm.ErrDisconnectedEngine, "%s", err.Error())
	}
	return err
}
