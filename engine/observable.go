package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hatlonely/ormx/logger"
)

type ObservableCrudOptions struct {
	// EnableMetrics 是否启用指标收集
	EnableMetrics bool `cfg:"enableMetrics" def:"true"`

	// EnableLogging 是否启用日志记录
	EnableLogging bool `cfg:"enableLogging" def:"true"`

	// EnableTracing 是否启用分布式追踪
	EnableTracing bool `cfg:"enableTracing" def:"false"`

	// Name 组件名称标识，用于所有观测维度
	// - Metrics: 作为指标名前缀
	// - Logging: 作为 component 字段值
	// - Tracing: 作为 span 的 component 属性
	Name string `cfg:"name" def:"crud"`
}

// ObservableMetrics 封装 prometheus 指标
type ObservableMetrics struct {
	operationCounter   *prometheus.CounterVec
	operationDuration  *prometheus.HistogramVec
	activeOperations   *prometheus.GaugeVec
	batchSizeHistogram *prometheus.HistogramVec
}

// NewObservableMetrics 创建指标收集器
func NewObservableMetrics(name string) *ObservableMetrics {
	metrics := &ObservableMetrics{
		operationCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: name + "_operations_total",
				Help: "Total number of crud operations",
			},
			[]string{"table", "operation", "status"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    name + "_operation_duration_seconds",
				Help:    "Duration of crud operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
			[]string{"table", "operation"},
		),
		activeOperations: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: name + "_active_operations",
				Help: "Number of active crud operations",
			},
			[]string{"table", "operation"},
		),
		batchSizeHistogram: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    name + "_batch_size",
				Help:    "Size of batch operations",
				Buckets: []float64{1, 5, 10, 50, 100, 500, 1000},
			},
			[]string{"table", "operation"},
		),
	}

	// 注册到默认 prometheus registry
	prometheus.MustRegister(
		metrics.operationCounter,
		metrics.operationDuration,
		metrics.activeOperations,
		metrics.batchSizeHistogram,
	)

	return metrics
}

// ObservableCrud 装饰器，为 Crud 句柄添加观测能力
type ObservableCrud[T any] struct {
	crud *Crud[T]

	logger        logger.Logger
	metrics       *ObservableMetrics
	tracer        trace.Tracer
	name          string
	table         string
	enableMetrics bool
	enableLogging bool
	enableTracing bool
}

func NewObservableCrudWithOptions[T any](e *Engine, options *ObservableCrudOptions) (*ObservableCrud[T], error) {
	if options == nil {
		return nil, errors.New("options is nil")
	}
	if err := SetDefaults(options); err != nil {
		return nil, err
	}

	crud, err := NewCrud[T](e)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create underlying crud")
	}

	obs := &ObservableCrud[T]{
		crud:          crud,
		name:          options.Name,
		table:         crud.model.Table,
		enableMetrics: options.EnableMetrics,
		enableLogging: options.EnableLogging,
		enableTracing: options.EnableTracing,
	}

	if options.EnableLogging {
		obs.logger = logger.NewSLog().WithGroup("observableCrud")
	}
	if options.EnableMetrics {
		obs.metrics = NewObservableMetrics(options.Name)
	}
	if options.EnableTracing {
		obs.tracer = otel.Tracer(fmt.Sprintf("crud.%s", options.Name))
	}

	return obs, nil
}

// observeOperation 统一的操作观测逻辑
func (obs *ObservableCrud[T]) observeOperation(ctx context.Context, operation string, fn func(context.Context) error) error {
	start := time.Now()

	var span trace.Span
	if obs.enableTracing && obs.tracer != nil {
		ctx, span = obs.tracer.Start(ctx, fmt.Sprintf("crud.%s", operation),
			trace.WithAttributes(
				attribute.String("component", obs.name),
				attribute.String("table", obs.table),
				attribute.String("operation", operation),
			),
		)
		defer span.End()
	}

	if obs.enableMetrics && obs.metrics != nil {
		obs.metrics.activeOperations.WithLabelValues(obs.table, operation).Inc()
		defer obs.metrics.activeOperations.WithLabelValues(obs.table, operation).Dec()
	}

	err := fn(ctx)
	duration := time.Since(start)

	if obs.enableTracing && span != nil {
		span.SetAttributes(
			attribute.Int64("duration_ms", duration.Milliseconds()),
		)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}

	if obs.enableMetrics && obs.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		obs.metrics.operationCounter.WithLabelValues(obs.table, operation, status).Inc()
		obs.metrics.operationDuration.WithLabelValues(obs.table, operation).Observe(duration.Seconds())
	}

	if obs.enableLogging && obs.logger != nil {
		if err != nil {
			obs.logger.ErrorContext(ctx, "crud operation failed",
				"component", obs.name,
				"table", obs.table,
				"operation", operation,
				"duration_ms", duration.Milliseconds(),
				"error", err.Error(),
			)
		} else {
			obs.logger.InfoContext(ctx, "crud operation completed",
				"component", obs.name,
				"table", obs.table,
				"operation", operation,
				"duration_ms", duration.Milliseconds(),
			)
		}
	}

	return err
}

// observeBatchOperation 批量操作的观测逻辑
func (obs *ObservableCrud[T]) observeBatchOperation(ctx context.Context, operation string, batchSize int, fn func(context.Context) error) error {
	if obs.enableMetrics && obs.metrics != nil {
		obs.metrics.batchSizeHistogram.WithLabelValues(obs.table, operation).Observe(float64(batchSize))
	}
	return obs.observeOperation(ctx, operation, fn)
}

func (obs *ObservableCrud[T]) Insert(ctx context.Context, kws map[string]any) (*T, error) {
	var result *T
	err := obs.observeOperation(ctx, "insert", func(ctx context.Context) error {
		var opErr error
		result, opErr = obs.crud.Insert(ctx, kws)
		return opErr
	})
	return result, err
}

func (obs *ObservableCrud[T]) InsertOrIgnore(ctx context.Context, kws map[string]any) (*T, error) {
	var result *T
	err := obs.observeOperation(ctx, "insert_or_ignore", func(ctx context.Context) error {
		var opErr error
		result, opErr = obs.crud.InsertOrIgnore(ctx, kws)
		return opErr
	})
	return result, err
}

func (obs *ObservableCrud[T]) Get(ctx context.Context, kws map[string]any) (*T, error) {
	var result *T
	err := obs.observeOperation(ctx, "get", func(ctx context.Context) error {
		var opErr error
		result, opErr = obs.crud.Get(ctx, kws)
		return opErr
	})
	return result, err
}

func (obs *ObservableCrud[T]) GetOrNone(ctx context.Context, kws map[string]any) (*T, error) {
	var result *T
	err := obs.observeOperation(ctx, "get_or_none", func(ctx context.Context) error {
		var opErr error
		result, opErr = obs.crud.GetOrNone(ctx, kws)
		return opErr
	})
	return result, err
}

func (obs *ObservableCrud[T]) GetOrCreate(ctx context.Context, kws map[string]any) (*T, bool, error) {
	var result *T
	var created bool
	err := obs.observeOperation(ctx, "get_or_create", func(ctx context.Context) error {
		var opErr error
		result, created, opErr = obs.crud.GetOrCreate(ctx, kws)
		return opErr
	})
	return result, created, err
}

func (obs *ObservableCrud[T]) GetAll(ctx context.Context) ([]*T, error) {
	var result []*T
	err := obs.observeOperation(ctx, "get_all", func(ctx context.Context) error {
		var opErr error
		result, opErr = obs.crud.GetAll(ctx)
		return opErr
	})
	return result, err
}

func (obs *ObservableCrud[T]) GetMany(ctx context.Context, kws map[string]any, opts ...QueryOption) ([]*T, error) {
	var result []*T
	err := obs.observeOperation(ctx, "get_many", func(ctx context.Context) error {
		var opErr error
		result, opErr = obs.crud.GetMany(ctx, kws, opts...)
		return opErr
	})
	return result, err
}

func (obs *ObservableCrud[T]) SaveOne(ctx context.Context, obj *T) error {
	return obs.observeOperation(ctx, "save_one", func(ctx context.Context) error {
		return obs.crud.SaveOne(ctx, obj)
	})
}

func (obs *ObservableCrud[T]) SaveMany(ctx context.Context, objs []*T) error {
	return obs.observeBatchOperation(ctx, "save_many", len(objs), func(ctx context.Context) error {
		return obs.crud.SaveMany(ctx, objs)
	})
}

func (obs *ObservableCrud[T]) DeleteOne(ctx context.Context, obj *T) error {
	return obs.observeOperation(ctx, "delete_one", func(ctx context.Context) error {
		return obs.crud.DeleteOne(ctx, obj)
	})
}

func (obs *ObservableCrud[T]) DeleteMany(ctx context.Context, objs []*T) error {
	return obs.observeBatchOperation(ctx, "delete_many", len(objs), func(ctx context.Context) error {
		return obs.crud.DeleteMany(ctx, objs)
	})
}

func (obs *ObservableCrud[T]) Count(ctx context.Context, column string, kws map[string]any) (int64, error) {
	var result int64
	err := obs.observeOperation(ctx, "count", func(ctx context.Context) error {
		var opErr error
		result, opErr = obs.crud.Count(ctx, column, kws)
		return opErr
	})
	return result, err
}
