package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"resume-pipeline-go/internal/config"
	"resume-pipeline-go/internal/constants"
	"resume-pipeline-go/internal/storage/models"
	"resume-pipeline-go/internal/tracing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var mysqlTracer = otel.Tracer("resume-pipeline-go/storage/mysql")

var (
	// ErrCaseNotFound 案件不存在
	ErrCaseNotFound = errors.New("案件不存在")
	// ErrDocumentNotFound 文档不存在
	ErrDocumentNotFound = errors.New("文档不存在")
	// ErrArtifactNotFound 产物不存在或不属于该案件
	ErrArtifactNotFound = errors.New("产物不存在")
)

// GormTracingPlugin GORM插件，为数据库操作添加OpenTelemetry追踪
type GormTracingPlugin struct {
	tracer         trace.Tracer
	dbName         string
	disableErrSkip bool
}

// Name 返回插件名称
func (p *GormTracingPlugin) Name() string {
	return "GormOpenTelemetryPlugin"
}

// Initialize 注册GORM回调以启用追踪
func (p *GormTracingPlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()

	if err := cb.Create().Before("gorm:create").Register("otel:before_create", p.before("CREATE")); err != nil {
		return err
	}
	if err := cb.Create().After("gorm:create").Register("otel:after_create", p.after()); err != nil {
		return err
	}
	if err := cb.Query().Before("gorm:query").Register("otel:before_query", p.before("SELECT")); err != nil {
		return err
	}
	if err := cb.Query().After("gorm:query").Register("otel:after_query", p.after()); err != nil {
		return err
	}
	if err := cb.Update().Before("gorm:update").Register("otel:before_update", p.before("UPDATE")); err != nil {
		return err
	}
	if err := cb.Update().After("gorm:update").Register("otel:after_update", p.after()); err != nil {
		return err
	}
	if err := cb.Delete().Before("gorm:delete").Register("otel:before_delete", p.before("DELETE")); err != nil {
		return err
	}
	if err := cb.Delete().After("gorm:delete").Register("otel:after_delete", p.after()); err != nil {
		return err
	}
	if err := cb.Raw().Before("gorm:raw").Register("otel:before_raw", p.before("RAW")); err != nil {
		return err
	}
	return cb.Raw().After("gorm:raw").Register("otel:after_raw", p.after())
}

type gormSpanKey struct{}

func (p *GormTracingPlugin) before(operation string) func(db *gorm.DB) {
	return func(db *gorm.DB) {
		if p.disableErrSkip && db.Statement.SkipHooks {
			return
		}

		ctx := db.Statement.Context
		if ctx == nil {
			ctx = context.Background()
		}

		tableName := db.Statement.Table
		if tableName == "" {
			tableName = "unknown"
		}

		spanName := fmt.Sprintf("%s %s", operation, tableName)
		newCtx, span := p.tracer.Start(ctx, spanName,
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				semconv.DBSystemMySQL,
				attribute.String("db.name", p.dbName),
				attribute.String("db.operation", operation),
				attribute.String("db.sql.table", tableName),
			),
		)

		db.Statement.Context = context.WithValue(newCtx, gormSpanKey{}, span)
	}
}

func (p *GormTracingPlugin) after() func(db *gorm.DB) {
	return func(db *gorm.DB) {
		span, ok := db.Statement.Context.Value(gormSpanKey{}).(trace.Span)
		if !ok {
			return
		}
		defer span.End()

		span.SetAttributes(
			attribute.Int64("db.rows_affected", db.Statement.RowsAffected),
			attribute.String("db.statement", tracing.SafeSQL(db.Statement.SQL.String())),
		)

		if db.Error != nil {
			if errors.Is(db.Error, gorm.ErrRecordNotFound) {
				// 未命中属于正常业务路径
				span.SetAttributes(attribute.String("error.type", "record_not_found"))
				span.SetStatus(codes.Ok, "record not found")
			} else {
				span.RecordError(db.Error)
				span.SetStatus(codes.Error, db.Error.Error())
			}
			return
		}
		span.SetStatus(codes.Ok, "")
	}
}

// NewGormTracingPlugin 创建GORM追踪插件
func NewGormTracingPlugin(dbName string) *GormTracingPlugin {
	return &GormTracingPlugin{
		tracer:         mysqlTracer,
		dbName:         dbName,
		disableErrSkip: true,
	}
}

// MySQL 案件仓储，提供案件/文档/产物/事件的持久化
type MySQL struct {
	db  *gorm.DB
	cfg *config.MySQLConfig
}

// NewMySQL 创建MySQL客户端并迁移表结构
func NewMySQL(cfg *config.MySQLConfig) (*MySQL, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MySQL配置不能为空")
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local&timeout=%ds&readTimeout=%ds&writeTimeout=%ds",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database,
		cfg.ConnectTimeoutSeconds, cfg.ReadTimeoutSeconds, cfg.WriteTimeoutSeconds)

	var logLevel logger.LogLevel
	switch cfg.LogLevel {
	case 1:
		logLevel = logger.Silent
	case 2:
		logLevel = logger.Error
	case 3:
		logLevel = logger.Warn
	default:
		logLevel = logger.Info
	}

	gormConfig := &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   logger.Default.LogMode(logLevel),
		PrepareStmt:                              true,
		NowFunc: func() time.Time {
			return time.Now().Local()
		},
	}

	db, err := gorm.Open(mysql.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("连接MySQL失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)
	sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTimeMinutes) * time.Minute)

	m := &MySQL{db: db, cfg: cfg}

	if err := db.Use(NewGormTracingPlugin(cfg.Database)); err != nil {
		return nil, fmt.Errorf("注册追踪插件失败: %w", err)
	}

	if err := m.autoMigrateSchema(); err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, fmt.Errorf("自动迁移数据库结构失败: %w", err)
	}

	log.Println("成功连接到MySQL并自动迁移数据库结构")
	return m, nil
}

// autoMigrateSchema 静默迁移所有表结构
func (m *MySQL) autoMigrateSchema() error {
	silentLogger := logger.New(
		log.New(log.Writer(), "", log.LstdFlags),
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Silent,
			IgnoreRecordNotFoundError: true,
		},
	)
	silentDB := m.db.Session(&gorm.Session{Logger: silentLogger})

	return silentDB.AutoMigrate(
		&models.Case{},
		&models.CaseDocument{},
		&models.CaseArtifact{},
		&models.CaseEvent{},
		&models.OutboxMessage{},
	)
}

// DB 返回GORM数据库连接实例
func (m *MySQL) DB() *gorm.DB {
	return m.db
}

// Close 关闭数据库连接
func (m *MySQL) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	return sqlDB.Close()
}

// ---- 案件 ----

// CreateCase 创建案件并写入首条审计事件（同一事务）
func (m *MySQL) CreateCase(ctx context.Context, c *models.Case) error {
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(c).Error; err != nil {
			return fmt.Errorf("创建案件失败: %w", err)
		}
		return m.appendEventTx(tx, c.CaseID, constants.EventStatusChange, map[string]interface{}{
			"to": string(constants.CaseStatusPending),
		})
	})
}

// GetCase 按ID获取案件
func (m *MySQL) GetCase(ctx context.Context, caseID string) (*models.Case, error) {
	var c models.Case
	err := m.db.WithContext(ctx).Where("case_id = ?", caseID).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCaseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询案件失败: %w", err)
	}
	return &c, nil
}

// ListCases 按创建时间倒序分页列出案件
func (m *MySQL) ListCases(ctx context.Context, limit, offset int) ([]models.Case, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	var total int64
	if err := m.db.WithContext(ctx).Model(&models.Case{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("统计案件数量失败: %w", err)
	}
	var cases []models.Case
	err := m.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&cases).Error
	if err != nil {
		return nil, 0, fmt.Errorf("查询案件列表失败: %w", err)
	}
	return cases, total, nil
}

// UpdateCaseStatus 更新处理中案件的状态字段并追加status_change事件。
// 终态案件的行不会被该方法触及。
func (m *MySQL) UpdateCaseStatus(ctx context.Context, caseID string, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Case{}).
			Where("case_id = ? AND status NOT IN ?", caseID,
				[]string{string(constants.CaseStatusCompleted), string(constants.CaseStatusFailed)}).
			Updates(updates)
		if result.Error != nil {
			return fmt.Errorf("更新案件状态失败: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			// 案件不存在或已终态，两种情况都不允许继续写
			return nil
		}
		details := map[string]interface{}{}
		for k, v := range updates {
			details[k] = v
		}
		return m.appendEventTx(tx, caseID, constants.EventStatusChange, details)
	})
}

// AdvanceCaseStatus 以CAS方式推进案件状态，仅当前状态等于from时生效。
// 返回本次调用是否为唯一赢家。事件在同一事务内追加。
func (m *MySQL) AdvanceCaseStatus(ctx context.Context, caseID string, from, to constants.CaseStatus, extra map[string]interface{}) (bool, error) {
	won := false
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{"status": string(to)}
		for k, v := range extra {
			updates[k] = v
		}
		result := tx.Model(&models.Case{}).
			Where("case_id = ? AND status = ?", caseID, string(from)).
			Updates(updates)
		if result.Error != nil {
			return fmt.Errorf("推进案件状态失败: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return nil
		}
		won = true
		details := map[string]interface{}{"from": string(from), "to": string(to)}
		if reason, ok := extra["fail_reason"]; ok {
			details["reason"] = reason
		}
		return m.appendEventTx(tx, caseID, constants.EventStatusChange, details)
	})
	return won, err
}

// AdvanceCaseStep 以CAS方式推进处理中案件的阶段，返回是否为唯一赢家。
// 可选地在同一事务内写入发件箱消息，保证赢家的后续任务必然入队。
func (m *MySQL) AdvanceCaseStep(ctx context.Context, caseID string, fromStep, toStep constants.CaseStep, outboxMsgs ...*models.OutboxMessage) (bool, error) {
	won := false
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Case{}).
			Where("case_id = ? AND status = ? AND current_step = ?",
				caseID, string(constants.CaseStatusProcessing), string(fromStep)).
			Updates(map[string]interface{}{
				"current_step": string(toStep),
				"progress":     constants.StepProgress[toStep],
			})
		if result.Error != nil {
			return fmt.Errorf("推进处理阶段失败: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return nil
		}
		won = true
		for _, msg := range outboxMsgs {
			if err := tx.Create(msg).Error; err != nil {
				return fmt.Errorf("写入发件箱失败: %w", err)
			}
		}
		return m.appendEventTx(tx, caseID, constants.EventStatusChange, map[string]interface{}{
			"from_step": string(fromStep),
			"to_step":   string(toStep),
		})
	})
	return won, err
}

// IncrementGenerationAttempts 生成阶段重试计数自增，返回自增后的值
func (m *MySQL) IncrementGenerationAttempts(ctx context.Context, caseID string) (int, error) {
	err := m.db.WithContext(ctx).Model(&models.Case{}).
		Where("case_id = ?", caseID).
		Update("generation_attempts", gorm.Expr("generation_attempts + 1")).Error
	if err != nil {
		return 0, fmt.Errorf("更新生成重试计数失败: %w", err)
	}
	c, err := m.GetCase(ctx, caseID)
	if err != nil {
		return 0, err
	}
	return c.GenerationAttempts, nil
}

// ---- 文档 ----

// CreateDocuments 批量创建文档记录，主键冲突时跳过以保证幂等
func (m *MySQL) CreateDocuments(ctx context.Context, docs []models.CaseDocument) error {
	if len(docs) == 0 {
		return nil
	}
	err := m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "document_id"}},
		DoNothing: true,
	}).Create(&docs).Error
	if err != nil {
		return fmt.Errorf("批量创建文档失败: %w", err)
	}
	return nil
}

// GetDocument 获取属于指定案件的文档
func (m *MySQL) GetDocument(ctx context.Context, caseID, documentID string) (*models.CaseDocument, error) {
	var doc models.CaseDocument
	err := m.db.WithContext(ctx).
		Where("document_id = ? AND case_id = ?", documentID, caseID).
		First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询文档失败: %w", err)
	}
	return &doc, nil
}

// GetCaseDocuments 按上传时间升序返回案件的全部文档
func (m *MySQL) GetCaseDocuments(ctx context.Context, caseID string) ([]models.CaseDocument, error) {
	var docs []models.CaseDocument
	err := m.db.WithContext(ctx).
		Where("case_id = ?", caseID).
		Order("uploaded_at ASC, document_id ASC").
		Find(&docs).Error
	if err != nil {
		return nil, fmt.Errorf("查询案件文档失败: %w", err)
	}
	return docs, nil
}

// UpdateDocumentStatus 部分更新文档字段并追加事件（同一事务）。
// 只有updates中出现的字段会被修改。
func (m *MySQL) UpdateDocumentStatus(ctx context.Context, caseID, documentID string, updates map[string]interface{}, eventType constants.EventType, eventDetails map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.CaseDocument{}).
			Where("document_id = ? AND case_id = ?", documentID, caseID).
			Updates(updates)
		if result.Error != nil {
			return fmt.Errorf("更新文档状态失败: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrDocumentNotFound
		}
		if eventType == "" {
			return nil
		}
		details := map[string]interface{}{"document_id": documentID}
		for k, v := range eventDetails {
			details[k] = v
		}
		return m.appendEventTx(tx, caseID, eventType, details)
	})
}

// MarkDocumentsUploaded 将案件中等待上传的文档标记为已上传
func (m *MySQL) MarkDocumentsUploaded(ctx context.Context, caseID string) error {
	err := m.db.WithContext(ctx).Model(&models.CaseDocument{}).
		Where("case_id = ? AND status = ?", caseID, string(constants.DocStatusPendingUpload)).
		Update("status", string(constants.DocStatusUploaded)).Error
	if err != nil {
		return fmt.Errorf("标记文档已上传失败: %w", err)
	}
	return nil
}

// ---- 产物 ----

// CreateArtifact 写入产物记录并追加artifact_created事件。
// 调用方必须保证对象字节已经落到存储之后再调用。
func (m *MySQL) CreateArtifact(ctx context.Context, a *models.CaseArtifact) error {
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(a).Error; err != nil {
			return fmt.Errorf("创建产物记录失败: %w", err)
		}
		return m.appendEventTx(tx, a.CaseID, constants.EventArtifactCreated, map[string]interface{}{
			"artifact_id": a.ArtifactID,
			"type":        a.Type,
			"file_name":   a.FileName,
		})
	})
}

// GetArtifact 获取产物记录。产物存在但不属于该案件时同样返回未找到。
func (m *MySQL) GetArtifact(ctx context.Context, caseID, artifactID string) (*models.CaseArtifact, error) {
	var a models.CaseArtifact
	err := m.db.WithContext(ctx).
		Where("artifact_id = ? AND case_id = ?", artifactID, caseID).
		First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrArtifactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询产物失败: %w", err)
	}
	return &a, nil
}

// ListArtifacts 返回案件的全部产物记录
func (m *MySQL) ListArtifacts(ctx context.Context, caseID string) ([]models.CaseArtifact, error) {
	var artifacts []models.CaseArtifact
	err := m.db.WithContext(ctx).
		Where("case_id = ?", caseID).
		Order("created_at ASC").
		Find(&artifacts).Error
	if err != nil {
		return nil, fmt.Errorf("查询案件产物失败: %w", err)
	}
	return artifacts, nil
}

// FindLatestArtifactByType 返回案件中指定类型的最新产物，未找到返回ErrArtifactNotFound
func (m *MySQL) FindLatestArtifactByType(ctx context.Context, caseID string, artifactType constants.ArtifactType) (*models.CaseArtifact, error) {
	var a models.CaseArtifact
	err := m.db.WithContext(ctx).
		Where("case_id = ? AND type = ?", caseID, string(artifactType)).
		Order("created_at DESC").
		First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrArtifactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询产物失败: %w", err)
	}
	return &a, nil
}

// HasArtifactTypes 判断案件是否已拥有全部给定类型的产物
func (m *MySQL) HasArtifactTypes(ctx context.Context, caseID string, types ...constants.ArtifactType) (bool, error) {
	if len(types) == 0 {
		return true, nil
	}
	typeStrs := make([]string, len(types))
	for i, t := range types {
		typeStrs[i] = string(t)
	}
	var count int64
	err := m.db.WithContext(ctx).Model(&models.CaseArtifact{}).
		Where("case_id = ? AND type IN ?", caseID, typeStrs).
		Distinct("type").
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("统计产物类型失败: %w", err)
	}
	return count >= int64(len(types)), nil
}

// ---- 事件 ----

// AppendEvent 追加一条案件审计事件
func (m *MySQL) AppendEvent(ctx context.Context, caseID string, eventType constants.EventType, details map[string]interface{}) error {
	return m.appendEventTx(m.db.WithContext(ctx), caseID, eventType, details)
}

func (m *MySQL) appendEventTx(tx *gorm.DB, caseID string, eventType constants.EventType, details map[string]interface{}) error {
	detailsJSON, err := models.MapToJSON(details)
	if err != nil {
		return fmt.Errorf("序列化事件详情失败: %w", err)
	}
	event := &models.CaseEvent{
		CaseID:  caseID,
		Type:    string(eventType),
		Details: detailsJSON,
	}
	if err := tx.Create(event).Error; err != nil {
		return fmt.Errorf("追加审计事件失败: %w", err)
	}
	return nil
}

// ListEvents 按时间升序返回案件审计事件
func (m *MySQL) ListEvents(ctx context.Context, caseID string) ([]models.CaseEvent, error) {
	var events []models.CaseEvent
	err := m.db.WithContext(ctx).
		Where("case_id = ?", caseID).
		Order("event_id ASC").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("查询审计事件失败: %w", err)
	}
	return events, nil
}
