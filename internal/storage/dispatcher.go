package storage

import (
	"context"
	"fmt"
	"time"

	"resume-pipeline-go/internal/config"
	"resume-pipeline-go/internal/constants"
	"resume-pipeline-go/internal/storage/models"
)

// TaskDispatcher 任务分发器。所有消息在入队前都会通过契约校验，
// 校验失败的消息不会被发布。
type TaskDispatcher struct {
	mq  MessageQueue
	cfg *config.RabbitMQConfig
}

// NewTaskDispatcher 创建任务分发器
func NewTaskDispatcher(mq MessageQueue, cfg *config.RabbitMQConfig) (*TaskDispatcher, error) {
	if mq == nil {
		return nil, fmt.Errorf("消息队列不能为空")
	}
	if cfg == nil {
		return nil, fmt.Errorf("RabbitMQ配置不能为空")
	}
	return &TaskDispatcher{mq: mq, cfg: cfg}, nil
}

// EnqueueProcessCase 发布案件处理任务
func (d *TaskDispatcher) EnqueueProcessCase(ctx context.Context, caseID string) error {
	msg := &ProcessCaseMessage{
		SchemaVersion: constants.TaskSchemaVersion,
		CaseID:        caseID,
		EnqueuedAt:    time.Now().UTC(),
	}
	data, err := MarshalTask(msg)
	if err != nil {
		return fmt.Errorf("案件处理任务校验失败: %w", err)
	}
	return d.mq.PublishMessage(ctx, d.cfg.CaseTasksExchange, d.cfg.ProcessCaseRoutingKey, data, true)
}

// EnqueueExtractDocument 发布文档抽取任务
func (d *TaskDispatcher) EnqueueExtractDocument(ctx context.Context, caseID, documentID string) error {
	msg := &ExtractDocumentMessage{
		SchemaVersion: constants.TaskSchemaVersion,
		CaseID:        caseID,
		DocumentID:    documentID,
		EnqueuedAt:    time.Now().UTC(),
	}
	data, err := MarshalTask(msg)
	if err != nil {
		return fmt.Errorf("文档抽取任务校验失败: %w", err)
	}
	return d.mq.PublishMessage(ctx, d.cfg.CaseTasksExchange, d.cfg.ExtractDocumentRoutingKey, data, true)
}

// EnqueueGenerateArtifact 发布产物生成任务
func (d *TaskDispatcher) EnqueueGenerateArtifact(ctx context.Context, caseID string, artifactType constants.ArtifactType) error {
	data, err := GenerateArtifactOutboxPayload(caseID, artifactType)
	if err != nil {
		return err
	}
	return d.mq.PublishMessage(ctx, d.cfg.CaseTasksExchange, d.cfg.GenerateArtifactRoutingKey, data, true)
}

// GenerateArtifactOutboxPayload 构造并校验产物生成任务的载荷
func GenerateArtifactOutboxPayload(caseID string, artifactType constants.ArtifactType) ([]byte, error) {
	msg := &GenerateArtifactMessage{
		SchemaVersion: constants.TaskSchemaVersion,
		CaseID:        caseID,
		ArtifactType:  string(artifactType),
		EnqueuedAt:    time.Now().UTC(),
	}
	data, err := MarshalTask(msg)
	if err != nil {
		return nil, fmt.Errorf("产物生成任务校验失败: %w", err)
	}
	return data, nil
}

// NewGenerateArtifactOutboxMessage 构造写入发件箱的产物生成任务。
// 与业务写入同事务落库后由中继投递，保证临界入队不丢失。
func NewGenerateArtifactOutboxMessage(cfg *config.RabbitMQConfig, caseID string, artifactType constants.ArtifactType) (*models.OutboxMessage, error) {
	data, err := GenerateArtifactOutboxPayload(caseID, artifactType)
	if err != nil {
		return nil, err
	}
	return &models.OutboxMessage{
		AggregateID:      caseID,
		EventType:        "case.generate_artifact",
		Payload:          string(data),
		TargetExchange:   cfg.CaseTasksExchange,
		TargetRoutingKey: cfg.GenerateArtifactRoutingKey,
	}, nil
}
