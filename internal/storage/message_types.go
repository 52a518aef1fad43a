package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"resume-pipeline-go/internal/constants"

	"github.com/google/uuid"
)

// 队列消息契约。入队和消费两端都必须先通过Validate，
// 不合法的消息直接拒绝且不重投。

// ProcessCaseMessage 启动整个案件流水线
type ProcessCaseMessage struct {
	SchemaVersion int       `json:"schemaVersion"`
	CaseID        string    `json:"caseId"`
	EnqueuedAt    time.Time `json:"enqueuedAt"`
}

// Validate 校验消息契约
func (m *ProcessCaseMessage) Validate() error {
	if m.SchemaVersion != constants.TaskSchemaVersion {
		return fmt.Errorf("不支持的消息版本: %d", m.SchemaVersion)
	}
	if _, err := uuid.Parse(m.CaseID); err != nil {
		return fmt.Errorf("caseId不是合法UUID: %q", m.CaseID)
	}
	return nil
}

// ExtractDocumentMessage 抽取单个源文档的文本
type ExtractDocumentMessage struct {
	SchemaVersion int       `json:"schemaVersion"`
	CaseID        string    `json:"caseId"`
	DocumentID    string    `json:"documentId"`
	EnqueuedAt    time.Time `json:"enqueuedAt"`
}

// Validate 校验消息契约
func (m *ExtractDocumentMessage) Validate() error {
	if m.SchemaVersion != constants.TaskSchemaVersion {
		return fmt.Errorf("不支持的消息版本: %d", m.SchemaVersion)
	}
	if _, err := uuid.Parse(m.CaseID); err != nil {
		return fmt.Errorf("caseId不是合法UUID: %q", m.CaseID)
	}
	if _, err := uuid.Parse(m.DocumentID); err != nil {
		return fmt.Errorf("documentId不是合法UUID: %q", m.DocumentID)
	}
	return nil
}

// GenerateArtifactMessage 生成指定类型的产物
type GenerateArtifactMessage struct {
	SchemaVersion int       `json:"schemaVersion"`
	CaseID        string    `json:"caseId"`
	ArtifactType  string    `json:"artifactType"`
	EnqueuedAt    time.Time `json:"enqueuedAt"`
}

// Validate 校验消息契约
func (m *GenerateArtifactMessage) Validate() error {
	if m.SchemaVersion != constants.TaskSchemaVersion {
		return fmt.Errorf("不支持的消息版本: %d", m.SchemaVersion)
	}
	if _, err := uuid.Parse(m.CaseID); err != nil {
		return fmt.Errorf("caseId不是合法UUID: %q", m.CaseID)
	}
	if !constants.IsValidArtifactType(constants.ArtifactType(m.ArtifactType)) {
		return fmt.Errorf("不支持的产物类型: %q", m.ArtifactType)
	}
	return nil
}

// taskMessage 所有任务消息共同实现的契约
type taskMessage interface {
	Validate() error
}

// MarshalTask 校验后序列化任务消息
func MarshalTask(m taskMessage) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// UnmarshalTask 反序列化并校验任务消息
func UnmarshalTask(data []byte, m taskMessage) error {
	if err := json.Unmarshal(data, m); err != nil {
		return fmt.Errorf("消息反序列化失败: %w", err)
	}
	return m.Validate()
}
