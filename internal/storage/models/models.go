package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Case 案件主表。状态机: pending -> processing -> {completed|failed}
type Case struct {
	CaseID     string `gorm:"type:char(36);primaryKey"`
	Name       string `gorm:"type:varchar(255);not null"`
	Email      string `gorm:"type:varchar(255);not null;index:idx_cases_email"`
	TargetRole string `gorm:"type:varchar(255)"`

	Status      string `gorm:"type:varchar(50);default:'pending';index:idx_cases_status"`
	CurrentStep string `gorm:"type:varchar(50)"`
	Progress    int    `gorm:"type:int;default:0"`
	// FailReason 终态failed时的粗粒度原因码，不携带内部细节
	FailReason string `gorm:"type:varchar(100)"`
	// GenerationAttempts 生成阶段内容错误的累计重试次数
	GenerationAttempts int `gorm:"type:int;default:0"`

	CreatedAt time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (Case) TableName() string {
	return "cases"
}

// CaseDocument 案件的源文档
type CaseDocument struct {
	DocumentID  string `gorm:"type:char(36);primaryKey"`
	CaseID      string `gorm:"type:char(36);not null;index:idx_case_documents_case_id"`
	FileName    string `gorm:"type:varchar(255);not null"`
	ContentType string `gorm:"type:varchar(100)"`
	SizeBytes   int64  `gorm:"type:bigint;default:0"`
	// StoragePath 原始文件在对象存储中的路径 cases/{caseId}/raw/{documentId}/{fileName}
	StoragePath string `gorm:"type:varchar(1024)"`

	Status string `gorm:"type:varchar(50);default:'pending_upload';index:idx_case_documents_status"`
	// ExtractionStatus 抽取结果: completed / needs_ocr / failed
	ExtractionStatus string `gorm:"type:varchar(50)"`
	ExtractedText    string `gorm:"type:mediumtext"`
	// ExtractionError 抽取失败时的原因码
	ExtractionError string `gorm:"type:varchar(255)"`
	// RawFileMD5 原始字节MD5，用于同案件重复文档检测
	RawFileMD5 string `gorm:"type:char(32);index:idx_case_documents_md5"`

	UploadedAt  time.Time  `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);index:idx_case_documents_uploaded_at"`
	ProcessedAt *time.Time `gorm:"type:datetime(6)"`
	CreatedAt   time.Time  `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt   time.Time  `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`

	Case *Case `gorm:"foreignKey:CaseID;references:CaseID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func (CaseDocument) TableName() string {
	return "case_documents"
}

// CaseArtifact 流水线产物记录。记录写入前对象字节必须已落存储。
type CaseArtifact struct {
	ArtifactID string `gorm:"type:char(36);primaryKey"`
	CaseID     string `gorm:"type:char(36);not null;index:idx_case_artifacts_case_id"`
	Type       string `gorm:"type:varchar(50);not null;index:idx_case_artifacts_type"`
	FileName   string `gorm:"type:varchar(255);not null"`
	// StoragePath 产物在对象存储中的路径 cases/{caseId}/artifacts/{artifactId}/{fileName}
	StoragePath string `gorm:"type:varchar(1024);not null"`
	ContentType string `gorm:"type:varchar(100)"`
	SizeBytes   int64  `gorm:"type:bigint;default:0"`

	CreatedAt time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`

	Case *Case `gorm:"foreignKey:CaseID;references:CaseID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func (CaseArtifact) TableName() string {
	return "case_artifacts"
}

// CaseEvent 案件审计事件，追加写入
type CaseEvent struct {
	EventID   uint64         `gorm:"primaryKey;autoIncrement"`
	CaseID    string         `gorm:"type:char(36);not null;index:idx_case_events_case_id_created,priority:1"`
	Type      string         `gorm:"type:varchar(50);not null"`
	Details   datatypes.JSON `gorm:"type:json"`
	CreatedAt time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);index:idx_case_events_case_id_created,priority:2,sort:asc"`

	Case *Case `gorm:"foreignKey:CaseID;references:CaseID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func (CaseEvent) TableName() string {
	return "case_events"
}

// StringToJSON 将字符串转换为datatypes.JSON
func StringToJSON(s string) datatypes.JSON {
	return datatypes.JSON(s)
}

// MapToJSON 将map转换为datatypes.JSON
func MapToJSON(m map[string]interface{}) (datatypes.JSON, error) {
	bytes, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return bytes, nil
}
