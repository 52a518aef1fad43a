package processor

import (
	"context"

	"resume-pipeline-go/internal/constants"
	"resume-pipeline-go/internal/extractor"
	"resume-pipeline-go/internal/generator"
	"resume-pipeline-go/internal/notifier"
	"resume-pipeline-go/internal/postprocessor"
	"resume-pipeline-go/internal/storage/models"
	"resume-pipeline-go/internal/types"
)

// CaseRepository 案件数据访问接口，由 storage.MySQL 实现
type CaseRepository interface {
	GetCase(ctx context.Context, caseID string) (*models.Case, error)
	UpdateCaseStatus(ctx context.Context, caseID string, updates map[string]interface{}) error
	AdvanceCaseStatus(ctx context.Context, caseID string, from, to constants.CaseStatus, extra map[string]interface{}) (bool, error)
	AdvanceCaseStep(ctx context.Context, caseID string, fromStep, toStep constants.CaseStep, outboxMsgs ...*models.OutboxMessage) (bool, error)
	IncrementGenerationAttempts(ctx context.Context, caseID string) (int, error)

	GetDocument(ctx context.Context, caseID, documentID string) (*models.CaseDocument, error)
	GetCaseDocuments(ctx context.Context, caseID string) ([]models.CaseDocument, error)
	UpdateDocumentStatus(ctx context.Context, caseID, documentID string, updates map[string]interface{}, eventType constants.EventType, eventDetails map[string]interface{}) error

	CreateArtifact(ctx context.Context, a *models.CaseArtifact) error
	FindLatestArtifactByType(ctx context.Context, caseID string, artifactType constants.ArtifactType) (*models.CaseArtifact, error)
	HasArtifactTypes(ctx context.Context, caseID string, artifactTypes ...constants.ArtifactType) (bool, error)

	AppendEvent(ctx context.Context, caseID string, eventType constants.EventType, details map[string]interface{}) error
}

// ArtifactStore 对象存储接口，由 storage.MinIO 实现
type ArtifactStore interface {
	UploadArtifact(ctx context.Context, caseID, artifactID, fileName string, data []byte, contentType string) (string, error)
	DownloadRawDocument(ctx context.Context, objectKey string) ([]byte, error)
	DownloadArtifact(ctx context.Context, objectKey string) ([]byte, error)
}

// TaskDispatcher 任务入队接口，由 storage.TaskDispatcher 实现
type TaskDispatcher interface {
	EnqueueExtractDocument(ctx context.Context, caseID, documentID string) error
	EnqueueGenerateArtifact(ctx context.Context, caseID string, artifactType constants.ArtifactType) error
}

// TextExtractor 文本抽取接口，由 extractor.TextExtractor 实现
type TextExtractor interface {
	Extract(ctx context.Context, fileName string, data []byte) (*extractor.Result, error)
}

// ResumeGenerator 简历生成接口，由 generator.ResumeGenerator 实现
type ResumeGenerator interface {
	GenerateResume(ctx context.Context, input generator.GenerationInput) (*types.ResumeJSON, []byte, error)
}

// HTMLRenderer 简历HTML渲染接口，由 renderer.HTMLRenderer 实现
type HTMLRenderer interface {
	Render(resume *types.ResumeJSON, resumeType types.ResumeType) (string, error)
}

// PDFRenderer PDF渲染接口，由 renderer.PDFRenderer 实现
type PDFRenderer interface {
	RenderPDF(ctx context.Context, html string) ([]byte, error)
}

// DocxRenderer DOCX渲染接口，由 renderer.DocxRenderer 实现
type DocxRenderer interface {
	RenderDOCX(resume *types.ResumeJSON) ([]byte, error)
}

// PostProcessor 渲染前HTML后处理接口，由 postprocessor.Pipeline 实现
type PostProcessor interface {
	Process(ctx context.Context, rawHTML string, opts postprocessor.Options) (*postprocessor.Result, error)
}

// DedupCache 原始文件去重缓存接口，由 storage.Redis 实现
type DedupCache interface {
	CheckAndAddCaseRawMD5(ctx context.Context, caseID, md5Hex string) (bool, error)
}

// CaseNotifier 案件终态通知接口，由 notifier.WebhookNotifier 实现。
// 通知是旁路能力，实现失败不回传到处理流程。
type CaseNotifier interface {
	NotifyCaseResult(ctx context.Context, result notifier.CaseResult) error
}
