package constants

import "time"

// CaseStatus 案件整体状态
type CaseStatus string

const (
	// CaseStatusPending 已创建，等待首个处理任务
	CaseStatusPending CaseStatus = "pending"
	// CaseStatusProcessing 流水线处理中
	CaseStatusProcessing CaseStatus = "processing"
	// CaseStatusCompleted 终态：全部必需产物已生成
	CaseStatusCompleted CaseStatus = "completed"
	// CaseStatusFailed 终态：处理失败
	CaseStatusFailed CaseStatus = "failed"
)

// IsTerminalCaseStatus 判断案件状态是否为不可变终态
func IsTerminalCaseStatus(s CaseStatus) bool {
	return s == CaseStatusCompleted || s == CaseStatusFailed
}

// CaseStep 处理中案件所处的阶段
type CaseStep string

const (
	StepExtracting     CaseStep = "extracting"
	StepGenerating     CaseStep = "generating"
	StepPostProcessing CaseStep = "post_processing"
	StepRendering      CaseStep = "rendering"
	StepExporting      CaseStep = "exporting"
	StepDone           CaseStep = "done"
)

// StepProgress 各阶段对应的进度值（0-100）
var StepProgress = map[CaseStep]int{
	StepExtracting:     20,
	StepGenerating:     50,
	StepPostProcessing: 70,
	StepRendering:      80,
	StepExporting:      90,
	StepDone:           100,
}

// DocumentStatus 源文档状态
type DocumentStatus string

const (
	DocStatusPendingUpload DocumentStatus = "pending_upload"
	DocStatusUploaded      DocumentStatus = "uploaded"
	DocStatusProcessed     DocumentStatus = "processed"
	DocStatusFailed        DocumentStatus = "failed"
)

// IsTerminalDocumentStatus 文档是否已到达抽取终态
func IsTerminalDocumentStatus(s DocumentStatus) bool {
	return s == DocStatusProcessed || s == DocStatusFailed
}

// ExtractionStatus 单个文档的文本抽取结果
type ExtractionStatus string

const (
	ExtractionCompleted ExtractionStatus = "completed"
	ExtractionNeedsOCR  ExtractionStatus = "needs_ocr"
	ExtractionFailed    ExtractionStatus = "failed"
)

// ArtifactType 产物类型
type ArtifactType string

const (
	ArtifactResumeJSON   ArtifactType = "resume_json"
	ArtifactResumePDF    ArtifactType = "resume_pdf"
	ArtifactResumeDOCX   ArtifactType = "resume_docx"
	ArtifactCrosswalkPDF ArtifactType = "crosswalk_pdf"
)

// RequiredArtifactTypes 案件完成所必需的产物集合
var RequiredArtifactTypes = []ArtifactType{
	ArtifactResumeJSON,
	ArtifactResumePDF,
	ArtifactResumeDOCX,
}

// IsValidArtifactType 校验产物类型取值
func IsValidArtifactType(t ArtifactType) bool {
	switch t {
	case ArtifactResumeJSON, ArtifactResumePDF, ArtifactResumeDOCX, ArtifactCrosswalkPDF:
		return true
	}
	return false
}

// EventType 案件审计事件类型
type EventType string

const (
	EventStatusChange      EventType = "status_change"
	EventStageRetry        EventType = "stage_retry"
	EventDocumentExtracted EventType = "document_extracted"
	EventDocumentDuplicate EventType = "document_duplicate"
	EventArtifactCreated   EventType = "artifact_created"
	EventPostProcessed     EventType = "post_processed"
	EventSecurityViolation EventType = "security_violation"
)

// 失败原因码。写入案件状态时只暴露粗粒度原因，不携带内部细节。
const (
	FailReasonNoDocuments       = "no_documents"
	FailReasonNoExtractableText = "no_extractable_text"
	FailReasonGenerationInvalid = "generation_invalid_output"
	FailReasonSecurityViolation = "security_violation"
	FailReasonRenderFailed      = "render_failed"
)

const (
	// MaxUploadFiles 单次签名请求允许的最大文件数
	MaxUploadFiles = 10
	// MaxUploadSizeBytes 单文件上传上限（由存储端策略强制执行）
	MaxUploadSizeBytes = 10 << 20

	// UploadURLTTL 上传签名URL有效期
	UploadURLTTL = 15 * time.Minute
	// DownloadURLTTL 下载签名URL有效期
	DownloadURLTTL = 60 * time.Minute

	// MaxGenerationContentRetries 生成内容不合法时的最大重试次数
	MaxGenerationContentRetries = 3

	// TaskSchemaVersion 队列消息契约版本
	TaskSchemaVersion = 1
)

// AllowedUploadExtensions 上传文件扩展名白名单（小写，含点）
var AllowedUploadExtensions = map[string]bool{
	".pdf":  true,
	".docx": true,
	".txt":  true,
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".webp": true,
}

// SourceTextSeparator 多文档抽取文本在送入生成阶段前的拼接分隔符
const SourceTextSeparator = "\n\n---\n\n"
