package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"

	"resume-pipeline-go/internal/config"
	"resume-pipeline-go/internal/constants"
	"resume-pipeline-go/internal/logger"
	"resume-pipeline-go/internal/processor"
	"resume-pipeline-go/internal/storage"
	"resume-pipeline-go/internal/storage/models"
	"resume-pipeline-go/internal/tracing"
)

// 面向路由层的哨兵错误，由路由层映射为HTTP状态码
var (
	ErrValidation = errors.New("请求参数不合法")
	ErrNotFound   = errors.New("资源不存在")
	ErrConflict   = errors.New("案件状态不允许该操作")
)

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// CaseHandler 案件API处理器，负责入件面与内部任务回调的业务逻辑
type CaseHandler struct {
	cfg        *config.Config
	storage    *storage.Storage
	dispatcher *storage.TaskDispatcher
	processor  *processor.CaseProcessor
}

// NewCaseHandler 创建案件处理器
func NewCaseHandler(cfg *config.Config, st *storage.Storage, dispatcher *storage.TaskDispatcher, proc *processor.CaseProcessor) *CaseHandler {
	return &CaseHandler{
		cfg:        cfg,
		storage:    st,
		dispatcher: dispatcher,
		processor:  proc,
	}
}

// CreateCaseRequest 创建案件请求
type CreateCaseRequest struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	TargetRole string `json:"targetRole"`
}

// CreateCaseResponse 创建案件响应
type CreateCaseResponse struct {
	CaseID string `json:"caseId"`
	Status string `json:"status"`
}

// HandleCreateCase 创建新案件，初始状态pending
func (h *CaseHandler) HandleCreateCase(ctx context.Context, req *CreateCaseRequest) (*CreateCaseResponse, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("%w: name不能为空", ErrValidation)
	}
	if !emailPattern.MatchString(req.Email) {
		return nil, fmt.Errorf("%w: email格式不正确", ErrValidation)
	}

	caseID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("生成案件ID失败: %w", err)
	}

	c := &models.Case{
		CaseID:     caseID.String(),
		Name:       strings.TrimSpace(req.Name),
		Email:      strings.TrimSpace(req.Email),
		TargetRole: strings.TrimSpace(req.TargetRole),
		Status:     string(constants.CaseStatusPending),
	}
	if err := h.storage.MySQL.CreateCase(ctx, c); err != nil {
		return nil, fmt.Errorf("创建案件失败: %w", err)
	}

	logger.Ctx(ctx).Info().
		Str("case_id", c.CaseID).
		Str("target_role", c.TargetRole).
		Str("email", tracing.MaskPII(c.Email)).
		Msg("案件已创建")
	return &CreateCaseResponse{CaseID: c.CaseID, Status: c.Status}, nil
}

// UploadFileRequest 单个文件的签名请求
type UploadFileRequest struct {
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
	SizeBytes   int64  `json:"sizeBytes"`
}

// RequestUploadsRequest 批量签名请求
type RequestUploadsRequest struct {
	Files []UploadFileRequest `json:"files"`
}

// UploadSlot 单个文件的直传信息
type UploadSlot struct {
	DocumentID string                   `json:"documentId"`
	FileName   string                   `json:"fileName"`
	Upload     *storage.PresignedUpload `json:"upload"`
}

// HandleRequestUploads 批量签发直传上传URL并创建pending_upload文档记录。
// 只允许pending状态的案件追加文档。
func (h *CaseHandler) HandleRequestUploads(ctx context.Context, caseID string, req *RequestUploadsRequest) ([]UploadSlot, error) {
	c, err := h.getCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.Status != string(constants.CaseStatusPending) {
		return nil, fmt.Errorf("%w: 案件状态为%s", ErrConflict, c.Status)
	}

	if err := validateUploadFiles(req.Files); err != nil {
		return nil, err
	}

	slots := make([]UploadSlot, 0, len(req.Files))
	docs := make([]models.CaseDocument, 0, len(req.Files))
	for _, f := range req.Files {
		documentID, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("生成文档ID失败: %w", err)
		}

		upload, err := h.storage.MinIO.PresignedUploadURL(ctx, caseID, documentID.String(), f.FileName)
		if err != nil {
			return nil, fmt.Errorf("生成上传签名失败: %w", err)
		}

		docs = append(docs, models.CaseDocument{
			DocumentID:  documentID.String(),
			CaseID:      caseID,
			FileName:    f.FileName,
			ContentType: f.ContentType,
			SizeBytes:   f.SizeBytes,
			StoragePath: upload.ObjectKey,
			Status:      string(constants.DocStatusPendingUpload),
		})
		slots = append(slots, UploadSlot{
			DocumentID: documentID.String(),
			FileName:   f.FileName,
			Upload:     upload,
		})
	}

	if err := h.storage.MySQL.CreateDocuments(ctx, docs); err != nil {
		return nil, fmt.Errorf("创建文档记录失败: %w", err)
	}
	return slots, nil
}

// validateUploadFiles 校验批量签名请求：数量、扩展名白名单、大小上限
func validateUploadFiles(files []UploadFileRequest) error {
	if len(files) == 0 {
		return fmt.Errorf("%w: files不能为空", ErrValidation)
	}
	if len(files) > constants.MaxUploadFiles {
		return fmt.Errorf("%w: 单次最多%d个文件", ErrValidation, constants.MaxUploadFiles)
	}
	for _, f := range files {
		ext := strings.ToLower(filepath.Ext(f.FileName))
		if !constants.AllowedUploadExtensions[ext] {
			return fmt.Errorf("%w: 不支持的文件类型%q", ErrValidation, ext)
		}
		if f.SizeBytes > constants.MaxUploadSizeBytes {
			return fmt.Errorf("%w: 文件%s超过大小上限", ErrValidation, f.FileName)
		}
	}
	return nil
}

// StartProcessingResponse 触发处理的响应
type StartProcessingResponse struct {
	CaseID string `json:"caseId"`
	Status string `json:"status"`
}

// HandleStartProcessing 标记文档已上传并投递案件处理任务。
// 重复调用是幂等的：已在处理中的案件直接返回当前状态。
func (h *CaseHandler) HandleStartProcessing(ctx context.Context, caseID string) (*StartProcessingResponse, error) {
	c, err := h.getCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if constants.IsTerminalCaseStatus(constants.CaseStatus(c.Status)) {
		return nil, fmt.Errorf("%w: 案件已%s", ErrConflict, c.Status)
	}
	if c.Status == string(constants.CaseStatusProcessing) {
		return &StartProcessingResponse{CaseID: caseID, Status: c.Status}, nil
	}

	docs, err := h.storage.MySQL.GetCaseDocuments(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: 案件没有任何文档", ErrValidation)
	}

	// 签名URL是直传的，提交处理前确认对象确实已经落到存储
	for _, d := range docs {
		if d.Status != string(constants.DocStatusPendingUpload) {
			continue
		}
		exists, err := h.storage.MinIO.RawObjectExists(ctx, d.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("检查原始对象失败: %w", err)
		}
		if !exists {
			return nil, fmt.Errorf("%w: 文件%s尚未完成上传", ErrConflict, d.FileName)
		}
	}

	if err := h.storage.MySQL.MarkDocumentsUploaded(ctx, caseID); err != nil {
		return nil, err
	}
	if err := h.dispatcher.EnqueueProcessCase(ctx, caseID); err != nil {
		return nil, fmt.Errorf("投递案件处理任务失败: %w", err)
	}

	logger.Ctx(ctx).Info().Str("case_id", caseID).Msg("案件已提交处理")
	return &StartProcessingResponse{CaseID: caseID, Status: string(constants.CaseStatusPending)}, nil
}

// DocumentSummary 文档状态摘要
type DocumentSummary struct {
	DocumentID       string `json:"documentId"`
	FileName         string `json:"fileName"`
	Status           string `json:"status"`
	ExtractionStatus string `json:"extractionStatus,omitempty"`
}

// ArtifactSummary 产物摘要
type ArtifactSummary struct {
	ArtifactID string `json:"artifactId"`
	Type       string `json:"type"`
	FileName   string `json:"fileName"`
	SizeBytes  int64  `json:"sizeBytes"`
}

// CaseStatusResponse 案件状态查询响应
type CaseStatusResponse struct {
	CaseID      string            `json:"caseId"`
	Name        string            `json:"name"`
	TargetRole  string            `json:"targetRole"`
	Status      string            `json:"status"`
	CurrentStep string            `json:"currentStep,omitempty"`
	Progress    int               `json:"progress"`
	FailReason  string            `json:"failReason,omitempty"`
	Documents   []DocumentSummary `json:"documents"`
	Artifacts   []ArtifactSummary `json:"artifacts"`
}

// HandleGetCase 查询案件状态、进度与产物摘要
func (h *CaseHandler) HandleGetCase(ctx context.Context, caseID string) (*CaseStatusResponse, error) {
	c, err := h.getCase(ctx, caseID)
	if err != nil {
		return nil, err
	}

	docs, err := h.storage.MySQL.GetCaseDocuments(ctx, caseID)
	if err != nil {
		return nil, err
	}
	artifacts, err := h.storage.MySQL.ListArtifacts(ctx, caseID)
	if err != nil {
		return nil, err
	}

	resp := &CaseStatusResponse{
		CaseID:      c.CaseID,
		Name:        c.Name,
		TargetRole:  c.TargetRole,
		Status:      c.Status,
		CurrentStep: c.CurrentStep,
		Progress:    c.Progress,
		FailReason:  c.FailReason,
		Documents:   make([]DocumentSummary, 0, len(docs)),
		Artifacts:   make([]ArtifactSummary, 0, len(artifacts)),
	}
	for _, d := range docs {
		resp.Documents = append(resp.Documents, DocumentSummary{
			DocumentID:       d.DocumentID,
			FileName:         d.FileName,
			Status:           d.Status,
			ExtractionStatus: d.ExtractionStatus,
		})
	}
	for _, a := range artifacts {
		resp.Artifacts = append(resp.Artifacts, ArtifactSummary{
			ArtifactID: a.ArtifactID,
			Type:       a.Type,
			FileName:   a.FileName,
			SizeBytes:  a.SizeBytes,
		})
	}
	return resp, nil
}

// CaseListItem 案件列表项
type CaseListItem struct {
	CaseID     string    `json:"caseId"`
	Name       string    `json:"name"`
	TargetRole string    `json:"targetRole"`
	Status     string    `json:"status"`
	Progress   int       `json:"progress"`
	CreatedAt  time.Time `json:"createdAt"`
}

// CaseListResponse 案件分页列表响应
type CaseListResponse struct {
	Cases  []CaseListItem `json:"cases"`
	Total  int64          `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// HandleListCases 按创建时间倒序分页列出案件
func (h *CaseHandler) HandleListCases(ctx context.Context, limit, offset int) (*CaseListResponse, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	cases, total, err := h.storage.MySQL.ListCases(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	resp := &CaseListResponse{
		Cases:  make([]CaseListItem, 0, len(cases)),
		Total:  total,
		Limit:  limit,
		Offset: offset,
	}
	for _, c := range cases {
		resp.Cases = append(resp.Cases, CaseListItem{
			CaseID:     c.CaseID,
			Name:       c.Name,
			TargetRole: c.TargetRole,
			Status:     c.Status,
			Progress:   c.Progress,
			CreatedAt:  c.CreatedAt,
		})
	}
	return resp, nil
}

// CaseEventView 审计事件视图
type CaseEventView struct {
	Type      string          `json:"type"`
	Details   json.RawMessage `json:"details,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// HandleListEvents 按时间升序返回案件审计轨迹
func (h *CaseHandler) HandleListEvents(ctx context.Context, caseID string) ([]CaseEventView, error) {
	if _, err := h.getCase(ctx, caseID); err != nil {
		return nil, err
	}

	events, err := h.storage.MySQL.ListEvents(ctx, caseID)
	if err != nil {
		return nil, err
	}
	out := make([]CaseEventView, 0, len(events))
	for _, e := range events {
		out = append(out, CaseEventView{
			Type:      e.Type,
			Details:   json.RawMessage(e.Details),
			CreatedAt: e.CreatedAt,
		})
	}
	return out, nil
}

// ArtifactDownloadResponse 产物下载响应
type ArtifactDownloadResponse struct {
	ArtifactID string `json:"artifactId"`
	FileName   string `json:"fileName"`
	URL        string `json:"url"`
}

// HandleArtifactDownload 产物按案件隔离查询后签发下载URL
func (h *CaseHandler) HandleArtifactDownload(ctx context.Context, caseID, artifactID string) (*ArtifactDownloadResponse, error) {
	if _, err := h.getCase(ctx, caseID); err != nil {
		return nil, err
	}

	a, err := h.storage.MySQL.GetArtifact(ctx, caseID, artifactID)
	if errors.Is(err, storage.ErrArtifactNotFound) {
		return nil, fmt.Errorf("%w: 产物%s", ErrNotFound, artifactID)
	}
	if err != nil {
		return nil, err
	}

	url, err := h.storage.MinIO.PresignedDownloadURL(ctx, a.StoragePath, a.FileName)
	if err != nil {
		return nil, fmt.Errorf("生成下载签名失败: %w", err)
	}
	return &ArtifactDownloadResponse{ArtifactID: a.ArtifactID, FileName: a.FileName, URL: url}, nil
}

// RequestArtifactRequest 追加产物请求
type RequestArtifactRequest struct {
	Type string `json:"type"`
}

// HandleRequestArtifact 为已有结构化简历的案件追加生成一种产物（如对照版PDF）
func (h *CaseHandler) HandleRequestArtifact(ctx context.Context, caseID string, req *RequestArtifactRequest) error {
	artifactType := constants.ArtifactType(req.Type)
	if !constants.IsValidArtifactType(artifactType) {
		return fmt.Errorf("%w: 不支持的产物类型%q", ErrValidation, req.Type)
	}

	if _, err := h.getCase(ctx, caseID); err != nil {
		return err
	}

	// 追加产物以结构化简历为输入，生成阶段未完成时无法渲染
	if _, err := h.storage.MySQL.FindLatestArtifactByType(ctx, caseID, constants.ArtifactResumeJSON); err != nil {
		if errors.Is(err, storage.ErrArtifactNotFound) {
			return fmt.Errorf("%w: 结构化简历尚未生成", ErrConflict)
		}
		return err
	}

	if err := h.dispatcher.EnqueueGenerateArtifact(ctx, caseID, artifactType); err != nil {
		return fmt.Errorf("投递产物生成任务失败: %w", err)
	}
	logger.Ctx(ctx).Info().
		Str("case_id", caseID).
		Str("artifact_type", req.Type).
		Msg("已投递追加产物任务")
	return nil
}

// ---- 内部任务回调 ----

// TaskOutcome 内部任务回调的处理结果
type TaskOutcome struct {
	// Settled 任务已落定（成功或确定性丢弃），不应重试
	Settled bool
	// Discarded 消息不合法被丢弃
	Discarded bool
	Err       error
}

// HandleProcessCaseTask 处理案件启动任务回调
func (h *CaseHandler) HandleProcessCaseTask(ctx context.Context, body []byte) TaskOutcome {
	var msg storage.ProcessCaseMessage
	if err := storage.UnmarshalTask(body, &msg); err != nil {
		return TaskOutcome{Discarded: true, Err: err}
	}
	return h.settle(h.processor.ProcessCase(ctx, msg.CaseID))
}

// HandleExtractDocumentTask 处理文档抽取任务回调
func (h *CaseHandler) HandleExtractDocumentTask(ctx context.Context, body []byte) TaskOutcome {
	var msg storage.ExtractDocumentMessage
	if err := storage.UnmarshalTask(body, &msg); err != nil {
		return TaskOutcome{Discarded: true, Err: err}
	}
	return h.settle(h.processor.ExtractDocument(ctx, msg.CaseID, msg.DocumentID))
}

// HandleGenerateArtifactTask 处理产物生成任务回调
func (h *CaseHandler) HandleGenerateArtifactTask(ctx context.Context, body []byte) TaskOutcome {
	var msg storage.GenerateArtifactMessage
	if err := storage.UnmarshalTask(body, &msg); err != nil {
		return TaskOutcome{Discarded: true, Err: err}
	}
	return h.settle(h.processor.GenerateArtifact(ctx, msg.CaseID, constants.ArtifactType(msg.ArtifactType)))
}

func (h *CaseHandler) settle(err error) TaskOutcome {
	if err == nil {
		return TaskOutcome{Settled: true}
	}
	if !processor.ShouldRetry(err) {
		// 不可重试的错误视为已落定，确认消息避免无限重投
		return TaskOutcome{Settled: true, Discarded: true, Err: err}
	}
	return TaskOutcome{Err: err}
}

func (h *CaseHandler) getCase(ctx context.Context, caseID string) (*models.Case, error) {
	c, err := h.storage.MySQL.GetCase(ctx, caseID)
	if errors.Is(err, storage.ErrCaseNotFound) {
		return nil, fmt.Errorf("%w: 案件%s", ErrNotFound, caseID)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}
