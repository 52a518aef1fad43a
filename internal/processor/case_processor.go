package processor

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"resume-pipeline-go/internal/config"
	"resume-pipeline-go/internal/constants"
	"resume-pipeline-go/internal/generator"
	"resume-pipeline-go/internal/logger"
	"resume-pipeline-go/internal/notifier"
	"resume-pipeline-go/internal/postprocessor"
	"resume-pipeline-go/internal/storage"
	"resume-pipeline-go/internal/storage/models"
	"resume-pipeline-go/internal/tracing"
	"resume-pipeline-go/internal/types"
)

// Components 聚合所有功能组件依赖，便于集中管理和测试替换
type Components struct {
	Repo          CaseRepository
	Store         ArtifactStore
	Dispatcher    TaskDispatcher
	Extractor     TextExtractor
	Generator     ResumeGenerator
	HTMLRenderer  HTMLRenderer
	PDFRenderer   PDFRenderer
	DocxRenderer  DocxRenderer
	PostProcessor PostProcessor
	Dedup         DedupCache
	// Notifier 可选：案件终态的运营通知
	Notifier CaseNotifier
}

// Settings 纯配置项，不包含任何业务逻辑组件
type Settings struct {
	// QueueConfig 用于构造发件箱消息的路由信息
	QueueConfig *config.RabbitMQConfig
	// DefaultResumeType 标准PDF/DOCX产物使用的简历变体
	DefaultResumeType types.ResumeType
	// MaxContentRetries 生成内容不合法时的重试预算
	MaxContentRetries int
}

// CaseProcessor 案件处理编排器。所有入口都是幂等的：
// 前置状态不满足（已推进或已终态）时直接返回成功，使至少一次投递安全。
type CaseProcessor struct {
	Components
	Settings
	tracer trace.Tracer
}

// NewCaseProcessor 创建案件编排器
func NewCaseProcessor(c Components, s Settings) (*CaseProcessor, error) {
	if c.Repo == nil || c.Store == nil || c.Dispatcher == nil {
		return nil, fmt.Errorf("存储与任务分发组件不能为空")
	}
	if s.DefaultResumeType == "" {
		s.DefaultResumeType = types.ResumeTypeStandard
	}
	if s.MaxContentRetries <= 0 {
		s.MaxContentRetries = constants.MaxGenerationContentRetries
	}
	return &CaseProcessor{Components: c, Settings: s, tracer: otel.Tracer("resume-pipeline-go/processor")}, nil
}

// ProcessCase 案件处理入口：pending案件推进到processing(extracting)，
// 并为每个文档投递抽取任务。零文档是案件级终态失败。
func (p *CaseProcessor) ProcessCase(ctx context.Context, caseID string) error {
	ctx, span := p.tracer.Start(ctx, "processor.ProcessCase")
	defer span.End()
	span.SetAttributes(attribute.String("case_id", caseID))

	c, err := p.Repo.GetCase(ctx, caseID)
	if errors.Is(err, storage.ErrCaseNotFound) {
		return NewInvalidTaskError(caseID, "案件不存在")
	}
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return NewDatabaseError(caseID, err.Error())
	}
	if constants.IsTerminalCaseStatus(constants.CaseStatus(c.Status)) {
		logger.Ctx(ctx).Info().Str("case_id", caseID).Str("status", c.Status).Msg("案件已终态，跳过处理")
		return nil
	}

	docs, err := p.Repo.GetCaseDocuments(ctx, caseID)
	if err != nil {
		return NewDatabaseError(caseID, err.Error())
	}
	if len(docs) == 0 {
		return p.failCase(ctx, caseID, constants.FailReasonNoDocuments)
	}

	won, err := p.Repo.AdvanceCaseStatus(ctx, caseID,
		constants.CaseStatusPending, constants.CaseStatusProcessing,
		map[string]interface{}{
			"current_step": string(constants.StepExtracting),
			"progress":     constants.StepProgress[constants.StepExtracting],
		})
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return NewUpdateError(caseID, err.Error())
	}
	if !won {
		// 输掉CAS不代表扇出已完成：此前的投递可能在部分文档入队后失败。
		// 案件仍停在抽取阶段时补投剩余抽取任务，下游按文档状态幂等去重。
		cur, err := p.Repo.GetCase(ctx, caseID)
		if err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeDB)
			return NewDatabaseError(caseID, err.Error())
		}
		if constants.IsTerminalCaseStatus(constants.CaseStatus(cur.Status)) ||
			constants.CaseStep(cur.CurrentStep) != constants.StepExtracting {
			logger.Ctx(ctx).Info().Str("case_id", caseID).Str("step", cur.CurrentStep).Msg("案件已推进过抽取阶段，跳过")
			return nil
		}
	}

	for _, doc := range docs {
		if constants.IsTerminalDocumentStatus(constants.DocumentStatus(doc.Status)) {
			continue
		}
		if err := p.Dispatcher.EnqueueExtractDocument(ctx, caseID, doc.DocumentID); err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeRabbitMQ)
			return &CaseProcessError{CaseID: caseID, Op: "enqueue", BaseErr: err, Detail: doc.DocumentID}
		}
	}
	logger.Ctx(ctx).Info().Str("case_id", caseID).Int("documents", len(docs)).Msg("案件进入抽取阶段")
	return nil
}

// ExtractDocument 单文档的文本抽取。单个文档失败不影响整个案件；
// 当案件全部文档落定后，唯一赢家推进到生成阶段并经发件箱投递生成任务。
func (p *CaseProcessor) ExtractDocument(ctx context.Context, caseID, documentID string) error {
	ctx, span := p.tracer.Start(ctx, "processor.ExtractDocument")
	defer span.End()
	span.SetAttributes(
		attribute.String("case_id", caseID),
		attribute.String("document_id", documentID),
	)

	c, err := p.Repo.GetCase(ctx, caseID)
	if errors.Is(err, storage.ErrCaseNotFound) {
		return NewInvalidTaskError(caseID, "案件不存在")
	}
	if err != nil {
		return NewDatabaseError(caseID, err.Error())
	}
	if constants.IsTerminalCaseStatus(constants.CaseStatus(c.Status)) {
		return nil
	}

	doc, err := p.Repo.GetDocument(ctx, caseID, documentID)
	if errors.Is(err, storage.ErrDocumentNotFound) {
		return NewInvalidTaskError(caseID, fmt.Sprintf("文档 %s 不存在", documentID))
	}
	if err != nil {
		return NewDatabaseError(caseID, err.Error())
	}

	if !constants.IsTerminalDocumentStatus(constants.DocumentStatus(doc.Status)) {
		if err := p.extractOne(ctx, c, doc); err != nil {
			return err
		}
	}

	return p.checkExtractionComplete(ctx, caseID)
}

// extractOne 抽取单个文档并落库。抽取器错误是文档级失败而不是任务失败。
func (p *CaseProcessor) extractOne(ctx context.Context, c *models.Case, doc *models.CaseDocument) error {
	data, err := p.Store.DownloadRawDocument(ctx, doc.StoragePath)
	if err != nil {
		// 下载失败可能是存储瞬时故障，交给重投递
		return NewDownloadError(c.CaseID, fmt.Sprintf("%s: %v", doc.StoragePath, err))
	}

	sum := md5.Sum(data)
	md5Hex := hex.EncodeToString(sum[:])

	if p.Dedup != nil {
		first, dedupErr := p.Dedup.CheckAndAddCaseRawMD5(ctx, c.CaseID, md5Hex)
		if dedupErr != nil {
			// 去重缓存尽力而为，不阻塞处理
			tracing.RecordError(trace.SpanFromContext(ctx), dedupErr, tracing.ErrorTypeRedis)
			logger.Ctx(ctx).Warn().Err(dedupErr).Str("case_id", c.CaseID).Msg("MD5去重检查失败，按非重复继续")
		} else if !first {
			now := time.Now()
			return p.updateDocument(ctx, c.CaseID, doc.DocumentID, map[string]interface{}{
				"status":            string(constants.DocStatusProcessed),
				"extraction_status": string(constants.ExtractionCompleted),
				"extracted_text":    "",
				"raw_file_md5":      md5Hex,
				"processed_at":      &now,
			}, constants.EventDocumentDuplicate, map[string]interface{}{
				"document_id": doc.DocumentID,
				"md5":         md5Hex,
			})
		}
	}

	result, err := p.Extractor.Extract(ctx, doc.FileName, data)
	now := time.Now()
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).
			Str("case_id", c.CaseID).
			Str("document_id", doc.DocumentID).
			Msg("文档抽取失败")
		return p.updateDocument(ctx, c.CaseID, doc.DocumentID, map[string]interface{}{
			"status":            string(constants.DocStatusFailed),
			"extraction_status": string(constants.ExtractionFailed),
			"extraction_error":  truncateDetail(err.Error(), 250),
			"raw_file_md5":      md5Hex,
			"processed_at":      &now,
		}, constants.EventDocumentExtracted, map[string]interface{}{
			"document_id": doc.DocumentID,
			"status":      string(constants.ExtractionFailed),
		})
	}

	logger.Ctx(ctx).Debug().
		Str("case_id", c.CaseID).
		Str("document_id", doc.DocumentID).
		Str("extraction_status", string(result.Status)).
		Str("text_preview", tracing.SafeDocumentText(result.Text)).
		Msg("文档抽取完成")

	return p.updateDocument(ctx, c.CaseID, doc.DocumentID, map[string]interface{}{
		"status":            string(constants.DocStatusProcessed),
		"extraction_status": string(result.Status),
		"extracted_text":    result.Text,
		"raw_file_md5":      md5Hex,
		"processed_at":      &now,
	}, constants.EventDocumentExtracted, map[string]interface{}{
		"document_id": doc.DocumentID,
		"status":      string(result.Status),
		"text_length": len(result.Text),
	})
}

func (p *CaseProcessor) updateDocument(ctx context.Context, caseID, documentID string, updates map[string]interface{}, eventType constants.EventType, details map[string]interface{}) error {
	if err := p.Repo.UpdateDocumentStatus(ctx, caseID, documentID, updates, eventType, details); err != nil {
		return NewDatabaseError(caseID, err.Error())
	}
	return nil
}

// checkExtractionComplete 所有文档落定后的收尾：零可用文本终态失败，
// 否则CAS推进 extracting→generating，赢家在同一事务内写入生成任务的发件箱消息。
func (p *CaseProcessor) checkExtractionComplete(ctx context.Context, caseID string) error {
	docs, err := p.Repo.GetCaseDocuments(ctx, caseID)
	if err != nil {
		return NewDatabaseError(caseID, err.Error())
	}

	extractable := 0
	for _, d := range docs {
		if !constants.IsTerminalDocumentStatus(constants.DocumentStatus(d.Status)) {
			// 还有文档在途，等待它们各自的任务收尾
			return nil
		}
		if d.ExtractionStatus == string(constants.ExtractionCompleted) && strings.TrimSpace(d.ExtractedText) != "" {
			extractable++
		}
	}

	if extractable == 0 {
		return p.failCase(ctx, caseID, constants.FailReasonNoExtractableText)
	}

	outboxMsg, err := storage.NewGenerateArtifactOutboxMessage(p.QueueConfig, caseID, constants.ArtifactResumeJSON)
	if err != nil {
		return NewUpdateError(caseID, err.Error())
	}
	won, err := p.Repo.AdvanceCaseStep(ctx, caseID, constants.StepExtracting, constants.StepGenerating, outboxMsg)
	if err != nil {
		return NewUpdateError(caseID, err.Error())
	}
	if won {
		logger.Ctx(ctx).Info().Str("case_id", caseID).Int("extractable_documents", extractable).Msg("案件进入生成阶段")
	}
	return nil
}

// GenerateArtifact 产物生成入口，按产物类型分发
func (p *CaseProcessor) GenerateArtifact(ctx context.Context, caseID string, artifactType constants.ArtifactType) error {
	ctx, span := p.tracer.Start(ctx, "processor.GenerateArtifact")
	defer span.End()
	span.SetAttributes(
		attribute.String("case_id", caseID),
		attribute.String("artifact_type", string(artifactType)),
	)

	if !constants.IsValidArtifactType(artifactType) {
		return NewInvalidTaskError(caseID, fmt.Sprintf("未知产物类型 %s", artifactType))
	}

	c, err := p.Repo.GetCase(ctx, caseID)
	if errors.Is(err, storage.ErrCaseNotFound) {
		return NewInvalidTaskError(caseID, "案件不存在")
	}
	if err != nil {
		return NewDatabaseError(caseID, err.Error())
	}
	if constants.IsTerminalCaseStatus(constants.CaseStatus(c.Status)) {
		return nil
	}

	switch artifactType {
	case constants.ArtifactResumeJSON:
		return p.generateResumeJSON(ctx, c)
	case constants.ArtifactResumePDF, constants.ArtifactCrosswalkPDF:
		return p.generatePDF(ctx, c, artifactType)
	case constants.ArtifactResumeDOCX:
		return p.generateDOCX(ctx, c)
	default:
		return NewInvalidTaskError(caseID, string(artifactType))
	}
}

// generateResumeJSON 生成阶段：聚合抽取文本，调用LLM，契约校验，先存后记。
// 内容错误按预算重试，耗尽后案件终态失败。
func (p *CaseProcessor) generateResumeJSON(ctx context.Context, c *models.Case) error {
	caseID := c.CaseID

	existing, err := p.Repo.FindLatestArtifactByType(ctx, caseID, constants.ArtifactResumeJSON)
	if err != nil && !errors.Is(err, storage.ErrArtifactNotFound) {
		return NewDatabaseError(caseID, err.Error())
	}

	if existing == nil {
		sourceText, err := p.aggregateSourceText(ctx, caseID)
		if err != nil {
			return err
		}
		if sourceText == "" {
			return p.failCase(ctx, caseID, constants.FailReasonNoExtractableText)
		}

		_, jsonBytes, genErr := p.Generator.GenerateResume(ctx, generator.GenerationInput{
			Name:       c.Name,
			Email:      c.Email,
			TargetRole: c.TargetRole,
			ResumeType: p.DefaultResumeType,
			SourceText: sourceText,
		})
		if genErr != nil {
			return p.handleGenerationError(ctx, caseID, genErr)
		}

		if err := p.storeArtifact(ctx, caseID, constants.ArtifactResumeJSON, "resume.json", "application/json", jsonBytes); err != nil {
			return err
		}
	}

	// 赢家在同一事务内投递PDF与DOCX渲染任务
	pdfMsg, err := storage.NewGenerateArtifactOutboxMessage(p.QueueConfig, caseID, constants.ArtifactResumePDF)
	if err != nil {
		return NewUpdateError(caseID, err.Error())
	}
	docxMsg, err := storage.NewGenerateArtifactOutboxMessage(p.QueueConfig, caseID, constants.ArtifactResumeDOCX)
	if err != nil {
		return NewUpdateError(caseID, err.Error())
	}
	won, err := p.Repo.AdvanceCaseStep(ctx, caseID, constants.StepGenerating, constants.StepPostProcessing, pdfMsg, docxMsg)
	if err != nil {
		return NewUpdateError(caseID, err.Error())
	}
	if won {
		logger.Ctx(ctx).Info().Str("case_id", caseID).Msg("结构化简历已生成，进入渲染阶段")
	}
	return nil
}

// handleGenerationError 区分内容错误与传输错误：
// 内容错误消耗重试预算，预算耗尽则终态失败；传输错误记录stage_retry后交给重投递。
func (p *CaseProcessor) handleGenerationError(ctx context.Context, caseID string, genErr error) error {
	if errors.Is(genErr, generator.ErrInvalidOutput) {
		tracing.RecordError(trace.SpanFromContext(ctx), genErr, tracing.ErrorTypeContent)
		attempts, incErr := p.Repo.IncrementGenerationAttempts(ctx, caseID)
		if incErr != nil {
			return NewDatabaseError(caseID, incErr.Error())
		}
		if attempts >= p.MaxContentRetries {
			logger.Ctx(ctx).Error().Str("case_id", caseID).Int("attempts", attempts).Msg("生成内容重试预算耗尽")
			return p.failCase(ctx, caseID, constants.FailReasonGenerationInvalid)
		}
		_ = p.Repo.AppendEvent(ctx, caseID, constants.EventStageRetry, map[string]interface{}{
			"stage":   string(constants.StepGenerating),
			"kind":    "content",
			"attempt": attempts,
			"detail":  truncateDetail(genErr.Error(), 500),
		})
		return NewGenerateError(caseID, genErr.Error())
	}

	_ = p.Repo.AppendEvent(ctx, caseID, constants.EventStageRetry, map[string]interface{}{
		"stage":  string(constants.StepGenerating),
		"kind":   "transient",
		"detail": truncateDetail(genErr.Error(), 500),
	})
	return NewGenerateError(caseID, genErr.Error())
}

// generatePDF 渲染阶段：HTML模板→严格后处理→无头Chrome。
// 安全违规与确定性渲染失败都是案件级终态。
func (p *CaseProcessor) generatePDF(ctx context.Context, c *models.Case, artifactType constants.ArtifactType) error {
	caseID := c.CaseID

	existing, err := p.Repo.FindLatestArtifactByType(ctx, caseID, artifactType)
	if err != nil && !errors.Is(err, storage.ErrArtifactNotFound) {
		return NewDatabaseError(caseID, err.Error())
	}
	if existing != nil {
		return p.checkCompletion(ctx, caseID)
	}

	resume, err := p.loadResumeJSON(ctx, caseID)
	if err != nil {
		return err
	}

	resumeType := p.DefaultResumeType
	if artifactType == constants.ArtifactCrosswalkPDF {
		resumeType = types.ResumeTypeCrosswalk
	}

	// 进度推进是观测性的，输掉CAS不影响正确性
	_, _ = p.Repo.AdvanceCaseStep(ctx, caseID, constants.StepPostProcessing, constants.StepRendering)

	rawHTML, err := p.HTMLRenderer.Render(resume, resumeType)
	if err != nil {
		_ = p.Repo.AppendEvent(ctx, caseID, constants.EventStageRetry, map[string]interface{}{
			"stage":  string(constants.StepRendering),
			"detail": truncateDetail(err.Error(), 500),
		})
		return p.failCase(ctx, caseID, constants.FailReasonRenderFailed)
	}

	ppResult, ppErr := p.PostProcessor.Process(ctx, rawHTML, postprocessor.Options{
		ResumeType: resumeType,
		StrictMode: true,
	})
	if ppResult != nil {
		_ = p.Repo.AppendEvent(ctx, caseID, constants.EventPostProcessed, map[string]interface{}{
			"artifact_type": string(artifactType),
			"result":        ppResult,
		})
	}
	if ppErr != nil {
		if errors.Is(ppErr, postprocessor.ErrSecurityViolation) {
			_ = p.Repo.AppendEvent(ctx, caseID, constants.EventSecurityViolation, map[string]interface{}{
				"artifact_type": string(artifactType),
				"detail":        truncateDetail(ppErr.Error(), 500),
			})
			logger.Ctx(ctx).Error().Str("case_id", caseID).Msg("渲染输入未通过安全门禁")
			return p.failCase(ctx, caseID, constants.FailReasonSecurityViolation)
		}
		return p.failCase(ctx, caseID, constants.FailReasonRenderFailed)
	}

	pdfBytes, err := p.PDFRenderer.RenderPDF(ctx, ppResult.HTML)
	if err != nil {
		// 渲染器内部已做有界重试，到这里视为确定性失败
		logger.Ctx(ctx).Error().Err(err).Str("case_id", caseID).Msg("PDF渲染失败")
		return p.failCase(ctx, caseID, constants.FailReasonRenderFailed)
	}

	fileName := "resume.pdf"
	if artifactType == constants.ArtifactCrosswalkPDF {
		fileName = "crosswalk.pdf"
	}
	if err := p.storeArtifact(ctx, caseID, artifactType, fileName, "application/pdf", pdfBytes); err != nil {
		return err
	}

	_, _ = p.Repo.AdvanceCaseStep(ctx, caseID, constants.StepRendering, constants.StepExporting)
	return p.checkCompletion(ctx, caseID)
}

// generateDOCX 渲染DOCX产物，与PDF共用同一份结构化简历
func (p *CaseProcessor) generateDOCX(ctx context.Context, c *models.Case) error {
	caseID := c.CaseID

	existing, err := p.Repo.FindLatestArtifactByType(ctx, caseID, constants.ArtifactResumeDOCX)
	if err != nil && !errors.Is(err, storage.ErrArtifactNotFound) {
		return NewDatabaseError(caseID, err.Error())
	}
	if existing != nil {
		return p.checkCompletion(ctx, caseID)
	}

	resume, err := p.loadResumeJSON(ctx, caseID)
	if err != nil {
		return err
	}

	docxBytes, err := p.DocxRenderer.RenderDOCX(resume)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("case_id", caseID).Msg("DOCX渲染失败")
		return p.failCase(ctx, caseID, constants.FailReasonRenderFailed)
	}

	if err := p.storeArtifact(ctx, caseID, constants.ArtifactResumeDOCX, "resume.docx",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document", docxBytes); err != nil {
		return err
	}
	return p.checkCompletion(ctx, caseID)
}

// aggregateSourceText 按上传顺序聚合所有成功抽取的文本
func (p *CaseProcessor) aggregateSourceText(ctx context.Context, caseID string) (string, error) {
	docs, err := p.Repo.GetCaseDocuments(ctx, caseID)
	if err != nil {
		return "", NewDatabaseError(caseID, err.Error())
	}
	var texts []string
	for _, d := range docs {
		if d.ExtractionStatus == string(constants.ExtractionCompleted) && strings.TrimSpace(d.ExtractedText) != "" {
			texts = append(texts, d.ExtractedText)
		}
	}
	return strings.Join(texts, constants.SourceTextSeparator), nil
}

// loadResumeJSON 加载生成阶段落库的结构化简历。
// 产物尚未就绪视为乱序投递，交给重投递等待。
func (p *CaseProcessor) loadResumeJSON(ctx context.Context, caseID string) (*types.ResumeJSON, error) {
	art, err := p.Repo.FindLatestArtifactByType(ctx, caseID, constants.ArtifactResumeJSON)
	if errors.Is(err, storage.ErrArtifactNotFound) {
		return nil, NewRenderError(caseID, "结构化简历产物尚未就绪")
	}
	if err != nil {
		return nil, NewDatabaseError(caseID, err.Error())
	}

	data, err := p.Store.DownloadArtifact(ctx, art.StoragePath)
	if err != nil {
		return nil, NewDownloadError(caseID, fmt.Sprintf("%s: %v", art.StoragePath, err))
	}

	var resume types.ResumeJSON
	if err := json.Unmarshal(data, &resume); err != nil {
		return nil, NewRenderError(caseID, fmt.Sprintf("解析结构化简历失败: %v", err))
	}
	return &resume, nil
}

// storeArtifact 先写对象存储再写记录，保证记录存在即对象可下载
func (p *CaseProcessor) storeArtifact(ctx context.Context, caseID string, artifactType constants.ArtifactType, fileName, contentType string, data []byte) error {
	artifactID, err := uuid.NewV7()
	if err != nil {
		return NewStoreError(caseID, err.Error())
	}

	objectKey, err := p.Store.UploadArtifact(ctx, caseID, artifactID.String(), fileName, data, contentType)
	if err != nil {
		tracing.RecordError(trace.SpanFromContext(ctx), err, tracing.ErrorTypeStorage)
		return NewStoreError(caseID, err.Error())
	}

	if err := p.Repo.CreateArtifact(ctx, &models.CaseArtifact{
		ArtifactID:  artifactID.String(),
		CaseID:      caseID,
		Type:        string(artifactType),
		FileName:    fileName,
		StoragePath: objectKey,
		ContentType: contentType,
		SizeBytes:   int64(len(data)),
	}); err != nil {
		return NewDatabaseError(caseID, err.Error())
	}

	logger.Ctx(ctx).Info().
		Str("case_id", caseID).
		Str("artifact_type", string(artifactType)).
		Str("object_key", objectKey).
		Int("size_bytes", len(data)).
		Msg("产物已存储并记录")
	return nil
}

// checkCompletion 所有必需产物就绪后，唯一赢家把案件推到completed终态
func (p *CaseProcessor) checkCompletion(ctx context.Context, caseID string) error {
	complete, err := p.Repo.HasArtifactTypes(ctx, caseID, constants.RequiredArtifactTypes...)
	if err != nil {
		return NewDatabaseError(caseID, err.Error())
	}
	if !complete {
		return nil
	}

	won, err := p.Repo.AdvanceCaseStatus(ctx, caseID,
		constants.CaseStatusProcessing, constants.CaseStatusCompleted,
		map[string]interface{}{
			"current_step": string(constants.StepDone),
			"progress":     constants.StepProgress[constants.StepDone],
		})
	if err != nil {
		return NewUpdateError(caseID, err.Error())
	}
	if won {
		logger.Ctx(ctx).Info().Str("case_id", caseID).Msg("案件处理完成")
		p.notifyCaseResult(ctx, caseID)
	}
	return nil
}

// notifyCaseResult 推送案件终态通知。通知失败只记日志，不影响处理结果。
func (p *CaseProcessor) notifyCaseResult(ctx context.Context, caseID string) {
	if p.Notifier == nil {
		return
	}
	c, err := p.Repo.GetCase(ctx, caseID)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("case_id", caseID).Msg("读取案件失败，跳过终态通知")
		return
	}
	result := notifier.CaseResult{
		CaseID:     c.CaseID,
		Name:       c.Name,
		TargetRole: c.TargetRole,
		Status:     c.Status,
		FailReason: c.FailReason,
	}
	if constants.CaseStatus(c.Status) == constants.CaseStatusCompleted {
		for _, at := range constants.RequiredArtifactTypes {
			result.ArtifactTypes = append(result.ArtifactTypes, string(at))
		}
	}
	if err := p.Notifier.NotifyCaseResult(ctx, result); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("case_id", caseID).Msg("案件终态通知发送失败")
	}
}

// failCase 将非终态案件置为failed终态，只写粗粒度原因码。
// 已终态的案件不会被触及（终态不可变由仓储层保证）。
func (p *CaseProcessor) failCase(ctx context.Context, caseID string, reason string) error {
	if err := p.Repo.UpdateCaseStatus(ctx, caseID, map[string]interface{}{
		"status":      string(constants.CaseStatusFailed),
		"fail_reason": reason,
	}); err != nil {
		return NewUpdateError(caseID, err.Error())
	}
	logger.Ctx(ctx).Warn().Str("case_id", caseID).Str("reason", reason).Msg("案件终态失败")
	p.notifyCaseResult(ctx, caseID)
	return nil
}

func truncateDetail(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
