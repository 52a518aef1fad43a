package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-pipeline-go/internal/config"
	"resume-pipeline-go/internal/constants"
	"resume-pipeline-go/internal/extractor"
	"resume-pipeline-go/internal/generator"
	"resume-pipeline-go/internal/notifier"
	"resume-pipeline-go/internal/postprocessor"
	"resume-pipeline-go/internal/storage"
	"resume-pipeline-go/internal/storage/models"
	"resume-pipeline-go/internal/types"
)

// 出站消息校验要求caseId/documentId为合法UUID，夹具id需满足该格式
const (
	testCaseID = "11111111-1111-1111-1111-111111111111"
	testDocID1 = "dddddddd-0000-0000-0000-000000000001"
	testDocID2 = "dddddddd-0000-0000-0000-000000000002"
)

// ---------- 内存版测试替身 ----------

type fakeRepo struct {
	cases     map[string]*models.Case
	documents map[string]*models.CaseDocument
	artifacts []*models.CaseArtifact
	events    []models.CaseEvent
	outbox    []*models.OutboxMessage
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		cases:     map[string]*models.Case{},
		documents: map[string]*models.CaseDocument{},
	}
}

func (r *fakeRepo) GetCase(ctx context.Context, caseID string) (*models.Case, error) {
	c, ok := r.cases[caseID]
	if !ok {
		return nil, storage.ErrCaseNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *fakeRepo) UpdateCaseStatus(ctx context.Context, caseID string, updates map[string]interface{}) error {
	c, ok := r.cases[caseID]
	if !ok {
		return storage.ErrCaseNotFound
	}
	// 终态不可变，与仓储层语义一致
	if constants.IsTerminalCaseStatus(constants.CaseStatus(c.Status)) {
		return nil
	}
	if v, ok := updates["status"]; ok {
		c.Status = v.(string)
	}
	if v, ok := updates["fail_reason"]; ok {
		c.FailReason = v.(string)
	}
	return nil
}

func (r *fakeRepo) AdvanceCaseStatus(ctx context.Context, caseID string, from, to constants.CaseStatus, extra map[string]interface{}) (bool, error) {
	c, ok := r.cases[caseID]
	if !ok || c.Status != string(from) {
		return false, nil
	}
	c.Status = string(to)
	if v, ok := extra["current_step"]; ok {
		c.CurrentStep = v.(string)
	}
	if v, ok := extra["progress"]; ok {
		c.Progress = v.(int)
	}
	return true, nil
}

func (r *fakeRepo) AdvanceCaseStep(ctx context.Context, caseID string, fromStep, toStep constants.CaseStep, outboxMsgs ...*models.OutboxMessage) (bool, error) {
	c, ok := r.cases[caseID]
	if !ok || c.CurrentStep != string(fromStep) {
		return false, nil
	}
	c.CurrentStep = string(toStep)
	c.Progress = constants.StepProgress[toStep]
	r.outbox = append(r.outbox, outboxMsgs...)
	return true, nil
}

func (r *fakeRepo) IncrementGenerationAttempts(ctx context.Context, caseID string) (int, error) {
	c, ok := r.cases[caseID]
	if !ok {
		return 0, storage.ErrCaseNotFound
	}
	c.GenerationAttempts++
	return c.GenerationAttempts, nil
}

func (r *fakeRepo) GetDocument(ctx context.Context, caseID, documentID string) (*models.CaseDocument, error) {
	d, ok := r.documents[documentID]
	if !ok || d.CaseID != caseID {
		return nil, storage.ErrDocumentNotFound
	}
	cp := *d
	return &cp, nil
}

func (r *fakeRepo) GetCaseDocuments(ctx context.Context, caseID string) ([]models.CaseDocument, error) {
	var out []models.CaseDocument
	for _, d := range r.documents {
		if d.CaseID == caseID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (r *fakeRepo) UpdateDocumentStatus(ctx context.Context, caseID, documentID string, updates map[string]interface{}, eventType constants.EventType, eventDetails map[string]interface{}) error {
	d, ok := r.documents[documentID]
	if !ok {
		return storage.ErrDocumentNotFound
	}
	if v, ok := updates["status"]; ok {
		d.Status = v.(string)
	}
	if v, ok := updates["extraction_status"]; ok {
		d.ExtractionStatus = v.(string)
	}
	if v, ok := updates["extracted_text"]; ok {
		d.ExtractedText = v.(string)
	}
	if v, ok := updates["extraction_error"]; ok {
		d.ExtractionError = v.(string)
	}
	r.events = append(r.events, models.CaseEvent{CaseID: caseID, Type: string(eventType)})
	return nil
}

func (r *fakeRepo) CreateArtifact(ctx context.Context, a *models.CaseArtifact) error {
	r.artifacts = append(r.artifacts, a)
	return nil
}

func (r *fakeRepo) FindLatestArtifactByType(ctx context.Context, caseID string, artifactType constants.ArtifactType) (*models.CaseArtifact, error) {
	for i := len(r.artifacts) - 1; i >= 0; i-- {
		a := r.artifacts[i]
		if a.CaseID == caseID && a.Type == string(artifactType) {
			return a, nil
		}
	}
	return nil, storage.ErrArtifactNotFound
}

func (r *fakeRepo) HasArtifactTypes(ctx context.Context, caseID string, artifactTypes ...constants.ArtifactType) (bool, error) {
	for _, t := range artifactTypes {
		if _, err := r.FindLatestArtifactByType(ctx, caseID, t); err != nil {
			return false, nil
		}
	}
	return true, nil
}

func (r *fakeRepo) AppendEvent(ctx context.Context, caseID string, eventType constants.EventType, details map[string]interface{}) error {
	r.events = append(r.events, models.CaseEvent{CaseID: caseID, Type: string(eventType)})
	return nil
}

func (r *fakeRepo) eventTypes() []string {
	var out []string
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type fakeStore struct {
	objects   map[string][]byte
	failList  map[string]error
	uploadErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}, failList: map[string]error{}}
}

func (s *fakeStore) UploadArtifact(ctx context.Context, caseID, artifactID, fileName string, data []byte, contentType string) (string, error) {
	if s.uploadErr != nil {
		return "", s.uploadErr
	}
	key := fmt.Sprintf("cases/%s/artifacts/%s/%s", caseID, artifactID, fileName)
	s.objects[key] = data
	return key, nil
}

func (s *fakeStore) DownloadRawDocument(ctx context.Context, objectKey string) ([]byte, error) {
	if err, ok := s.failList[objectKey]; ok {
		return nil, err
	}
	data, ok := s.objects[objectKey]
	if !ok {
		return nil, fmt.Errorf("对象不存在: %s", objectKey)
	}
	return data, nil
}

func (s *fakeStore) DownloadArtifact(ctx context.Context, objectKey string) ([]byte, error) {
	return s.DownloadRawDocument(ctx, objectKey)
}

type fakeDispatcher struct {
	extractTasks []string
	// failAfter > 0 时第failAfter+1次入队开始报错，模拟扇出中途的队列故障
	failAfter int
}

func (d *fakeDispatcher) EnqueueExtractDocument(ctx context.Context, caseID, documentID string) error {
	if d.failAfter > 0 && len(d.extractTasks) >= d.failAfter {
		return errors.New("队列连接中断")
	}
	d.extractTasks = append(d.extractTasks, documentID)
	return nil
}

func (d *fakeDispatcher) EnqueueGenerateArtifact(ctx context.Context, caseID string, artifactType constants.ArtifactType) error {
	return nil
}

type fakeExtractor struct {
	results map[string]*extractor.Result
	errs    map[string]error
}

func (e *fakeExtractor) Extract(ctx context.Context, fileName string, data []byte) (*extractor.Result, error) {
	if err, ok := e.errs[fileName]; ok {
		return nil, err
	}
	if r, ok := e.results[fileName]; ok {
		return r, nil
	}
	return &extractor.Result{Text: string(data), Status: constants.ExtractionCompleted}, nil
}

type fakeGenerator struct {
	errs  []error
	calls int
	json  []byte
}

func (g *fakeGenerator) GenerateResume(ctx context.Context, input generator.GenerationInput) (*types.ResumeJSON, []byte, error) {
	idx := g.calls
	g.calls++
	if idx < len(g.errs) && g.errs[idx] != nil {
		return nil, nil, g.errs[idx]
	}
	out := g.json
	if out == nil {
		out = []byte(`{"basics":{"name":"张伟","email":"zhangwei@example.com"}}`)
	}
	return &types.ResumeJSON{}, out, nil
}

type fakeHTMLRenderer struct{ err error }

func (r *fakeHTMLRenderer) Render(resume *types.ResumeJSON, resumeType types.ResumeType) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return "<html><body><div class=\"header\"><h1>张伟</h1></div></body></html>", nil
}

type fakePDFRenderer struct {
	err   error
	calls int
}

func (r *fakePDFRenderer) RenderPDF(ctx context.Context, html string) ([]byte, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return []byte("%PDF-1.4 fake"), nil
}

type fakeDocxRenderer struct{ err error }

func (r *fakeDocxRenderer) RenderDOCX(resume *types.ResumeJSON) ([]byte, error) {
	if r.err != nil {
		return nil, r.err
	}
	return []byte("PK fake docx"), nil
}

type fakePostProcessor struct {
	err    error
	result *postprocessor.Result
}

func (p *fakePostProcessor) Process(ctx context.Context, rawHTML string, opts postprocessor.Options) (*postprocessor.Result, error) {
	if p.result != nil || p.err != nil {
		return p.result, p.err
	}
	return &postprocessor.Result{HTML: rawHTML, CSSInjected: true, ParseSucceeded: true}, nil
}

type fakeDedup struct {
	seen map[string]bool
	err  error
}

func (d *fakeDedup) CheckAndAddCaseRawMD5(ctx context.Context, caseID, md5Hex string) (bool, error) {
	if d.err != nil {
		return false, d.err
	}
	if d.seen == nil {
		d.seen = map[string]bool{}
	}
	key := caseID + ":" + md5Hex
	if d.seen[key] {
		return false, nil
	}
	d.seen[key] = true
	return true, nil
}

type fakeNotifier struct {
	results []notifier.CaseResult
}

func (n *fakeNotifier) NotifyCaseResult(ctx context.Context, result notifier.CaseResult) error {
	n.results = append(n.results, result)
	return nil
}

// ---------- 测试脚手架 ----------

type env struct {
	repo       *fakeRepo
	store      *fakeStore
	dispatcher *fakeDispatcher
	extractor  *fakeExtractor
	generator  *fakeGenerator
	html       *fakeHTMLRenderer
	pdf        *fakePDFRenderer
	docx       *fakeDocxRenderer
	postproc   *fakePostProcessor
	dedup      *fakeDedup
	notifier   *fakeNotifier
	processor  *CaseProcessor
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		repo:       newFakeRepo(),
		store:      newFakeStore(),
		dispatcher: &fakeDispatcher{},
		extractor:  &fakeExtractor{results: map[string]*extractor.Result{}, errs: map[string]error{}},
		generator:  &fakeGenerator{},
		html:       &fakeHTMLRenderer{},
		pdf:        &fakePDFRenderer{},
		docx:       &fakeDocxRenderer{},
		postproc:   &fakePostProcessor{},
		dedup:      &fakeDedup{},
		notifier:   &fakeNotifier{},
	}
	p, err := NewCaseProcessor(Components{
		Repo:          e.repo,
		Store:         e.store,
		Dispatcher:    e.dispatcher,
		Extractor:     e.extractor,
		Generator:     e.generator,
		HTMLRenderer:  e.html,
		PDFRenderer:   e.pdf,
		DocxRenderer:  e.docx,
		PostProcessor: e.postproc,
		Dedup:         e.dedup,
		Notifier:      e.notifier,
	}, Settings{
		QueueConfig: &config.RabbitMQConfig{
			CaseTasksExchange:          "case.tasks",
			GenerateArtifactRoutingKey: "case.generate_artifact",
		},
		DefaultResumeType: types.ResumeTypeStandard,
		MaxContentRetries: 3,
	})
	require.NoError(t, err)
	e.processor = p
	return e
}

func (e *env) addCase(caseID string, status constants.CaseStatus, step constants.CaseStep) *models.Case {
	c := &models.Case{
		CaseID:      caseID,
		Name:        "张伟",
		Email:       "zhangwei@example.com",
		TargetRole:  "网络运维工程师",
		Status:      string(status),
		CurrentStep: string(step),
	}
	e.repo.cases[caseID] = c
	return c
}

func (e *env) addDocument(caseID, documentID, fileName, content string) *models.CaseDocument {
	key := fmt.Sprintf("cases/%s/raw/%s/%s", caseID, documentID, fileName)
	e.store.objects[key] = []byte(content)
	now := time.Now()
	d := &models.CaseDocument{
		DocumentID:  documentID,
		CaseID:      caseID,
		FileName:    fileName,
		StoragePath: key,
		Status:      string(constants.DocStatusUploaded),
		UploadedAt:  now,
	}
	e.repo.documents[documentID] = d
	return d
}

// ---------- ProcessCase ----------

func TestProcessCaseFansOutExtraction(t *testing.T) {
	e := newEnv(t)
	e.addCase(testCaseID, constants.CaseStatusPending, "")
	e.addDocument(testCaseID, testDocID1, "resume.txt", "服役经历")
	e.addDocument(testCaseID, testDocID2, "old.txt", "培训记录")

	err := e.processor.ProcessCase(context.Background(), testCaseID)
	require.NoError(t, err)

	c := e.repo.cases[testCaseID]
	assert.Equal(t, string(constants.CaseStatusProcessing), c.Status)
	assert.Equal(t, string(constants.StepExtracting), c.CurrentStep)
	assert.Equal(t, 20, c.Progress)
	assert.Len(t, e.dispatcher.extractTasks, 2)
}

func TestProcessCaseNoDocumentsFailsTerminally(t *testing.T) {
	e := newEnv(t)
	e.addCase(testCaseID, constants.CaseStatusPending, "")

	err := e.processor.ProcessCase(context.Background(), testCaseID)
	require.NoError(t, err)

	c := e.repo.cases[testCaseID]
	assert.Equal(t, string(constants.CaseStatusFailed), c.Status)
	assert.Equal(t, constants.FailReasonNoDocuments, c.FailReason)

	require.Len(t, e.notifier.results, 1)
	assert.Equal(t, string(constants.CaseStatusFailed), e.notifier.results[0].Status)
	assert.Equal(t, constants.FailReasonNoDocuments, e.notifier.results[0].FailReason)
}

func TestProcessCaseRedeliveryReenqueuesAtExtracting(t *testing.T) {
	e := newEnv(t)
	e.addCase(testCaseID, constants.CaseStatusProcessing, constants.StepExtracting)
	e.addDocument(testCaseID, testDocID1, "resume.txt", "服役经历")

	// 案件仍在抽取阶段时，重投递补投抽取任务而不是静默跳过
	err := e.processor.ProcessCase(context.Background(), testCaseID)
	require.NoError(t, err)
	assert.Equal(t, []string{testDocID1}, e.dispatcher.extractTasks)
}

func TestProcessCaseRedeliveryPastExtractingIsNoop(t *testing.T) {
	e := newEnv(t)
	e.addCase(testCaseID, constants.CaseStatusProcessing, constants.StepGenerating)
	e.addDocument(testCaseID, testDocID1, "resume.txt", "服役经历")

	err := e.processor.ProcessCase(context.Background(), testCaseID)
	require.NoError(t, err)
	assert.Empty(t, e.dispatcher.extractTasks)
}

func TestProcessCaseRedeliveryRecoversPartialFanout(t *testing.T) {
	e := newEnv(t)
	e.addCase(testCaseID, constants.CaseStatusPending, "")
	e.addDocument(testCaseID, testDocID1, "resume.txt", "服役经历")
	e.addDocument(testCaseID, testDocID2, "old.txt", "培训记录")
	e.dispatcher.failAfter = 1

	// 首次投递在第一个文档入队后队列故障，消息应可重试
	err := e.processor.ProcessCase(context.Background(), testCaseID)
	require.Error(t, err)
	assert.True(t, ShouldRetry(err))
	assert.Equal(t, []string{testDocID1}, e.dispatcher.extractTasks)

	// 重投递输掉CAS，但案件仍在抽取阶段，必须补齐剩余扇出
	e.dispatcher.failAfter = 0
	err = e.processor.ProcessCase(context.Background(), testCaseID)
	require.NoError(t, err)
	assert.Contains(t, e.dispatcher.extractTasks, testDocID2)

	c := e.repo.cases[testCaseID]
	assert.Equal(t, string(constants.CaseStatusProcessing), c.Status)
	assert.Equal(t, string(constants.StepExtracting), c.CurrentStep)
}

func TestProcessCaseUnknownCaseIsNotRetryable(t *testing.T) {
	e := newEnv(t)
	err := e.processor.ProcessCase(context.Background(), "nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTask)
	assert.False(t, ShouldRetry(err))
}

// ---------- ExtractDocument ----------

func TestExtractDocumentAdvancesToGenerating(t *testing.T) {
	e := newEnv(t)
	e.addCase(testCaseID, constants.CaseStatusProcessing, constants.StepExtracting)
	e.addDocument(testCaseID, testDocID1, "resume.txt", "步兵连 班长 2016-2020")

	err := e.processor.ExtractDocument(context.Background(), testCaseID, testDocID1)
	require.NoError(t, err)

	d := e.repo.documents[testDocID1]
	assert.Equal(t, string(constants.DocStatusProcessed), d.Status)
	assert.Equal(t, string(constants.ExtractionCompleted), d.ExtractionStatus)
	assert.Equal(t, "步兵连 班长 2016-2020", d.ExtractedText)

	c := e.repo.cases[testCaseID]
	assert.Equal(t, string(constants.StepGenerating), c.CurrentStep)
	require.Len(t, e.repo.outbox, 1)
	assert.Contains(t, e.repo.outbox[0].Payload, string(constants.ArtifactResumeJSON))
}

func TestExtractDocumentWaitsForSiblings(t *testing.T) {
	e := newEnv(t)
	e.addCase(testCaseID, constants.CaseStatusProcessing, constants.StepExtracting)
	e.addDocument(testCaseID, testDocID1, "resume.txt", "服役经历")
	e.addDocument(testCaseID, testDocID2, "cert.txt", "培训证书")

	err := e.processor.ExtractDocument(context.Background(), testCaseID, testDocID1)
	require.NoError(t, err)

	// doc-2 未落定，不应推进阶段
	c := e.repo.cases[testCaseID]
	assert.Equal(t, string(constants.StepExtracting), c.CurrentStep)
	assert.Empty(t, e.repo.outbox)

	err = e.processor.ExtractDocument(context.Background(), testCaseID, testDocID2)
	require.NoError(t, err)
	assert.Equal(t, string(constants.StepGenerating), e.repo.cases[testCaseID].CurrentStep)
}

func TestExtractDocumentFailureIsolatedPerDocument(t *testing.T) {
	e := newEnv(t)
	e.addCase(testCaseID, constants.CaseStatusProcessing, constants.StepExtracting)
	e.addDocument(testCaseID, testDocID1, "resume.txt", "服役经历")
	e.addDocument(testCaseID, testDocID2, "broken.txt", "xx")
	e.extractor.errs["broken.txt"] = errors.New("文本文件不是合法的UTF-8编码")

	require.NoError(t, e.processor.ExtractDocument(context.Background(), testCaseID, testDocID2))
	require.NoError(t, e.processor.ExtractDocument(context.Background(), testCaseID, testDocID1))

	assert.Equal(t, string(constants.DocStatusFailed), e.repo.documents[testDocID2].Status)
	// 另一个文档有文本，案件仍然推进
	assert.Equal(t, string(constants.StepGenerating), e.repo.cases[testCaseID].CurrentStep)
}

func TestExtractDocumentAllNeedsOCRFailsCase(t *testing.T) {
	e := newEnv(t)
	e.addCase(testCaseID, constants.CaseStatusProcessing, constants.StepExtracting)
	e.addDocument(testCaseID, testDocID1, "scan.png", "binary")
	e.extractor.results["scan.png"] = &extractor.Result{Status: constants.ExtractionNeedsOCR}

	err := e.processor.ExtractDocument(context.Background(), testCaseID, testDocID1)
	require.NoError(t, err)

	c := e.repo.cases[testCaseID]
	assert.Equal(t, string(constants.CaseStatusFailed), c.Status)
	assert.Equal(t, constants.FailReasonNoExtractableText, c.FailReason)
}

func TestExtractDocumentDuplicateShortCircuits(t *testing.T) {
	e := newEnv(t)
	e.addCase(testCaseID, constants.CaseStatusProcessing, constants.StepExtracting)
	e.addDocument(testCaseID, testDocID1, "resume.txt", "同一份文件")
	e.addDocument(testCaseID, testDocID2, "copy.txt", "同一份文件")

	require.NoError(t, e.processor.ExtractDocument(context.Background(), testCaseID, testDocID1))
	require.NoError(t, e.processor.ExtractDocument(context.Background(), testCaseID, testDocID2))

	d2 := e.repo.documents[testDocID2]
	assert.Equal(t, string(constants.DocStatusProcessed), d2.Status)
	assert.Empty(t, d2.ExtractedText)
	assert.Contains(t, e.repo.eventTypes(), string(constants.EventDocumentDuplicate))
}

func TestExtractDocumentDedupErrorIsNonFatal(t *testing.T) {
	e := newEnv(t)
	e.addCase(testCaseID, constants.CaseStatusProcessing, constants.StepExtracting)
	e.addDocument(testCaseID, testDocID1, "resume.txt", "服役经历")
	e.dedup.err = errors.New("redis连接失败")

	err := e.processor.ExtractDocument(context.Background(), testCaseID, testDocID1)
	require.NoError(t, err)
	assert.Equal(t, "服役经历", e.repo.documents[testDocID1].ExtractedText)
}

func TestExtractDocumentDownloadErrorIsRetryable(t *testing.T) {
	e := newEnv(t)
	e.addCase(testCaseID, constants.CaseStatusProcessing, constants.StepExtracting)
	d := e.addDocument(testCaseID, testDocID1, "resume.txt", "服役经历")
	e.store.failList[d.StoragePath] = errors.New("连接超时")

	err := e.processor.ExtractDocument(context.Background(), testCaseID, testDocID1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDocumentDownload)
	assert.True(t, ShouldRetry(err))
}

func TestExtractDocumentTerminalCaseIsNoop(t *testing.T) {
	e := newEnv(t)
	e.addCase(testCaseID, constants.CaseStatusFailed, constants.StepExtracting)
	e.addDocument(testCaseID, testDocID1, "resume.txt", "服役经历")

	err := e.processor.ExtractDocument(context.Background(), testCaseID, testDocID1)
	require.NoError(t, err)
	assert.Equal(t, string(constants.DocStatusUploaded), e.repo.documents[testDocID1].Status)
}

// ---------- GenerateArtifact: resume_json ----------

func prepareGeneratingCase(e *env, caseID string) {
	e.addCase(caseID, constants.CaseStatusProcessing, constants.StepGenerating)
	d := e.addDocument(caseID, testDocID1, "resume.txt", "步兵连 班长")
	d.Status = string(constants.DocStatusProcessed)
	d.ExtractionStatus = string(constants.ExtractionCompleted)
	d.ExtractedText = "步兵连 班长 2016-2020"
}

func TestGenerateResumeJSONStoresAndFansOut(t *testing.T) {
	e := newEnv(t)
	prepareGeneratingCase(e, testCaseID)

	err := e.processor.GenerateArtifact(context.Background(), testCaseID, constants.ArtifactResumeJSON)
	require.NoError(t, err)

	require.Len(t, e.repo.artifacts, 1)
	a := e.repo.artifacts[0]
	assert.Equal(t, string(constants.ArtifactResumeJSON), a.Type)
	assert.Contains(t, a.StoragePath, testCaseID)
	_, ok := e.store.objects[a.StoragePath]
	assert.True(t, ok, "记录存在即对象应已落存储")

	c := e.repo.cases[testCaseID]
	assert.Equal(t, string(constants.StepPostProcessing), c.CurrentStep)
	require.Len(t, e.repo.outbox, 2)
	payloads := e.repo.outbox[0].Payload + e.repo.outbox[1].Payload
	assert.Contains(t, payloads, string(constants.ArtifactResumePDF))
	assert.Contains(t, payloads, string(constants.ArtifactResumeDOCX))
}

func TestGenerateResumeJSONRedeliverySkipsLLM(t *testing.T) {
	e := newEnv(t)
	prepareGeneratingCase(e, testCaseID)

	require.NoError(t, e.processor.GenerateArtifact(context.Background(), testCaseID, constants.ArtifactResumeJSON))
	require.NoError(t, e.processor.GenerateArtifact(context.Background(), testCaseID, constants.ArtifactResumeJSON))

	assert.Equal(t, 1, e.generator.calls)
	assert.Len(t, e.repo.artifacts, 1)
}

func TestGenerateResumeJSONContentErrorConsumesBudget(t *testing.T) {
	e := newEnv(t)
	prepareGeneratingCase(e, testCaseID)
	contentErr := fmt.Errorf("%w: 缺少必填字段", generator.ErrInvalidOutput)
	e.generator.errs = []error{contentErr, contentErr, contentErr}

	// 前两次消耗预算并可重试
	for i := 0; i < 2; i++ {
		err := e.processor.GenerateArtifact(context.Background(), testCaseID, constants.ArtifactResumeJSON)
		require.Error(t, err)
		assert.True(t, ShouldRetry(err))
		assert.Equal(t, string(constants.CaseStatusProcessing), e.repo.cases[testCaseID].Status)
	}

	// 第三次耗尽预算，案件终态失败
	err := e.processor.GenerateArtifact(context.Background(), testCaseID, constants.ArtifactResumeJSON)
	require.NoError(t, err)
	c := e.repo.cases[testCaseID]
	assert.Equal(t, string(constants.CaseStatusFailed), c.Status)
	assert.Equal(t, constants.FailReasonGenerationInvalid, c.FailReason)
	assert.Equal(t, 3, c.GenerationAttempts)
}

func TestGenerateResumeJSONTransientErrorDoesNotConsumeBudget(t *testing.T) {
	e := newEnv(t)
	prepareGeneratingCase(e, testCaseID)
	e.generator.errs = []error{errors.New("调用LLM失败: connection reset")}

	err := e.processor.GenerateArtifact(context.Background(), testCaseID, constants.ArtifactResumeJSON)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGenerateFailed)
	assert.True(t, ShouldRetry(err))
	assert.Equal(t, 0, e.repo.cases[testCaseID].GenerationAttempts)
	assert.Contains(t, e.repo.eventTypes(), string(constants.EventStageRetry))

	// 重投递后成功
	require.NoError(t, e.processor.GenerateArtifact(context.Background(), testCaseID, constants.ArtifactResumeJSON))
	assert.Len(t, e.repo.artifacts, 1)
}

func TestGenerateArtifactUnknownTypeIsNotRetryable(t *testing.T) {
	e := newEnv(t)
	e.addCase(testCaseID, constants.CaseStatusProcessing, constants.StepGenerating)

	err := e.processor.GenerateArtifact(context.Background(), testCaseID, constants.ArtifactType("resume_xlsx"))
	require.Error(t, err)
	assert.False(t, ShouldRetry(err))
}

// ---------- GenerateArtifact: PDF / DOCX ----------

func preparePostProcessingCase(t *testing.T, e *env, caseID string) {
	t.Helper()
	prepareGeneratingCase(e, caseID)
	require.NoError(t, e.processor.GenerateArtifact(context.Background(), caseID, constants.ArtifactResumeJSON))
	require.Equal(t, string(constants.StepPostProcessing), e.repo.cases[caseID].CurrentStep)
}

func TestGeneratePDFThenDOCXCompletesCase(t *testing.T) {
	e := newEnv(t)
	preparePostProcessingCase(t, e, testCaseID)

	require.NoError(t, e.processor.GenerateArtifact(context.Background(), testCaseID, constants.ArtifactResumePDF))
	c := e.repo.cases[testCaseID]
	assert.Equal(t, string(constants.CaseStatusProcessing), c.Status, "缺DOCX不应完成")

	require.NoError(t, e.processor.GenerateArtifact(context.Background(), testCaseID, constants.ArtifactResumeDOCX))
	c = e.repo.cases[testCaseID]
	assert.Equal(t, string(constants.CaseStatusCompleted), c.Status)
	assert.Equal(t, string(constants.StepDone), c.CurrentStep)
	assert.Equal(t, 100, c.Progress)

	var typesSeen []string
	for _, a := range e.repo.artifacts {
		typesSeen = append(typesSeen, a.Type)
	}
	assert.ElementsMatch(t, []string{
		string(constants.ArtifactResumeJSON),
		string(constants.ArtifactResumePDF),
		string(constants.ArtifactResumeDOCX),
	}, typesSeen)

	// 完成时只有唯一赢家推送一次终态通知
	require.Len(t, e.notifier.results, 1)
	assert.Equal(t, string(constants.CaseStatusCompleted), e.notifier.results[0].Status)
	assert.Len(t, e.notifier.results[0].ArtifactTypes, 3)
}

func TestGeneratePDFRedeliveryIsIdempotent(t *testing.T) {
	e := newEnv(t)
	preparePostProcessingCase(t, e, testCaseID)

	require.NoError(t, e.processor.GenerateArtifact(context.Background(), testCaseID, constants.ArtifactResumePDF))
	require.NoError(t, e.processor.GenerateArtifact(context.Background(), testCaseID, constants.ArtifactResumePDF))
	assert.Equal(t, 1, e.pdf.calls)
}

func TestGeneratePDFSecurityViolationIsTerminal(t *testing.T) {
	e := newEnv(t)
	preparePostProcessingCase(t, e, testCaseID)
	e.postproc.err = fmt.Errorf("脚本注入: %w", postprocessor.ErrSecurityViolation)
	e.postproc.result = &postprocessor.Result{HTML: ""}

	err := e.processor.GenerateArtifact(context.Background(), testCaseID, constants.ArtifactResumePDF)
	require.NoError(t, err, "终态失败应确认消息而不是重投")

	c := e.repo.cases[testCaseID]
	assert.Equal(t, string(constants.CaseStatusFailed), c.Status)
	assert.Equal(t, constants.FailReasonSecurityViolation, c.FailReason)
	assert.Contains(t, e.repo.eventTypes(), string(constants.EventSecurityViolation))
	assert.Equal(t, 0, e.pdf.calls)
}

func TestGeneratePDFRenderFailureIsTerminal(t *testing.T) {
	e := newEnv(t)
	preparePostProcessingCase(t, e, testCaseID)
	e.pdf.err = errors.New("chrome启动失败")

	err := e.processor.GenerateArtifact(context.Background(), testCaseID, constants.ArtifactResumePDF)
	require.NoError(t, err)

	c := e.repo.cases[testCaseID]
	assert.Equal(t, string(constants.CaseStatusFailed), c.Status)
	assert.Equal(t, constants.FailReasonRenderFailed, c.FailReason)
}

func TestGeneratePDFBeforeResumeJSONIsRetryable(t *testing.T) {
	e := newEnv(t)
	e.addCase(testCaseID, constants.CaseStatusProcessing, constants.StepGenerating)

	err := e.processor.GenerateArtifact(context.Background(), testCaseID, constants.ArtifactResumePDF)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRenderFailed)
	assert.True(t, ShouldRetry(err))
}

func TestGenerateCrosswalkPDFUsesCrosswalkVariant(t *testing.T) {
	e := newEnv(t)
	preparePostProcessingCase(t, e, testCaseID)

	var seenType types.ResumeType
	e.processor.Components.PostProcessor = postProcessorFunc(func(ctx context.Context, rawHTML string, opts postprocessor.Options) (*postprocessor.Result, error) {
		seenType = opts.ResumeType
		assert.True(t, opts.StrictMode)
		return &postprocessor.Result{HTML: rawHTML, ParseSucceeded: true}, nil
	})

	require.NoError(t, e.processor.GenerateArtifact(context.Background(), testCaseID, constants.ArtifactCrosswalkPDF))
	assert.Equal(t, types.ResumeTypeCrosswalk, seenType)

	a, err := e.repo.FindLatestArtifactByType(context.Background(), testCaseID, constants.ArtifactCrosswalkPDF)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(a.StoragePath, "crosswalk.pdf"))
}

type postProcessorFunc func(ctx context.Context, rawHTML string, opts postprocessor.Options) (*postprocessor.Result, error)

func (f postProcessorFunc) Process(ctx context.Context, rawHTML string, opts postprocessor.Options) (*postprocessor.Result, error) {
	return f(ctx, rawHTML, opts)
}

func TestGenerateDOCXFailureIsTerminal(t *testing.T) {
	e := newEnv(t)
	preparePostProcessingCase(t, e, testCaseID)
	e.docx.err = errors.New("写入失败")

	err := e.processor.GenerateArtifact(context.Background(), testCaseID, constants.ArtifactResumeDOCX)
	require.NoError(t, err)
	assert.Equal(t, constants.FailReasonRenderFailed, e.repo.cases[testCaseID].FailReason)
}

func TestGenerateArtifactTerminalCaseIsNoop(t *testing.T) {
	e := newEnv(t)
	c := e.addCase(testCaseID, constants.CaseStatusCompleted, constants.StepDone)

	err := e.processor.GenerateArtifact(context.Background(), testCaseID, constants.ArtifactResumePDF)
	require.NoError(t, err)
	assert.Equal(t, string(constants.CaseStatusCompleted), c.Status)
	assert.Equal(t, 0, e.generator.calls)
}

func TestFailCaseDoesNotOverwriteTerminalState(t *testing.T) {
	e := newEnv(t)
	e.addCase(testCaseID, constants.CaseStatusCompleted, constants.StepDone)

	require.NoError(t, e.processor.failCase(context.Background(), testCaseID, constants.FailReasonRenderFailed))
	assert.Equal(t, string(constants.CaseStatusCompleted), e.repo.cases[testCaseID].Status)
}
