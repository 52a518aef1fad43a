package generator

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-pipeline-go/internal/types"
)

// stubChatModel 返回固定响应的测试模型
type stubChatModel struct {
	responses []string
	errs      []error
	calls     int
}

func (s *stubChatModel) Generate(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.Message, error) {
	idx := s.calls
	s.calls++
	if idx < len(s.errs) && s.errs[idx] != nil {
		return nil, s.errs[idx]
	}
	content := ""
	if idx < len(s.responses) {
		content = s.responses[idx]
	}
	return &schema.Message{Role: "assistant", Content: content}, nil
}

func (s *stubChatModel) Stream(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("未实现")
}

// 生成器只依赖单轮补全能力，测试替身与真实客户端满足同一接口
var _ model.BaseChatModel = (*stubChatModel)(nil)
var _ model.BaseChatModel = (*OpenAIChatModel)(nil)

const validResumeJSON = `{
  "metadata": {"version": "1.0", "generatedAt": "2026-07-01T08:00:00Z", "targetRole": "项目经理"},
  "contact": {"name": "张伟", "email": "zhangwei@example.com"},
  "summary": "八年部队通信保障经验，擅长团队管理与应急协调。",
  "experience": [
    {"title": "通信班长", "organization": "某通信团", "startDate": "2016-09", "endDate": "2024-09",
     "highlights": ["带领12人团队保障年度演习通信畅通", "将设备故障响应时间缩短40%"]}
  ],
  "education": [{"institution": "某士官学校", "degree": "大专"}],
  "skills": {"technical": ["无线电通信", "网络运维"], "soft": ["团队管理"]}
}`

func testInput() GenerationInput {
	return GenerationInput{
		Name:       "张伟",
		Email:      "zhangwei@example.com",
		TargetRole: "项目经理",
		ResumeType: types.ResumeTypeStandard,
		SourceText: "服役经历：2016-2024 某通信团 通信班长",
	}
}

func TestGenerateResume(t *testing.T) {
	stub := &stubChatModel{responses: []string{validResumeJSON}}
	g := NewResumeGenerator(stub)

	resume, canonical, err := g.GenerateResume(context.Background(), testInput())
	require.NoError(t, err)
	assert.Equal(t, "张伟", resume.Contact.Name)
	assert.Len(t, resume.Experience, 1)
	assert.NoError(t, types.ValidateResumeJSONBytes(canonical), "规范化输出应通过契约校验")
	assert.Equal(t, 1, stub.calls)
}

func TestGenerateResumeStripsCodeFence(t *testing.T) {
	stub := &stubChatModel{responses: []string{"好的，以下是简历：\n```json\n" + validResumeJSON + "\n```\n希望对你有帮助。"}}
	g := NewResumeGenerator(stub)

	resume, _, err := g.GenerateResume(context.Background(), testInput())
	require.NoError(t, err)
	assert.Equal(t, "zhangwei@example.com", resume.Contact.Email)
}

func TestGenerateResumeFillsMetadata(t *testing.T) {
	// 模型漏掉metadata时由服务端兜底
	noMeta := `{
  "contact": {"name": "张伟", "email": "zhangwei@example.com"},
  "summary": "概述",
  "experience": [],
  "education": [],
  "skills": {"technical": []}
}`
	stub := &stubChatModel{responses: []string{noMeta}}
	g := NewResumeGenerator(stub)

	resume, canonical, err := g.GenerateResume(context.Background(), testInput())
	require.NoError(t, err)
	assert.Equal(t, "1.0", resume.Metadata.Version)
	assert.NotEmpty(t, resume.Metadata.GeneratedAt)
	assert.Equal(t, "项目经理", resume.Metadata.TargetRole)
	assert.NoError(t, types.ValidateResumeJSONBytes(canonical))
}

func TestGenerateResumeNoJSONInResponse(t *testing.T) {
	stub := &stubChatModel{responses: []string{"抱歉，我无法完成这个任务。"}}
	g := NewResumeGenerator(stub)

	_, _, err := g.GenerateResume(context.Background(), testInput())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidOutput)
}

func TestGenerateResumeSchemaViolation(t *testing.T) {
	// 缺少contact.email，不满足契约
	invalid := `{
  "metadata": {"version": "1.0", "generatedAt": "2026-07-01T08:00:00Z", "targetRole": ""},
  "contact": {"name": "张伟", "email": ""},
  "summary": "概述",
  "experience": [],
  "education": [],
  "skills": {"technical": []}
}`
	stub := &stubChatModel{responses: []string{invalid}}
	g := NewResumeGenerator(stub)

	_, _, err := g.GenerateResume(context.Background(), testInput())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidOutput)
}

func TestGenerateResumeRetriesTransientError(t *testing.T) {
	stub := &stubChatModel{
		errs:      []error{errors.New("connection reset by peer"), nil},
		responses: []string{"", validResumeJSON},
	}
	g := NewResumeGenerator(stub, WithMaxRetries(2))
	g.retryDelay = 0

	resume, _, err := g.GenerateResume(context.Background(), testInput())
	require.NoError(t, err)
	assert.Equal(t, 2, stub.calls)
	assert.Equal(t, "张伟", resume.Contact.Name)
}

func TestGenerateResumeEmptySourceText(t *testing.T) {
	g := NewResumeGenerator(&stubChatModel{})
	_, _, err := g.GenerateResume(context.Background(), GenerationInput{SourceText: "   "})
	assert.Error(t, err)
}

func TestExtractJSONFallback(t *testing.T) {
	text := `前缀说明 {"a": {"b": 1}} 后缀`
	assert.Equal(t, `{"a": {"b": 1}}`, extractJSON(text))
	assert.Equal(t, "", extractJSON("没有任何对象"))
}
