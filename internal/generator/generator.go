package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	einoschema "github.com/cloudwego/eino/schema"

	"resume-pipeline-go/internal/logger"
	"resume-pipeline-go/internal/types"
)

// ErrInvalidOutput 模型输出无法通过简历契约校验。
// 这是内容错误而不是传输错误：重试由调用方按内容重试预算控制。
var ErrInvalidOutput = errors.New("模型输出不符合简历契约")

// GenerationInput 生成阶段的输入
type GenerationInput struct {
	Name       string
	Email      string
	TargetRole string
	ResumeType types.ResumeType
	SourceText string
}

// ResumeGenerator 将聚合后的源文本转换为结构化简历JSON
type ResumeGenerator struct {
	llmModel    model.BaseChatModel
	maxRetries  int
	retryDelay  time.Duration
	callTimeout time.Duration
}

// GeneratorOption 生成器配置选项
type GeneratorOption func(*ResumeGenerator)

// WithMaxRetries 配置传输层错误的最大重试次数
func WithMaxRetries(n int) GeneratorOption {
	return func(g *ResumeGenerator) {
		if n >= 0 {
			g.maxRetries = n
		}
	}
}

// WithCallTimeout 配置单次LLM调用超时
func WithCallTimeout(d time.Duration) GeneratorOption {
	return func(g *ResumeGenerator) {
		if d > 0 {
			g.callTimeout = d
		}
	}
}

// NewResumeGenerator 创建简历生成器
func NewResumeGenerator(llmModel model.BaseChatModel, options ...GeneratorOption) *ResumeGenerator {
	g := &ResumeGenerator{
		llmModel:    llmModel,
		maxRetries:  2,
		retryDelay:  2 * time.Second,
		callTimeout: 90 * time.Second,
	}
	for _, option := range options {
		option(g)
	}
	return g
}

// GenerateResume 调用LLM生成结构化简历并按契约校验。
// 返回结构体和规范化后的JSON字节；契约校验失败返回包裹 ErrInvalidOutput 的错误。
func (g *ResumeGenerator) GenerateResume(ctx context.Context, input GenerationInput) (*types.ResumeJSON, []byte, error) {
	if strings.TrimSpace(input.SourceText) == "" {
		return nil, nil, fmt.Errorf("源文本不能为空")
	}

	systemPrompt := g.buildSystemPrompt(input.ResumeType)
	userPrompt := buildUserPrompt(input)

	response, err := g.callLLM(ctx, systemPrompt, userPrompt)
	if err != nil {
		return nil, nil, err
	}

	jsonStr := extractJSON(response)
	if jsonStr == "" {
		logger.Ctx(ctx).Warn().Int("response_length", len(response)).Msg("无法从LLM响应中提取JSON")
		return nil, nil, fmt.Errorf("%w: 响应中不包含JSON对象", ErrInvalidOutput)
	}

	var resume types.ResumeJSON
	if err := json.Unmarshal([]byte(jsonStr), &resume); err != nil {
		return nil, nil, fmt.Errorf("%w: 解析JSON失败: %v", ErrInvalidOutput, err)
	}

	// 元信息由服务端兜底，不依赖模型输出
	if resume.Metadata.Version == "" {
		resume.Metadata.Version = "1.0"
	}
	if resume.Metadata.GeneratedAt == "" {
		resume.Metadata.GeneratedAt = time.Now().UTC().Format(time.RFC3339)
	}
	if resume.Metadata.TargetRole == "" {
		resume.Metadata.TargetRole = input.TargetRole
	}

	canonical, err := json.MarshalIndent(&resume, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("简历JSON序列化失败: %w", err)
	}
	if err := types.ValidateResumeJSONBytes(canonical); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}

	return &resume, canonical, nil
}

// callLLM 带重试地调用LLM，只对传输层错误重试
func (g *ResumeGenerator) callLLM(ctx context.Context, systemContent string, userContent string) (string, error) {
	messages := []*einoschema.Message{
		{Role: "system", Content: systemContent},
		{Role: "user", Content: userContent},
	}

	retryDelay := g.retryDelay
	var response *einoschema.Message
	var err error

	for retry := 0; retry <= g.maxRetries; retry++ {
		if retry > 0 {
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("上下文已取消: %w", ctx.Err())
			case <-time.After(retryDelay):
				retryDelay *= 2
				logger.Ctx(ctx).Warn().Int("retry", retry).Msg("重试LLM调用")
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
		response, err = g.llmModel.Generate(callCtx, messages)
		cancel()

		if err == nil {
			break
		}
		if !isRetryableError(err) || retry >= g.maxRetries {
			return "", fmt.Errorf("LLM调用失败: %w", err)
		}
	}

	return response.Content, nil
}

// isRetryableError 判断错误是否应该重试
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "EOF") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "状态 429") ||
		strings.Contains(errStr, "状态 5")
}

func (g *ResumeGenerator) buildSystemPrompt(resumeType types.ResumeType) string {
	var sb strings.Builder
	sb.WriteString(`你是一名军转民简历写作专家，负责将退役军人的原始材料改写为面向民用岗位的专业简历。

严格按以下JSON结构输出，不要输出任何JSON以外的内容（不要解释、不要markdown标题）：
{
  "metadata": {"version": "1.0", "generatedAt": "<RFC3339时间>", "targetRole": "<目标岗位>"},
  "contact": {"name": "...", "email": "...", "phone": "...", "location": "..."},
  "summary": "<2-4句专业概述>",
  "experience": [{"title": "...", "organization": "...", "location": "...", "startDate": "...", "endDate": "...", "highlights": ["..."]}],
  "education": [{"institution": "...", "degree": "...", "field": "...", "startDate": "...", "endDate": ""}],
  "skills": {"technical": ["..."], "soft": ["..."], "certifications": ["..."], "languages": ["..."]},
  "projects": [{"name": "...", "description": "...", "highlights": ["..."]}],
  "awards": ["..."]
}

要求：
1. 将军事术语、军衔、编制转译为民用行业能理解的表述
2. highlights条目用量化结果开头，突出可迁移能力
3. 不要编造材料中不存在的经历、证书或数据
4. 缺失的可选字段直接省略，不要输出空字符串占位`)

	switch resumeType {
	case types.ResumeTypeCrosswalk:
		sb.WriteString(`
5. 额外输出 "crosswalk" 数组，逐条给出军事术语到民用术语的对照：
   [{"militaryTerm": "...", "civilianTerm": "...", "context": "..."}]`)
	case types.ResumeTypeCivilian:
		sb.WriteString(`
5. 简历正文中不得出现未转译的军事专有名词`)
	}

	return sb.String()
}

func buildUserPrompt(input GenerationInput) string {
	var sb strings.Builder
	sb.WriteString("候选人信息：\n")
	sb.WriteString("姓名：" + input.Name + "\n")
	sb.WriteString("邮箱：" + input.Email + "\n")
	if input.TargetRole != "" {
		sb.WriteString("目标岗位：" + input.TargetRole + "\n")
	}
	sb.WriteString("\n原始材料（多份文档以 --- 分隔）：\n\n")
	sb.WriteString(input.SourceText)
	return sb.String()
}

var fencedJSONPattern = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// extractJSON 从模型输出中提取JSON对象，容忍代码块围栏和前后缀文本
func extractJSON(text string) string {
	matches := fencedJSONPattern.FindStringSubmatch(text)
	if len(matches) > 1 {
		return strings.TrimSpace(matches[1])
	}

	// 回退：按花括号配对寻找第一个完整的JSON对象
	start := strings.Index(text, "{")
	if start == -1 {
		return ""
	}
	level := 0
	for i := start; i < len(text); i++ {
		if text[i] == '{' {
			level++
		} else if text[i] == '}' {
			level--
			if level == 0 {
				return strings.TrimSpace(text[start : i+1])
			}
		}
	}
	return ""
}
