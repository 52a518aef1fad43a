package postprocessor

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"resume-pipeline-go/internal/logger"
	"resume-pipeline-go/internal/tracing"
)

// Pipeline 渲染前的HTML后处理流水线。
// 按注册顺序执行修复器，最后做一次独立于修复器的安全门禁扫描。
type Pipeline struct {
	fixers []Fixer
	tracer trace.Tracer
}

// NewPipeline 创建使用默认修复器的流水线
func NewPipeline() *Pipeline {
	return &Pipeline{
		fixers: defaultFixers(),
		tracer: otel.Tracer("resume-pipeline-go/postprocessor"),
	}
}

// NewPipelineWithFixers 使用自定义修复器列表，供测试和特殊场景使用
func NewPipelineWithFixers(fixers []Fixer) *Pipeline {
	return &Pipeline{
		fixers: fixers,
		tracer: otel.Tracer("resume-pipeline-go/postprocessor"),
	}
}

// Process 对生成的HTML做校验与修复。
// 无法解析的输入原样返回并带 PARSE_FAILED 问题；安全门禁发现脚本内容时
// 无论严格与否都返回 ErrSecurityViolation。
func (p *Pipeline) Process(ctx context.Context, rawHTML string, opts Options) (*Result, error) {
	ctx, span := p.tracer.Start(ctx, "postprocessor.Process")
	defer span.End()
	span.SetAttributes(
		attribute.String("resume_type", string(opts.ResumeType)),
		attribute.Bool("strict_mode", opts.StrictMode),
		attribute.Int("input_length", len(rawHTML)),
	)

	result := &Result{}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil || strings.TrimSpace(rawHTML) == "" {
		msg := "输入HTML为空"
		if err != nil {
			msg = fmt.Sprintf("解析HTML失败: %v", err)
		}
		result.HTML = rawHTML
		result.Issues = append(result.Issues, ValidationIssue{
			Severity: SeverityError,
			Code:     "PARSE_FAILED",
			Message:  msg,
			Fixed:    false,
		})
		tracing.RecordError(span, fmt.Errorf("%s", msg), tracing.ErrorTypeValidation)
		if opts.StrictMode {
			return result, fmt.Errorf("%w: %s", ErrUnresolvedIssues, msg)
		}
		return result, nil
	}
	result.ParseSucceeded = true

	// 严格模式下不安全内容直接判死，不走修复路径
	if findings := scanUnsafe(doc); len(findings) > 0 {
		for _, f := range findings {
			result.Issues = append(result.Issues, ValidationIssue{
				Severity: SeverityError,
				Code:     f.Code,
				Message:  "输入包含不安全内容",
				Element:  f.Element,
				Fixed:    !opts.StrictMode,
			})
		}
		if opts.StrictMode {
			result.HTML = rawHTML
			tracing.RecordError(span, ErrSecurityViolation, tracing.ErrorTypeSecurity)
			return result, fmt.Errorf("%w: %s", ErrSecurityViolation, findings[0].Code)
		}
	}

	for _, fixer := range p.fixers {
		if !fixer.Enabled {
			continue
		}
		changed, fixErr := p.runFixer(ctx, fixer, doc)
		if fixErr != nil {
			result.Issues = append(result.Issues, ValidationIssue{
				Severity: SeverityWarning,
				Code:     "FIX_FAILED_" + strings.ToUpper(fixer.Name),
				Message:  fixErr.Error(),
				Fixed:    false,
			})
			continue
		}
		if changed {
			result.FixesApplied = append(result.FixesApplied, fixer.Name)
		}
	}

	if injectHardenedCSS(doc) {
		result.CSSInjected = true
	} else {
		// 已存在加固样式也视为注入完成
		result.CSSInjected = strings.Contains(doc.Find("head style").Text(), hardenedCSSMarker)
	}

	// 安全门禁：独立于修复器的最终扫描，发现即致命
	if findings := scanUnsafe(doc); len(findings) > 0 {
		for _, f := range findings {
			result.Issues = append(result.Issues, ValidationIssue{
				Severity: SeverityError,
				Code:     f.Code,
				Message:  "处理后输出仍包含不安全内容",
				Element:  f.Element,
				Fixed:    false,
			})
		}
		tracing.RecordError(span, ErrSecurityViolation, tracing.ErrorTypeSecurity)
		return result, fmt.Errorf("%w: %s", ErrSecurityViolation, findings[0].Code)
	}

	htmlOut, err := doc.Html()
	if err != nil {
		result.Issues = append(result.Issues, ValidationIssue{
			Severity: SeverityError,
			Code:     "SERIALIZE_FAILED",
			Message:  fmt.Sprintf("序列化HTML失败: %v", err),
			Fixed:    false,
		})
		result.HTML = rawHTML
	} else {
		result.HTML = htmlOut
	}

	span.SetAttributes(
		attribute.Int("fixes_applied", len(result.FixesApplied)),
		attribute.Int("issues", len(result.Issues)),
	)
	logger.Ctx(ctx).Debug().
		Strs("fixes_applied", result.FixesApplied).
		Int("issues", len(result.Issues)).
		Bool("css_injected", result.CSSInjected).
		Msg("HTML后处理完成")

	if opts.StrictMode && result.HasUnresolvedErrors() {
		return result, fmt.Errorf("%w: %d 个error级问题未解决", ErrUnresolvedIssues, len(result.Issues))
	}
	return result, nil
}

// runFixer 单个修复器的执行与故障隔离：panic转为错误，不中断流水线
func (p *Pipeline) runFixer(ctx context.Context, fixer Fixer, doc *goquery.Document) (changed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			changed = false
			err = fmt.Errorf("修复器 %s panic: %v", fixer.Name, r)
			logger.Ctx(ctx).Warn().Str("fixer", fixer.Name).Interface("panic", r).Msg("修复器异常")
		}
	}()
	return fixer.Apply(doc)
}
