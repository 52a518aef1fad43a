package postprocessor

import (
	"errors"

	"github.com/PuerkitoBio/goquery"

	"resume-pipeline-go/internal/types"
)

// Severity 问题严重级别
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// ValidationIssue 单个校验/修复问题，汇总进案件事件用于审计
type ValidationIssue struct {
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Element  string   `json:"element,omitempty"`
	Fixed    bool     `json:"fixed"`
}

// Options 后处理选项
type Options struct {
	ResumeType types.ResumeType
	// StrictMode 为true时，任何未解决的error级问题都会使处理失败
	StrictMode bool
}

// Result 后处理结果
type Result struct {
	HTML           string            `json:"-"`
	Issues         []ValidationIssue `json:"issues"`
	FixesApplied   []string          `json:"fixesApplied"`
	CSSInjected    bool              `json:"cssInjected"`
	ParseSucceeded bool              `json:"parseSucceeded"`
}

// HasUnresolvedErrors 是否存在未修复的error级问题
func (r *Result) HasUnresolvedErrors() bool {
	for _, issue := range r.Issues {
		if issue.Severity == SeverityError && !issue.Fixed {
			return true
		}
	}
	return false
}

// Fixer 一个幂等的修复单元，只关注一类问题。
// 返回值表示本次是否实际修改了文档；对已修复的文档必须是无副作用的no-op。
type Fixer struct {
	Name    string
	Enabled bool
	Apply   func(doc *goquery.Document) (bool, error)
}

// ErrSecurityViolation 输出中存在脚本、javascript:链接或内联事件处理器。
// 无论是否严格模式都是致命错误，带病的标记绝不允许进入渲染阶段。
var ErrSecurityViolation = errors.New("检测到不安全的HTML内容")

// ErrUnresolvedIssues 严格模式下存在未解决的error级问题
var ErrUnresolvedIssues = errors.New("存在未解决的校验错误")
