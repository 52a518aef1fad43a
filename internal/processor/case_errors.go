package processor

import (
	"errors"
	"fmt"
)

// 定义基础错误类型
var (
	ErrInvalidTask         = errors.New("任务消息不合法")
	ErrDocumentDownload    = errors.New("下载原始文档失败")
	ErrGenerateFailed      = errors.New("简历生成失败")
	ErrRenderFailed        = errors.New("产物渲染失败")
	ErrStoreArtifactFailed = errors.New("存储产物失败")
	ErrUpdateStatusFailed  = errors.New("更新案件状态失败")
	ErrDatabaseFailed      = errors.New("数据库操作失败")
)

// CaseProcessError 包含详细上下文的处理错误
type CaseProcessError struct {
	CaseID  string
	Op      string
	BaseErr error
	Detail  string
}

func (e *CaseProcessError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (操作:%s, 案件:%s): %s", e.BaseErr, e.Op, e.CaseID, e.Detail)
	}
	return fmt.Sprintf("%s (操作:%s, 案件:%s)", e.BaseErr, e.Op, e.CaseID)
}

func (e *CaseProcessError) Unwrap() error {
	return e.BaseErr
}

// Is 实现 errors.Is 接口以支持错误比较
func (e *CaseProcessError) Is(target error) bool {
	return errors.Is(e.BaseErr, target)
}

// 错误构造函数
func NewInvalidTaskError(caseID, detail string) error {
	return &CaseProcessError{CaseID: caseID, Op: "validate", BaseErr: ErrInvalidTask, Detail: detail}
}

func NewDownloadError(caseID, detail string) error {
	return &CaseProcessError{CaseID: caseID, Op: "download", BaseErr: ErrDocumentDownload, Detail: detail}
}

func NewGenerateError(caseID, detail string) error {
	return &CaseProcessError{CaseID: caseID, Op: "generate", BaseErr: ErrGenerateFailed, Detail: detail}
}

func NewRenderError(caseID, detail string) error {
	return &CaseProcessError{CaseID: caseID, Op: "render", BaseErr: ErrRenderFailed, Detail: detail}
}

func NewStoreError(caseID, detail string) error {
	return &CaseProcessError{CaseID: caseID, Op: "store", BaseErr: ErrStoreArtifactFailed, Detail: detail}
}

func NewUpdateError(caseID, detail string) error {
	return &CaseProcessError{CaseID: caseID, Op: "update", BaseErr: ErrUpdateStatusFailed, Detail: detail}
}

func NewDatabaseError(caseID, detail string) error {
	return &CaseProcessError{CaseID: caseID, Op: "database", BaseErr: ErrDatabaseFailed, Detail: detail}
}

// ShouldRetry 判断处理错误是否应通过消息重投递重试。
// 不合法的任务消息重投也不会成功，直接确认丢弃。
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrInvalidTask)
}
