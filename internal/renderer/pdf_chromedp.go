package renderer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"resume-pipeline-go/internal/config"
	"resume-pipeline-go/internal/logger"
)

// pdfMagic PDF文件头签名，用于渲染结果的完整性检查
var pdfMagic = []byte("%PDF")

// PDFRenderer 通过无头Chrome将HTML渲染为PDF
type PDFRenderer struct {
	chromePath string
	timeout    time.Duration
	maxRetries int

	// Letter 8.5x11英寸，页边距可配置
	marginTop    float64
	marginBottom float64
	marginLeft   float64
	marginRight  float64
}

// NewPDFRenderer 从配置构建PDF渲染器
func NewPDFRenderer(cfg *config.RendererConfig) *PDFRenderer {
	r := &PDFRenderer{
		chromePath:   cfg.ChromePath,
		timeout:      config.GetDuration(cfg.Timeout, 30*time.Second),
		maxRetries:   cfg.MaxRetries,
		marginTop:    cfg.MarginTopIn,
		marginBottom: cfg.MarginBottomIn,
		marginLeft:   cfg.MarginLeftIn,
		marginRight:  cfg.MarginRightIn,
	}
	if r.maxRetries <= 0 {
		r.maxRetries = 3
	}
	if r.marginTop <= 0 {
		r.marginTop = 0.4
	}
	if r.marginBottom <= 0 {
		r.marginBottom = 0.4
	}
	if r.marginLeft <= 0 {
		r.marginLeft = 0.4
	}
	if r.marginRight <= 0 {
		r.marginRight = 0.4
	}
	return r
}

// RenderPDF 渲染HTML为PDF字节。输出必须带%PDF签名，
// 否则按退避策略重试，重试耗尽后返回错误。
func (r *PDFRenderer) RenderPDF(ctx context.Context, html string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < r.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("上下文已取消: %w", ctx.Err())
			case <-time.After(backoff):
			}
			logger.Ctx(ctx).Warn().Int("attempt", attempt+1).Msg("重试PDF渲染")
		}

		pdfBytes, err := r.renderOnce(ctx, html)
		if err != nil {
			lastErr = err
			continue
		}
		if !bytes.HasPrefix(pdfBytes, pdfMagic) {
			lastErr = fmt.Errorf("渲染输出缺少PDF签名 (长度 %d)", len(pdfBytes))
			continue
		}
		return pdfBytes, nil
	}
	return nil, fmt.Errorf("PDF渲染在 %d 次尝试后失败: %w", r.maxRetries, lastErr)
}

func (r *PDFRenderer) renderOnce(ctx context.Context, html string) ([]byte, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if r.chromePath != "" {
		opts = append(opts, chromedp.ExecPath(r.chromePath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	cctx, cancelCtx := chromedp.NewContext(allocCtx)
	defer cancelCtx()

	runCtx, cancelRun := context.WithTimeout(cctx, r.timeout)
	defer cancelRun()

	// 写入临时文件走file://导航，避免data: URL的长度与编码问题
	tmpDir, err := os.MkdirTemp("", "resume-render-")
	if err != nil {
		return nil, fmt.Errorf("创建临时目录失败: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	htmlPath := filepath.Join(tmpDir, "index.html")
	if err := os.WriteFile(htmlPath, []byte(html), 0o644); err != nil {
		return nil, fmt.Errorf("写入HTML临时文件失败: %w", err)
	}

	var pdfBuf []byte
	err = chromedp.Run(runCtx,
		chromedp.Navigate("file://"+htmlPath),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var printErr error
			pdfBuf, _, printErr = page.PrintToPDF().
				WithPrintBackground(true).
				WithPaperWidth(8.5).
				WithPaperHeight(11).
				WithMarginTop(r.marginTop).
				WithMarginBottom(r.marginBottom).
				WithMarginLeft(r.marginLeft).
				WithMarginRight(r.marginRight).
				Do(ctx)
			return printErr
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("无头Chrome渲染失败: %w", err)
	}
	return pdfBuf, nil
}
