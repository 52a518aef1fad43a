package extractor

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cloudwego/eino-ext/components/document/parser/pdf"
	einoParser "github.com/cloudwego/eino/components/document/parser"

	"resume-pipeline-go/internal/constants"
	"resume-pipeline-go/internal/logger"
)

// Result 单个文档的抽取结果
// needs_ocr 不是错误：表示文档没有可直接抽取的文本层，需要OCR才能处理
type Result struct {
	Text   string
	Status constants.ExtractionStatus
}

// TextExtractor 按文件类型抽取纯文本
// PDF 走 Eino 解析器，DOCX 走 OOXML 解包，图片类型直接标记 needs_ocr
type TextExtractor struct {
	pdfParser  *pdf.PDFParser
	pdfTimeout time.Duration
}

// Option 抽取器配置选项
type Option func(*TextExtractor)

// WithPDFTimeout 配置单个PDF解析的超时时间
func WithPDFTimeout(d time.Duration) Option {
	return func(e *TextExtractor) {
		if d > 0 {
			e.pdfTimeout = d
		}
	}
}

// NewTextExtractor 初始化文本抽取器
// PDF解析配置为不按页面分割，以获取整个文档的连续文本
func NewTextExtractor(ctx context.Context, options ...Option) (*TextExtractor, error) {
	p, err := pdf.NewPDFParser(ctx, &pdf.Config{
		ToPages: false,
	})
	if err != nil {
		return nil, fmt.Errorf("创建PDF解析器失败: %w", err)
	}

	e := &TextExtractor{
		pdfParser:  p,
		pdfTimeout: 30 * time.Second,
	}
	for _, option := range options {
		option(e)
	}
	return e, nil
}

// Extract 从文件内容中抽取纯文本，按扩展名分发到具体实现
// 返回错误表示该文档抽取失败；needs_ocr 通过 Result.Status 表达，不是错误
func (e *TextExtractor) Extract(ctx context.Context, fileName string, data []byte) (*Result, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	if !constants.AllowedUploadExtensions[ext] {
		return nil, fmt.Errorf("不支持的文件类型: %s", ext)
	}

	switch ext {
	case ".pdf":
		return e.extractPDF(ctx, fileName, data)
	case ".docx":
		return extractDOCX(data)
	case ".txt":
		return extractPlainText(data)
	case ".png", ".jpg", ".jpeg", ".webp":
		// 图片没有文本层，交给OCR流程
		return &Result{Status: constants.ExtractionNeedsOCR}, nil
	default:
		return nil, fmt.Errorf("不支持的文件类型: %s", ext)
	}
}

// extractPDF 通过 Eino 解析PDF，文本层为空时视为扫描件
func (e *TextExtractor) extractPDF(ctx context.Context, uri string, data []byte) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.pdfTimeout)
	defer cancel()

	startTime := time.Now()
	docs, err := e.pdfParser.Parse(ctx, bytes.NewReader(data),
		einoParser.WithURI(uri),
	)
	if err != nil {
		return nil, fmt.Errorf("PDF解析失败 (URI: %s): %w", uri, err)
	}

	var sb strings.Builder
	for i, doc := range docs {
		sb.WriteString(doc.Content)
		if i < len(docs)-1 {
			sb.WriteString("\n\n")
		}
	}
	text := sb.String()

	logger.Ctx(ctx).Debug().
		Str("uri", uri).
		Int("text_length", len(text)).
		Dur("duration", time.Since(startTime)).
		Msg("PDF文本抽取完成")

	// 无文本层的PDF通常是扫描件
	if strings.TrimSpace(text) == "" {
		return &Result{Status: constants.ExtractionNeedsOCR}, nil
	}
	return &Result{Text: text, Status: constants.ExtractionCompleted}, nil
}

// extractPlainText 纯文本文件只要求UTF-8编码合法
func extractPlainText(data []byte) (*Result, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("文本文件不是合法的UTF-8编码")
	}
	return &Result{Text: string(data), Status: constants.ExtractionCompleted}, nil
}

// extractDOCX 解包OOXML，从 word/document.xml 中收集文本内容
func extractDOCX(data []byte) (*Result, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("DOCX文件内容为空")
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("DOCX文件解包失败: %w", err)
	}

	var docFile *zip.File
	for _, f := range zr.File {
		if strings.ReplaceAll(f.Name, "\\", "/") == "word/document.xml" {
			docFile = f
			break
		}
	}
	if docFile == nil {
		return nil, fmt.Errorf("DOCX缺少 word/document.xml")
	}

	rc, err := docFile.Open()
	if err != nil {
		return nil, fmt.Errorf("读取 word/document.xml 失败: %w", err)
	}
	defer rc.Close()

	text, err := stripDocxXML(rc)
	if err != nil {
		return nil, err
	}
	return &Result{Text: text, Status: constants.ExtractionCompleted}, nil
}

// stripDocxXML 遍历XML标记流，保留文本节点，段落和换行符还原为换行
func stripDocxXML(r io.Reader) (string, error) {
	decoder := xml.NewDecoder(r)
	var buf strings.Builder
	inText := false
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("解析 word/document.xml 失败: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				buf.WriteString("\t")
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p", "br":
				if buf.Len() > 0 {
					buf.WriteString("\n")
				}
			}
		case xml.CharData:
			if inText {
				buf.Write(t)
			}
		}
	}
	return strings.TrimSpace(buf.String()), nil
}
