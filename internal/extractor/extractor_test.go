package extractor

import (
	"archive/zip"
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-pipeline-go/internal/constants"
)

func newTestExtractor(t *testing.T) *TextExtractor {
	t.Helper()
	e, err := NewTextExtractor(context.Background())
	require.NoError(t, err, "创建抽取器不应失败")
	return e
}

// buildDocx 在内存中构造一个最小可用的DOCX文件
func buildDocx(t *testing.T, documentXML string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(documentXML))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestExtractPlainText(t *testing.T) {
	e := newTestExtractor(t)

	result, err := e.Extract(context.Background(), "notes.txt", []byte("服役经历：2015-2023 通信班长"))
	require.NoError(t, err)
	assert.Equal(t, constants.ExtractionCompleted, result.Status)
	assert.Contains(t, result.Text, "通信班长")
}

func TestExtractPlainTextInvalidUTF8(t *testing.T) {
	e := newTestExtractor(t)

	_, err := e.Extract(context.Background(), "notes.txt", []byte{0xff, 0xfe, 0xfd})
	assert.Error(t, err, "非UTF-8文本应抽取失败")
}

func TestExtractImageNeedsOCR(t *testing.T) {
	e := newTestExtractor(t)

	for _, name := range []string{"scan.png", "scan.jpg", "scan.jpeg", "scan.webp"} {
		result, err := e.Extract(context.Background(), name, []byte{0x89, 0x50, 0x4e, 0x47})
		require.NoError(t, err, "图片类型不应返回错误: %s", name)
		assert.Equal(t, constants.ExtractionNeedsOCR, result.Status)
		assert.Empty(t, result.Text)
	}
}

func TestExtractDOCX(t *testing.T) {
	e := newTestExtractor(t)

	documentXML := `<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>张伟</w:t></w:r></w:p>
    <w:p><w:r><w:t>步兵连</w:t><w:tab/><w:t>班长</w:t></w:r></w:p>
  </w:body>
</w:document>`

	result, err := e.Extract(context.Background(), "resume.docx", buildDocx(t, documentXML))
	require.NoError(t, err)
	assert.Equal(t, constants.ExtractionCompleted, result.Status)
	assert.Contains(t, result.Text, "张伟")
	assert.Contains(t, result.Text, "步兵连\t班长")
	// 段落之间应还原为换行
	assert.Contains(t, result.Text, "张伟\n")
}

func TestExtractDOCXMissingDocumentXML(t *testing.T) {
	e := newTestExtractor(t)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/styles.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte("<w:styles/>"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	_, err = e.Extract(context.Background(), "broken.docx", buf.Bytes())
	assert.Error(t, err)
}

func TestExtractDOCXNotAZip(t *testing.T) {
	e := newTestExtractor(t)

	_, err := e.Extract(context.Background(), "broken.docx", []byte("definitely not a zip"))
	assert.Error(t, err)
}

func TestExtractUnsupportedExtension(t *testing.T) {
	e := newTestExtractor(t)

	_, err := e.Extract(context.Background(), "payload.exe", []byte("MZ"))
	assert.Error(t, err)
}
