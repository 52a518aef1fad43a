package renderer

import (
	"archive/zip"
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-pipeline-go/internal/types"
)

func sampleResume() *types.ResumeJSON {
	return &types.ResumeJSON{
		Metadata: types.ResumeMetadata{Version: "1.0", GeneratedAt: "2026-07-01T08:00:00Z", TargetRole: "项目经理"},
		Contact:  types.ContactInfo{Name: "张伟", Email: "zhangwei@example.com", Phone: "138-0000-0000"},
		Summary:  "八年部队通信保障经验。",
		Experience: []types.ExperienceEntry{
			{Title: "通信班长", Organization: "某通信团", StartDate: "2016-09", EndDate: "2024-09",
				Highlights: []string{"带领12人团队保障年度演习通信畅通"}},
		},
		Education: []types.EducationEntry{
			{Institution: "某士官学校", Degree: "大专", StartDate: "2014", EndDate: "2016"},
		},
		Skills: types.SkillSet{Technical: []string{"无线电通信", "网络运维"}},
		Crosswalk: []types.CrosswalkRow{
			{MilitaryTerm: "班长", CivilianTerm: "团队主管", Context: "一线班组管理"},
		},
	}
}

func TestHTMLRendererStandard(t *testing.T) {
	r, err := NewHTMLRenderer()
	require.NoError(t, err)

	html, err := r.Render(sampleResume(), types.ResumeTypeStandard)
	require.NoError(t, err)

	assert.Contains(t, html, "张伟")
	assert.Contains(t, html, `class="header"`)
	assert.Contains(t, html, `class="job-header"`)
	assert.Contains(t, html, `class="dates"`)
	assert.Contains(t, html, `class="education-entry"`)
	assert.Contains(t, html, "无线电通信 | 网络运维")
	// 标准简历不包含术语对照表
	assert.NotContains(t, html, "crosswalk-table")
}

func TestHTMLRendererCrosswalk(t *testing.T) {
	r, err := NewHTMLRenderer()
	require.NoError(t, err)

	html, err := r.Render(sampleResume(), types.ResumeTypeCrosswalk)
	require.NoError(t, err)

	assert.Contains(t, html, "crosswalk-table")
	assert.Contains(t, html, "团队主管")
}

func TestHTMLRendererEscapesContent(t *testing.T) {
	r, err := NewHTMLRenderer()
	require.NoError(t, err)

	resume := sampleResume()
	resume.Summary = `<script>alert(1)</script>`
	html, err := r.Render(resume, types.ResumeTypeStandard)
	require.NoError(t, err)

	assert.NotContains(t, html, "<script>alert(1)</script>", "模板必须转义用户内容")
}

func TestHTMLRendererNilResume(t *testing.T) {
	r, err := NewHTMLRenderer()
	require.NoError(t, err)

	_, err = r.Render(nil, types.ResumeTypeStandard)
	assert.Error(t, err)
}

func TestDocxRenderer(t *testing.T) {
	r := NewDocxRenderer()

	data, err := r.RenderDOCX(sampleResume())
	require.NoError(t, err)
	require.NotEmpty(t, data)

	// DOCX本质是zip，应包含word/document.xml且正文含简历内容
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err, "输出应是合法的zip")

	var docXML string
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			rc, err := f.Open()
			require.NoError(t, err)
			raw, err := io.ReadAll(rc)
			rc.Close()
			require.NoError(t, err)
			docXML = string(raw)
		}
	}
	require.NotEmpty(t, docXML, "缺少 word/document.xml")
	assert.True(t, strings.Contains(docXML, "张伟"))
	assert.True(t, strings.Contains(docXML, "通信班长"))
}

func TestDocxRendererNilResume(t *testing.T) {
	r := NewDocxRenderer()
	_, err := r.RenderDOCX(nil)
	assert.Error(t, err)
}
