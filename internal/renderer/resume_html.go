package renderer

import (
	"bytes"
	"fmt"
	"html/template"

	"resume-pipeline-go/internal/types"
)

// HTMLRenderer 将结构化简历渲染为HTML，作为PDF渲染的输入。
// 模板输出的类名与后处理修复器、加固CSS约定一致。
type HTMLRenderer struct {
	tmpl *template.Template
}

// templateData 模板上下文
type templateData struct {
	Resume    *types.ResumeJSON
	Crosswalk bool
}

const resumeTemplate = `{{define "resume"}}<html>
<head>
<meta charset="utf-8">
<style>
body { margin: 24px 32px; }
.header h1 { margin-bottom: 4px; }
.section { margin-bottom: 8px; }
</style>
</head>
<body>
<div class="header">
<h1>{{.Resume.Contact.Name}}</h1>
<p class="contact-info">{{.Resume.Contact.Email}}{{with .Resume.Contact.Phone}} | {{.}}{{end}}{{with .Resume.Contact.Location}} | {{.}}{{end}}{{with .Resume.Contact.LinkedIn}} | {{.}}{{end}}</p>
{{with .Resume.Metadata.TargetRole}}<p class="contact-info">目标岗位：{{.}}</p>{{end}}
</div>

<h2>个人概述</h2>
<div class="section"><p>{{.Resume.Summary}}</p></div>

{{if .Resume.Experience}}<h2>工作经历</h2>
{{range .Resume.Experience}}<div class="job">
<p class="job-header"><span>{{.Organization}}{{with .Location}}，{{.}}{{end}}</span><span class="dates">{{.StartDate}}{{with .EndDate}} - {{.}}{{end}}</span></p>
<p class="job-title">{{.Title}}</p>
{{if .Highlights}}<ul>{{range .Highlights}}<li>{{.}}</li>{{end}}</ul>{{end}}
</div>
{{end}}{{end}}

{{if .Resume.Education}}<h2>教育经历</h2>
{{range .Resume.Education}}<div class="education-entry">
<p><span>{{.Institution}}</span>{{if .StartDate}}<span class="dates">{{.StartDate}}{{with .EndDate}} - {{.}}{{end}}</span>{{end}}</p>
<p>{{.Degree}}{{with .Field}}，{{.}}{{end}}{{with .Notes}}（{{.}}）{{end}}</p>
</div>
{{end}}{{end}}

<h2>技能</h2>
<div class="skills">
{{if .Resume.Skills.Technical}}<p><strong>核心技能：</strong>{{join .Resume.Skills.Technical " | "}}</p>{{end}}
{{if .Resume.Skills.Soft}}<p><strong>通用能力：</strong>{{join .Resume.Skills.Soft " | "}}</p>{{end}}
{{if .Resume.Skills.Certifications}}<p><strong>证书：</strong>{{join .Resume.Skills.Certifications " | "}}</p>{{end}}
{{if .Resume.Skills.Languages}}<p><strong>语言：</strong>{{join .Resume.Skills.Languages " | "}}</p>{{end}}
</div>

{{if .Resume.Projects}}<h2>项目经历</h2>
{{range .Resume.Projects}}<div class="job">
<p class="job-title">{{.Name}}</p>
<p>{{.Description}}</p>
{{if .Highlights}}<ul>{{range .Highlights}}<li>{{.}}</li>{{end}}</ul>{{end}}
</div>
{{end}}{{end}}

{{if .Resume.Awards}}<h2>荣誉奖励</h2>
<div class="section"><ul>{{range .Resume.Awards}}<li>{{.}}</li>{{end}}</ul></div>
{{end}}

{{if and .Crosswalk .Resume.Crosswalk}}<h2>军民术语对照</h2>
<div class="crosswalk-section">
<table class="crosswalk-table">
<tr><th>军队术语</th><th>民用表述</th><th>说明</th></tr>
{{range .Resume.Crosswalk}}<tr>
<td class="military-term">{{.MilitaryTerm}}</td>
<td class="civilian-term">{{.CivilianTerm}}</td>
<td>{{.Context}}</td>
</tr>
{{end}}</table>
</div>
{{end}}
</body>
</html>
{{end}}`

// NewHTMLRenderer 解析简历模板
func NewHTMLRenderer() (*HTMLRenderer, error) {
	tmpl, err := template.New("resume").Funcs(template.FuncMap{
		"join": joinStrings,
	}).Parse(resumeTemplate)
	if err != nil {
		return nil, fmt.Errorf("解析简历模板失败: %w", err)
	}
	return &HTMLRenderer{tmpl: tmpl}, nil
}

// Render 按简历类型渲染HTML。crosswalk类型在正文后附加术语对照表。
func (r *HTMLRenderer) Render(resume *types.ResumeJSON, resumeType types.ResumeType) (string, error) {
	if resume == nil {
		return "", fmt.Errorf("简历数据不能为空")
	}

	data := templateData{
		Resume:    resume,
		Crosswalk: resumeType == types.ResumeTypeCrosswalk,
	}

	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, "resume", data); err != nil {
		return "", fmt.Errorf("渲染简历HTML失败: %w", err)
	}
	return buf.String(), nil
}

func joinStrings(items []string, sep string) string {
	var buf bytes.Buffer
	for i, item := range items {
		if i > 0 {
			buf.WriteString(sep)
		}
		buf.WriteString(item)
	}
	return buf.String()
}
