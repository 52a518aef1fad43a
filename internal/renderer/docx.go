package renderer

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/fumiama/go-docx"

	"resume-pipeline-go/internal/types"
)

// DocxRenderer 将结构化简历渲染为DOCX，与PDF使用同一份数据源
type DocxRenderer struct{}

// NewDocxRenderer 创建DOCX渲染器
func NewDocxRenderer() *DocxRenderer {
	return &DocxRenderer{}
}

// RenderDOCX 渲染DOCX字节
func (r *DocxRenderer) RenderDOCX(resume *types.ResumeJSON) ([]byte, error) {
	if resume == nil {
		return nil, fmt.Errorf("简历数据不能为空")
	}

	w := docx.New().WithDefaultTheme()

	// 页眉：姓名 + 联系方式，居中
	name := w.AddParagraph().Justification("center")
	name.AddText(resume.Contact.Name).Size("32").Bold()

	contactParts := []string{resume.Contact.Email}
	if resume.Contact.Phone != "" {
		contactParts = append(contactParts, resume.Contact.Phone)
	}
	if resume.Contact.Location != "" {
		contactParts = append(contactParts, resume.Contact.Location)
	}
	contact := w.AddParagraph().Justification("center")
	contact.AddText(strings.Join(contactParts, " | ")).Size("20")

	if resume.Metadata.TargetRole != "" {
		target := w.AddParagraph().Justification("center")
		target.AddText("目标岗位：" + resume.Metadata.TargetRole).Size("20")
	}

	r.addSectionHeading(w, "个人概述")
	w.AddParagraph().AddText(resume.Summary).Size("22")

	if len(resume.Experience) > 0 {
		r.addSectionHeading(w, "工作经历")
		for _, exp := range resume.Experience {
			line := exp.Organization
			if exp.Location != "" {
				line += "，" + exp.Location
			}
			head := w.AddParagraph()
			head.AddText(line).Size("22")
			head.AddText("    " + formatDateRange(exp.StartDate, exp.EndDate)).Size("20")

			title := w.AddParagraph()
			title.AddText(exp.Title).Size("22").Bold().Italic()

			for _, hl := range exp.Highlights {
				bullet := w.AddParagraph()
				bullet.AddText("• " + hl).Size("22")
			}
		}
	}

	if len(resume.Education) > 0 {
		r.addSectionHeading(w, "教育经历")
		for _, edu := range resume.Education {
			head := w.AddParagraph()
			head.AddText(edu.Institution).Size("22").Bold()
			if edu.StartDate != "" {
				head.AddText("    " + formatDateRange(edu.StartDate, edu.EndDate)).Size("20")
			}
			degree := edu.Degree
			if edu.Field != "" {
				degree += "，" + edu.Field
			}
			w.AddParagraph().AddText(degree).Size("22")
		}
	}

	r.addSectionHeading(w, "技能")
	r.addSkillLine(w, "核心技能", resume.Skills.Technical)
	r.addSkillLine(w, "通用能力", resume.Skills.Soft)
	r.addSkillLine(w, "证书", resume.Skills.Certifications)
	r.addSkillLine(w, "语言", resume.Skills.Languages)

	if len(resume.Projects) > 0 {
		r.addSectionHeading(w, "项目经历")
		for _, proj := range resume.Projects {
			w.AddParagraph().AddText(proj.Name).Size("22").Bold()
			w.AddParagraph().AddText(proj.Description).Size("22")
			for _, hl := range proj.Highlights {
				w.AddParagraph().AddText("• " + hl).Size("22")
			}
		}
	}

	if len(resume.Awards) > 0 {
		r.addSectionHeading(w, "荣誉奖励")
		for _, award := range resume.Awards {
			w.AddParagraph().AddText("• " + award).Size("22")
		}
	}

	if len(resume.Crosswalk) > 0 {
		r.addSectionHeading(w, "军民术语对照")
		for _, row := range resume.Crosswalk {
			line := row.MilitaryTerm + " → " + row.CivilianTerm
			if row.Context != "" {
				line += "（" + row.Context + "）"
			}
			w.AddParagraph().AddText(line).Size("22")
		}
	}

	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("写入DOCX失败: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *DocxRenderer) addSectionHeading(w *docx.Docx, title string) {
	p := w.AddParagraph()
	p.AddText(title).Size("24").Bold()
}

func (r *DocxRenderer) addSkillLine(w *docx.Docx, label string, items []string) {
	if len(items) == 0 {
		return
	}
	p := w.AddParagraph()
	p.AddText(label + "：").Size("22").Bold()
	p.AddText(strings.Join(items, " | ")).Size("22")
}

func formatDateRange(start, end string) string {
	if end == "" {
		return start + " - 至今"
	}
	return start + " - " + end
}
