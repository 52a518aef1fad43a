package types

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ResumeType 渲染变体类型
type ResumeType string

const (
	// ResumeTypeStandard 标准简历
	ResumeTypeStandard ResumeType = "standard"
	// ResumeTypeCivilian 面向非军方岗位的转译简历
	ResumeTypeCivilian ResumeType = "civilian"
	// ResumeTypeCrosswalk 军民术语对照表
	ResumeTypeCrosswalk ResumeType = "crosswalk"
)

// ResumeMetadata 生成元信息
type ResumeMetadata struct {
	Version     string `json:"version"`
	GeneratedAt string `json:"generatedAt"`
	TargetRole  string `json:"targetRole"`
}

// ContactInfo 联系方式
type ContactInfo struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone,omitempty"`
	Location string `json:"location,omitempty"`
	LinkedIn string `json:"linkedin,omitempty"`
	Website  string `json:"website,omitempty"`
}

// ExperienceEntry 一段工作经历
type ExperienceEntry struct {
	Title        string   `json:"title"`
	Organization string   `json:"organization"`
	Location     string   `json:"location,omitempty"`
	StartDate    string   `json:"startDate"`
	EndDate      string   `json:"endDate,omitempty"`
	Highlights   []string `json:"highlights"`
}

// EducationEntry 一段教育经历
type EducationEntry struct {
	Institution string `json:"institution"`
	Degree      string `json:"degree"`
	Field       string `json:"field,omitempty"`
	StartDate   string `json:"startDate,omitempty"`
	EndDate     string `json:"endDate,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

// SkillSet 技能分组
type SkillSet struct {
	Technical      []string `json:"technical"`
	Soft           []string `json:"soft,omitempty"`
	Certifications []string `json:"certifications,omitempty"`
	Languages      []string `json:"languages,omitempty"`
}

// ProjectEntry 一个项目条目
type ProjectEntry struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	URL         string   `json:"url,omitempty"`
	Highlights  []string `json:"highlights,omitempty"`
}

// CrosswalkRow 军民术语对照行
type CrosswalkRow struct {
	MilitaryTerm string `json:"militaryTerm"`
	CivilianTerm string `json:"civilianTerm"`
	Context      string `json:"context,omitempty"`
}

// ResumeJSON 生成阶段的结构化输出，也是所有渲染变体的唯一数据源。
type ResumeJSON struct {
	Metadata   ResumeMetadata    `json:"metadata"`
	Contact    ContactInfo       `json:"contact"`
	Summary    string            `json:"summary"`
	Experience []ExperienceEntry `json:"experience"`
	Education  []EducationEntry  `json:"education"`
	Skills     SkillSet          `json:"skills"`
	Projects   []ProjectEntry    `json:"projects,omitempty"`
	Awards     []string          `json:"awards,omitempty"`
	Crosswalk  []CrosswalkRow    `json:"crosswalk,omitempty"`
}

// resumeJSONSchema 生成输出的结构契约。生成阶段的任何输出必须先通过该校验，
// 才允许进入后续的渲染流程。
const resumeJSONSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["metadata", "contact", "summary", "experience", "education", "skills"],
  "properties": {
    "metadata": {
      "type": "object",
      "required": ["version", "generatedAt", "targetRole"],
      "properties": {
        "version": {"type": "string", "minLength": 1},
        "generatedAt": {"type": "string", "minLength": 1},
        "targetRole": {"type": "string"}
      }
    },
    "contact": {
      "type": "object",
      "required": ["name", "email"],
      "properties": {
        "name": {"type": "string", "minLength": 1},
        "email": {"type": "string", "minLength": 3},
        "phone": {"type": "string"},
        "location": {"type": "string"},
        "linkedin": {"type": "string"},
        "website": {"type": "string"}
      }
    },
    "summary": {"type": "string", "minLength": 1},
    "experience": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["title", "organization", "startDate", "highlights"],
        "properties": {
          "title": {"type": "string", "minLength": 1},
          "organization": {"type": "string", "minLength": 1},
          "location": {"type": "string"},
          "startDate": {"type": "string", "minLength": 1},
          "endDate": {"type": "string"},
          "highlights": {"type": "array", "items": {"type": "string"}}
        }
      }
    },
    "education": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["institution", "degree"],
        "properties": {
          "institution": {"type": "string", "minLength": 1},
          "degree": {"type": "string", "minLength": 1},
          "field": {"type": "string"},
          "startDate": {"type": "string"},
          "endDate": {"type": "string"},
          "notes": {"type": "string"}
        }
      }
    },
    "skills": {
      "type": "object",
      "required": ["technical"],
      "properties": {
        "technical": {"type": "array", "items": {"type": "string"}},
        "soft": {"type": "array", "items": {"type": "string"}},
        "certifications": {"type": "array", "items": {"type": "string"}},
        "languages": {"type": "array", "items": {"type": "string"}}
      }
    },
    "projects": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "description"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "description": {"type": "string", "minLength": 1},
          "url": {"type": "string"},
          "highlights": {"type": "array", "items": {"type": "string"}}
        }
      }
    },
    "awards": {"type": "array", "items": {"type": "string"}},
    "crosswalk": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["militaryTerm", "civilianTerm"],
        "properties": {
          "militaryTerm": {"type": "string", "minLength": 1},
          "civilianTerm": {"type": "string", "minLength": 1},
          "context": {"type": "string"}
        }
      }
    }
  }
}`

var resumeSchemaLoader = gojsonschema.NewStringLoader(resumeJSONSchema)

// ValidateResumeJSONBytes 按契约校验生成输出的原始字节。
// 返回的错误信息汇总了所有违反项，供内容错误重试与审计使用。
func ValidateResumeJSONBytes(data []byte) error {
	result, err := gojsonschema.Validate(resumeSchemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("简历JSON校验执行失败: %w", err)
	}
	if result.Valid() {
		return nil
	}
	var sb strings.Builder
	for i, desc := range result.Errors() {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(desc.String())
	}
	return fmt.Errorf("简历JSON不符合契约: %s", sb.String())
}

// Validate 校验结构体本身（先序列化再走同一份schema）
func (r *ResumeJSON) Validate() error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("简历JSON序列化失败: %w", err)
	}
	return ValidateResumeJSONBytes(data)
}
