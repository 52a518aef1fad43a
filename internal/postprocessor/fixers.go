package postprocessor

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// datePattern 匹配常见的日期/区间写法，如 "2016-09 - 2024-09"、"2018"、"至今"
var datePattern = regexp.MustCompile(`(?:19|20)\d{2}(?:[./-]\d{1,2})?\s*[-–—~至]+\s*(?:(?:19|20)\d{2}(?:[./-]\d{1,2})?|至今|Present)|(?:19|20)\d{2}(?:[./-]\d{1,2})?|至今|Present`)

// defaultFixers 注册的修复器，按序执行。不安全内容清理必须排在最前面。
func defaultFixers() []Fixer {
	return []Fixer{
		{Name: "unsafeContentStripper", Enabled: true, Apply: stripUnsafeContent},
		{Name: "singleStyleBlock", Enabled: true, Apply: consolidateStyleBlocks},
		{Name: "headerCentering", Enabled: true, Apply: fixHeaderCentering},
		{Name: "educationSpacing", Enabled: true, Apply: fixEducationSpacing},
		{Name: "experienceLayout", Enabled: true, Apply: fixExperienceLayout},
		{Name: "skillsFormat", Enabled: true, Apply: fixSkillsFormat},
		{Name: "whitespaceNormalize", Enabled: true, Apply: normalizeWhitespace},
	}
}

// unsafeFinding 安全扫描发现的一处问题
type unsafeFinding struct {
	Code    string
	Element string
}

// scanUnsafe 扫描文档中的脚本、内联事件处理器和javascript:链接。
// 渲染前的硬性安全门禁也复用这份扫描逻辑。
func scanUnsafe(doc *goquery.Document) []unsafeFinding {
	var findings []unsafeFinding

	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		findings = append(findings, unsafeFinding{Code: "SCRIPT_TAG", Element: "script"})
	})

	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		if len(s.Nodes) == 0 {
			return
		}
		for _, attr := range s.Nodes[0].Attr {
			key := strings.ToLower(attr.Key)
			if strings.HasPrefix(key, "on") {
				findings = append(findings, unsafeFinding{
					Code:    "EVENT_HANDLER",
					Element: goquery.NodeName(s) + "[" + key + "]",
				})
				continue
			}
			switch key {
			case "href", "src", "action", "xlink:href", "formaction":
				if strings.HasPrefix(strings.ToLower(strings.TrimSpace(attr.Val)), "javascript:") {
					findings = append(findings, unsafeFinding{
						Code:    "JAVASCRIPT_URI",
						Element: goquery.NodeName(s) + "[" + key + "]",
					})
				}
			}
		}
	})

	return findings
}

// stripUnsafeContent 移除脚本标签、内联事件处理器和javascript:链接
func stripUnsafeContent(doc *goquery.Document) (bool, error) {
	changed := false

	if scripts := doc.Find("script"); scripts.Length() > 0 {
		scripts.Remove()
		changed = true
	}

	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		if len(s.Nodes) == 0 {
			return
		}
		var removeKeys []string
		for _, attr := range s.Nodes[0].Attr {
			key := strings.ToLower(attr.Key)
			if strings.HasPrefix(key, "on") {
				removeKeys = append(removeKeys, attr.Key)
				continue
			}
			switch key {
			case "href", "src", "action", "xlink:href", "formaction":
				if strings.HasPrefix(strings.ToLower(strings.TrimSpace(attr.Val)), "javascript:") {
					removeKeys = append(removeKeys, attr.Key)
				}
			}
		}
		for _, key := range removeKeys {
			s.RemoveAttr(key)
			changed = true
		}
	})

	return changed, nil
}

// consolidateStyleBlocks 将多个style块合并为head内的单个style块
func consolidateStyleBlocks(doc *goquery.Document) (bool, error) {
	styles := doc.Find("style")
	if styles.Length() <= 1 {
		return false, nil
	}

	var combined strings.Builder
	styles.Each(func(_ int, s *goquery.Selection) {
		combined.WriteString(s.Text())
		combined.WriteString("\n")
	})

	first := styles.First()
	first.SetText(combined.String())
	styles.Slice(1, styles.Length()).Remove()
	return true, nil
}

// fixHeaderCentering 保证页眉居中，合并左右分栏布局
func fixHeaderCentering(doc *goquery.Document) (bool, error) {
	header := firstMatch(doc, ".header", "header", "[class*=\"header\"]")
	if header == nil {
		return false, nil
	}
	changed := false

	left := firstMatch(doc, ".header-left", "[class*=\"header-left\"]")
	right := firstMatch(doc, ".header-right", "[class*=\"header-right\"]")
	if left != nil && right != nil {
		name := strings.TrimSpace(left.Find("h1").First().Text())
		if name == "" {
			name = strings.TrimSpace(left.Text())
		}

		var contactParts []string
		right.Find("p, span, a").Each(func(_ int, s *goquery.Selection) {
			if text := strings.TrimSpace(s.Text()); text != "" {
				contactParts = append(contactParts, text)
			}
		})
		left.Find("p, a").Each(func(_ int, s *goquery.Selection) {
			if text := strings.TrimSpace(s.Text()); text != "" && text != name {
				contactParts = append(contactParts, text)
			}
		})

		header.SetHtml(fmt.Sprintf("<h1>%s</h1><p>%s</p>",
			html.EscapeString(name),
			html.EscapeString(strings.Join(contactParts, " | "))))
		changed = true
	}

	if ensureStyle(header, "text-align", "center") {
		changed = true
	}
	header.Find("h1, p").Each(func(_ int, s *goquery.Selection) {
		if ensureStyle(s, "text-align", "center") {
			changed = true
		}
	})
	if !header.HasClass("header-centered") {
		header.AddClass("header-centered")
		changed = true
	}

	return changed, nil
}

// fixEducationSpacing 教育条目的日期并入首行，压缩行间距
func fixEducationSpacing(doc *goquery.Document) (bool, error) {
	entries := doc.Find(".education-entry")
	if entries.Length() == 0 {
		entries = doc.Find("[class*=\"education\"]")
	}
	changed := false

	entries.Each(func(_ int, entry *goquery.Selection) {
		paragraphs := entry.Find("p")
		if paragraphs.Length() == 0 {
			return
		}
		firstP := paragraphs.First()

		// 首行没有日期时，从后续段落搬移
		if !datePattern.MatchString(firstP.Text()) && firstP.Find(".dates").Length() == 0 {
			paragraphs.Slice(1, paragraphs.Length()).EachWithBreak(func(_ int, p *goquery.Selection) bool {
				text := p.Text()
				match := datePattern.FindString(text)
				if match == "" {
					return true
				}
				firstP.AppendHtml(fmt.Sprintf("<span class=\"dates\">%s</span>", html.EscapeString(match)))
				remainder := strings.TrimSpace(strings.Replace(text, match, "", 1))
				if remainder == "" {
					p.Remove()
				} else {
					p.SetText(remainder)
				}
				changed = true
				return false
			})
		}

		if ensureStyle(firstP, "margin-bottom", "0") {
			changed = true
		}
		entry.Find("p + p").Each(func(_ int, p *goquery.Selection) {
			if ensureStyle(p, "margin-top", "2px") {
				changed = true
			}
		})
	})

	return changed, nil
}

// fixExperienceLayout 经历条目：抬头行flex布局、职位加粗、列表紧凑
func fixExperienceLayout(doc *goquery.Document) (bool, error) {
	jobs := doc.Find(".job, .experience-entry")
	if jobs.Length() == 0 {
		jobs = doc.Find("[class*=\"job\"]")
	}
	changed := false

	jobs.Each(func(_ int, job *goquery.Selection) {
		header := job.Find(".job-header").First()
		if header.Length() == 0 {
			header = job.Find("p").First()
		}
		if header.Length() > 0 {
			if ensureStyle(header, "display", "flex") {
				changed = true
			}
			if ensureStyle(header, "justify-content", "space-between") {
				changed = true
			}
			dates := header.Find(".dates, span[class*=\"date\"]").First()
			if dates.Length() > 0 && ensureStyle(dates, "margin-left", "16px") {
				changed = true
			}
		}

		title := job.Find(".job-title, [class*=\"title\"]").First()
		if title.Length() > 0 {
			if ensureStyle(title, "font-weight", "bold") {
				changed = true
			}
		}

		ul := job.Find("ul").First()
		if ul.Length() > 0 {
			if ensureStyle(ul, "margin-top", "4px") {
				changed = true
			}
		}
	})

	return changed, nil
}

// fixSkillsFormat 技能列表改为竖线分隔的单行格式
func fixSkillsFormat(doc *goquery.Document) (bool, error) {
	changed := false
	doc.Find(".skills, [class*=\"skills\"]").Each(func(_ int, section *goquery.Selection) {
		ul := section.Find("ul").First()
		if ul.Length() == 0 {
			return
		}
		var skills []string
		ul.Find("li").Each(func(_ int, li *goquery.Selection) {
			if text := strings.TrimSpace(li.Text()); text != "" {
				skills = append(skills, text)
			}
		})
		if len(skills) == 0 {
			return
		}
		ul.ReplaceWithHtml(fmt.Sprintf("<p><strong>核心技能：</strong>%s</p>",
			html.EscapeString(strings.Join(skills, " | "))))
		changed = true
	})
	return changed, nil
}

// normalizeWhitespace 移除只含空白的空段落
func normalizeWhitespace(doc *goquery.Document) (bool, error) {
	changed := false
	doc.Find("p").Each(func(_ int, p *goquery.Selection) {
		if strings.TrimSpace(p.Text()) == "" && p.Children().Length() == 0 {
			p.Remove()
			changed = true
		}
	})
	return changed, nil
}

// firstMatch 按优先级依次尝试选择器，返回首个命中
func firstMatch(doc *goquery.Document, selectors ...string) *goquery.Selection {
	for _, sel := range selectors {
		if found := doc.Find(sel).First(); found.Length() > 0 {
			return found
		}
	}
	return nil
}

// ensureStyle 在内联样式中补充缺失的属性；已有同名属性则不动，保证幂等
func ensureStyle(s *goquery.Selection, prop, value string) bool {
	style, _ := s.Attr("style")
	if strings.Contains(style, prop+":") {
		return false
	}
	decl := prop + ": " + value
	if style == "" {
		s.SetAttr("style", decl)
	} else {
		s.SetAttr("style", strings.TrimRight(strings.TrimSpace(style), ";")+"; "+decl)
	}
	return true
}
