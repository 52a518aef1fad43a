package postprocessor

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// hardenedCSSMarker 用于幂等检测：已注入过的文档不会重复注入
const hardenedCSSMarker = "==== hardened print css ===="

// hardenedCSS 打印加固样式。注入在所有生成样式之后，用 !important 压制模型输出里
// 不可控的排版，保证PDF渲染结果一致。
const hardenedCSS = `
/* ` + hardenedCSSMarker + ` */

.header,
.header-centered,
header,
div[class*="header"] {
  text-align: center !important;
  display: block !important;
  width: 100% !important;
}

.header h1,
.header-centered h1,
header h1 {
  text-align: center !important;
  margin-left: auto !important;
  margin-right: auto !important;
  font-size: 16pt !important;
  font-weight: bold !important;
  margin-bottom: 4px !important;
}

.header p,
.header-centered p,
header p,
.contact-info {
  text-align: center !important;
  margin: 2px 0 !important;
}

.header-left,
.header-right,
[class*="header-left"],
[class*="header-right"] {
  display: contents !important;
  float: none !important;
  width: auto !important;
  text-align: center !important;
}

.education-entry,
.education,
div[class*="education"] {
  margin-bottom: 8px !important;
}

.education-entry p,
.education p {
  margin-bottom: 0 !important;
  margin-top: 0 !important;
}

.education-entry p + p,
.education p + p {
  margin-top: 2px !important;
}

.job,
.experience-entry,
div[class*="job"],
div[class*="experience"] {
  margin-bottom: 14px !important;
}

.job-header,
.experience-header,
[class*="job-header"] {
  display: flex !important;
  justify-content: space-between !important;
  align-items: baseline !important;
  margin-bottom: 0 !important;
}

.job-title,
[class*="job-title"] {
  font-weight: bold !important;
  font-style: italic !important;
  margin-top: 2px !important;
  margin-bottom: 4px !important;
}

.dates,
.job-dates,
span[class*="date"] {
  margin-left: 16px !important;
  white-space: nowrap !important;
  flex-shrink: 0 !important;
}

h2 {
  font-size: 11pt !important;
  font-weight: bold !important;
  border-bottom: 1px solid #000 !important;
  margin: 14px 0 8px 0 !important;
  padding-bottom: 3px !important;
}

ul {
  margin-top: 4px !important;
  margin-bottom: 0 !important;
  padding-left: 20px !important;
}

li {
  margin-bottom: 2px !important;
}

.skills p,
[class*="skills"] p {
  margin: 0 !important;
}

* {
  box-sizing: border-box !important;
}

body {
  font-family: 'Songti SC', 'SimSun', 'Times New Roman', serif !important;
  font-size: 11pt !important;
  line-height: 1.4 !important;
}

.crosswalk-section {
  border: 2px solid #333 !important;
  margin-bottom: 16px !important;
  padding: 12px !important;
  page-break-inside: avoid !important;
}

.crosswalk-table {
  width: 100% !important;
  border-collapse: collapse !important;
}

.crosswalk-table th,
.crosswalk-table td {
  border-bottom: 1px dotted #ddd !important;
  padding: 4px 8px !important;
  text-align: left !important;
}

.military-term {
  color: #666 !important;
  font-style: italic !important;
}

.civilian-term {
  font-weight: bold !important;
  color: #000 !important;
}
`

// injectHardenedCSS 将加固样式追加到head的style块末尾，保证其优先级最高。
// 已注入过的文档直接跳过。返回是否本次注入。
func injectHardenedCSS(doc *goquery.Document) bool {
	// 标记可能被样式合并修复器挪到任意style块中，幂等检测要覆盖全部style节点
	marked := false
	doc.Find("style").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if strings.Contains(s.Text(), hardenedCSSMarker) {
			marked = true
			return false
		}
		return true
	})
	if marked {
		return false
	}

	style := doc.Find("head style").First()
	if style.Length() == 0 {
		doc.Find("head").First().AppendHtml("<style></style>")
		style = doc.Find("head style").First()
	}
	style.SetText(style.Text() + hardenedCSS)
	return true
}
