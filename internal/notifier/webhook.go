package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"resume-pipeline-go/internal/config"
	"resume-pipeline-go/internal/logger"
)

// CaseResult 通知载荷：案件终态及其产物概览
type CaseResult struct {
	CaseID        string
	Name          string
	TargetRole    string
	Status        string
	FailReason    string
	ArtifactTypes []string
}

// WebhookNotifier 向Slack风格的incoming webhook推送案件终态通知。
// 通知是尽力而为的旁路：失败只记录日志，绝不影响案件处理结果。
type WebhookNotifier struct {
	webhookURL string
	httpClient *http.Client
}

// NewWebhookNotifier 创建webhook通知器。未配置webhook地址时返回的实例静默跳过所有通知。
func NewWebhookNotifier(cfg *config.NotificationConfig) *WebhookNotifier {
	timeout := 10 * time.Second
	if cfg != nil && cfg.Timeout != "" {
		timeout = config.GetDuration(cfg.Timeout, timeout)
	}
	url := ""
	if cfg != nil {
		url = cfg.WebhookURL
	}
	return &WebhookNotifier{
		webhookURL: url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// slackMessage Slack incoming webhook的消息体
type slackMessage struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks,omitempty"`
}

type slackBlock struct {
	Type   string       `json:"type"`
	Text   *slackText   `json:"text,omitempty"`
	Fields []*slackText `json:"fields,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// NotifyCaseResult 推送案件终态通知
func (n *WebhookNotifier) NotifyCaseResult(ctx context.Context, result CaseResult) error {
	if n.webhookURL == "" {
		logger.Ctx(ctx).Debug().Str("case_id", result.CaseID).Msg("未配置通知webhook，跳过案件通知")
		return nil
	}

	msg := buildCaseMessage(result)
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("序列化通知消息失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("构造通知请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("发送案件通知失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("通知webhook返回异常状态: %d", resp.StatusCode)
	}
	return nil
}

func buildCaseMessage(result CaseResult) *slackMessage {
	headline := fmt.Sprintf("简历案件已完成: %s", result.Name)
	detail := fmt.Sprintf("*产物:*\n%s", joinOrDash(result.ArtifactTypes))
	if result.Status != "completed" {
		headline = fmt.Sprintf("简历案件处理失败: %s", result.Name)
		detail = fmt.Sprintf("*失败原因:*\n%s", result.FailReason)
	}

	return &slackMessage{
		Text: headline,
		Blocks: []slackBlock{
			{
				Type: "header",
				Text: &slackText{Type: "plain_text", Text: headline},
			},
			{
				Type: "section",
				Fields: []*slackText{
					{Type: "mrkdwn", Text: fmt.Sprintf("*案件ID:*\n`%s`", result.CaseID)},
					{Type: "mrkdwn", Text: fmt.Sprintf("*目标岗位:*\n%s", joinOrDash([]string{result.TargetRole}))},
					{Type: "mrkdwn", Text: detail},
				},
			},
		},
	}
}

func joinOrDash(items []string) string {
	out := ""
	for _, it := range items {
		if it == "" {
			continue
		}
		if out != "" {
			out += ", "
		}
		out += it
	}
	if out == "" {
		return "-"
	}
	return out
}
