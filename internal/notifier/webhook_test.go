package notifier

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-pipeline-go/internal/config"
)

func TestNotifyCaseResultCompleted(t *testing.T) {
	var received slackMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(&config.NotificationConfig{WebhookURL: srv.URL})
	err := n.NotifyCaseResult(context.Background(), CaseResult{
		CaseID:        "case-1",
		Name:          "张伟",
		TargetRole:    "项目经理",
		Status:        "completed",
		ArtifactTypes: []string{"resume_json", "resume_pdf", "resume_docx"},
	})
	require.NoError(t, err)

	assert.Contains(t, received.Text, "已完成")
	assert.Contains(t, received.Text, "张伟")
	require.NotEmpty(t, received.Blocks)
	found := false
	for _, b := range received.Blocks {
		for _, f := range b.Fields {
			if f != nil && strings.Contains(f.Text, "resume_pdf") {
				found = true
			}
		}
	}
	assert.True(t, found, "通知应包含产物列表")
}

func TestNotifyCaseResultFailed(t *testing.T) {
	var received slackMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &received)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(&config.NotificationConfig{WebhookURL: srv.URL})
	err := n.NotifyCaseResult(context.Background(), CaseResult{
		CaseID:     "case-2",
		Name:       "李强",
		Status:     "failed",
		FailReason: "no_extractable_text",
	})
	require.NoError(t, err)
	assert.Contains(t, received.Text, "失败")
}

func TestNotifyCaseResultNoWebhookIsNoop(t *testing.T) {
	n := NewWebhookNotifier(&config.NotificationConfig{})
	err := n.NotifyCaseResult(context.Background(), CaseResult{CaseID: "case-3", Status: "completed"})
	assert.NoError(t, err)
}

func TestNotifyCaseResultNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(&config.NotificationConfig{WebhookURL: srv.URL})
	err := n.NotifyCaseResult(context.Background(), CaseResult{CaseID: "case-4", Status: "completed"})
	assert.Error(t, err)
}
