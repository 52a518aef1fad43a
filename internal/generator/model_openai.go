package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"resume-pipeline-go/internal/logger"
)

const defaultChatModelName = "qwen-plus"

// OpenAIChatCompletionRequest OpenAI兼容的请求体
// eino的schema.Message与OpenAI消息结构在role/content上兼容，可直接序列化
type OpenAIChatCompletionRequest struct {
	Model       string            `json:"model"`
	Messages    []*schema.Message `json:"messages"`
	Temperature *float32          `json:"temperature,omitempty"`
}

// OpenAIMessage 响应中的消息
type OpenAIMessage struct {
	Role    string  `json:"role"`
	Content *string `json:"content"`
}

// OpenAIChatChoice 单个候选结果
type OpenAIChatChoice struct {
	Index        int           `json:"index"`
	Message      OpenAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

// OpenAICompletionResponse OpenAI兼容的响应体
type OpenAICompletionResponse struct {
	Id      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []OpenAIChatChoice `json:"choices"`
}

// OpenAIChatModel 通过OpenAI兼容接口访问对话模型，实现 model.BaseChatModel 接口。
// 生成阶段只需要单轮补全，不做工具绑定。
type OpenAIChatModel struct {
	apiKey     string
	modelName  string
	apiURL     string
	httpClient *http.Client
}

// NewOpenAIChatModel 创建OpenAI兼容的对话模型客户端
func NewOpenAIChatModel(apiKey string, modelName string, apiURL string, timeout time.Duration) (*OpenAIChatModel, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("API 密钥不能为空")
	}
	if strings.TrimSpace(apiURL) == "" {
		return nil, fmt.Errorf("API URL 不能为空")
	}

	mn := modelName
	if strings.TrimSpace(mn) == "" {
		mn = defaultChatModelName
	}
	if timeout <= 0 {
		timeout = 90 * time.Second
	}

	logger.Info().Str("api_url", apiURL).Str("model", mn).Msg("初始化LLM客户端")

	return &OpenAIChatModel{
		apiKey:     apiKey,
		modelName:  mn,
		apiURL:     apiURL,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Generate 实现 model.BaseChatModel 接口
func (m *OpenAIChatModel) Generate(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.Message, error) {
	reqPayload := OpenAIChatCompletionRequest{
		Model:    m.modelName,
		Messages: messages,
	}

	jsonData, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, fmt.Errorf("序列化请求体失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("创建 HTTP 请求失败: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+m.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := m.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("发送 HTTP 请求失败: %w", err)
	}
	defer httpResp.Body.Close()

	bodyBytes, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API 请求失败，状态 %s: %s", httpResp.Status, string(bodyBytes))
	}

	var openAIResp OpenAICompletionResponse
	if err := json.Unmarshal(bodyBytes, &openAIResp); err != nil {
		return nil, fmt.Errorf("反序列化 API 响应失败: %w", err)
	}

	if len(openAIResp.Choices) == 0 {
		return nil, fmt.Errorf("从 API 收到空选项")
	}

	apiMessage := openAIResp.Choices[0].Message
	responseContent := ""
	if apiMessage.Content != nil {
		responseContent = *apiMessage.Content
	}

	resultMessage := &schema.Message{
		Role:    schema.RoleType(apiMessage.Role),
		Content: responseContent,
	}
	if resultMessage.Role == "" {
		resultMessage.Role = schema.RoleType("assistant")
	}

	logger.Ctx(ctx).Debug().
		Str("model", openAIResp.Model).
		Str("finish_reason", openAIResp.Choices[0].FinishReason).
		Int("content_length", len(responseContent)).
		Msg("LLM响应完成")

	return resultMessage, nil
}

// Stream 实现 model.BaseChatModel 接口。生成阶段是离线任务，不需要流式输出。
func (m *OpenAIChatModel) Stream(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, fmt.Errorf("OpenAIChatModel 的 Stream 方法未实现")
}

var _ model.BaseChatModel = (*OpenAIChatModel)(nil)
