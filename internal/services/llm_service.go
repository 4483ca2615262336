package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	"github.com/google/generative-ai-go/genai"
	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/aiwuxian/project-mythos/internal/models"
)

// ChatRequest 一次对话调用：系统指令 + 窗口化历史 + 新消息
type ChatRequest struct {
	System     string
	History    []models.ChatTurn
	Message    string
	ModelIndex int
}

// LLM 回合编排器依赖的最小传输接口
type LLM interface {
	// StreamChat 流式叙事调用，文本增量通过 onDelta 回吐，返回完整文本
	StreamChat(ctx context.Context, req ChatRequest, onDelta func(string)) (string, error)
	// GenerateJSON 非流式的JSON约束调用（角色卡/剧情钩子生成）
	GenerateJSON(ctx context.Context, system, prompt string, modelIndex int) (string, error)
	// ModelCount 回退模型列表长度
	ModelCount() int
}

// LLMService 大模型传输层。provider=openai 同时覆盖各类本地
// OpenAI兼容服务（通过api_base），provider=gemini 走官方SDK。
type LLMService struct {
	config models.LLMConfig
	openai *openai.Client

	geminiOnce sync.Once
	gemini     *genai.Client
	geminiErr  error
}

func NewLLMService(config models.LLMConfig) *LLMService {
	if len(config.Models) == 0 {
		config.Models = []string{"gpt-4o-mini"}
	}
	s := &LLMService{config: config}
	if !s.isGemini() {
		cfg := openai.DefaultConfig(config.APIKey)
		if config.APIBase != "" {
			cfg.BaseURL = config.APIBase
		}
		s.openai = openai.NewClientWithConfig(cfg)
	}
	return s
}

func (s *LLMService) isGemini() bool {
	return strings.EqualFold(s.config.Provider, "gemini")
}

// ModelCount 返回配置的回退模型数量
func (s *LLMService) ModelCount() int { return len(s.config.Models) }

func (s *LLMService) modelName(index int) string {
	if index < 0 {
		index = 0
	}
	if index >= len(s.config.Models) {
		index = len(s.config.Models) - 1
	}
	return s.config.Models[index]
}

// StreamChat 流式对话
func (s *LLMService) StreamChat(ctx context.Context, req ChatRequest, onDelta func(string)) (string, error) {
	if s.isGemini() {
		return s.streamGemini(ctx, req, onDelta)
	}
	return s.streamOpenAI(ctx, req, onDelta)
}

func (s *LLMService) streamOpenAI(ctx context.Context, req ChatRequest, onDelta func(string)) (string, error) {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: req.System},
	}
	for _, turn := range req.History {
		role := openai.ChatMessageRoleUser
		if turn.Role == "model" {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: turn.Text})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser, Content: req.Message,
	})

	stream, err := s.openai.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       s.modelName(req.ModelIndex),
		Messages:    messages,
		Temperature: s.config.Temperature,
		MaxTokens:   s.config.MaxTokens,
		Stream:      true,
	})
	if err != nil {
		return "", fmt.Errorf("发起流式对话失败: %w", err)
	}
	defer stream.Close()

	var b strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return b.String(), fmt.Errorf("接收流式响应失败: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		b.WriteString(delta)
		if onDelta != nil {
			onDelta(delta)
		}
	}
	return b.String(), nil
}

func (s *LLMService) streamGemini(ctx context.Context, req ChatRequest, onDelta func(string)) (string, error) {
	client, err := s.geminiClient(ctx)
	if err != nil {
		return "", err
	}
	model := client.GenerativeModel(s.modelName(req.ModelIndex))
	model.SetTemperature(s.config.Temperature)
	if s.config.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(s.config.MaxTokens))
	}
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}

	cs := model.StartChat()
	for _, turn := range req.History {
		cs.History = append(cs.History, &genai.Content{
			Role:  turn.Role,
			Parts: []genai.Part{genai.Text(turn.Text)},
		})
	}

	var b strings.Builder
	iter := cs.SendMessageStream(ctx, genai.Text(req.Message))
	for {
		resp, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return b.String(), fmt.Errorf("接收Gemini流式响应失败: %w", err)
		}
		for _, cand := range resp.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				if text, ok := part.(genai.Text); ok && text != "" {
					b.WriteString(string(text))
					if onDelta != nil {
						onDelta(string(text))
					}
				}
			}
		}
	}
	return b.String(), nil
}

// GenerateJSON JSON约束的非流式调用，用于角色卡等结构化生成
func (s *LLMService) GenerateJSON(ctx context.Context, system, prompt string, modelIndex int) (string, error) {
	if s.isGemini() {
		client, err := s.geminiClient(ctx)
		if err != nil {
			return "", err
		}
		model := client.GenerativeModel(s.modelName(modelIndex))
		model.SetTemperature(s.config.Temperature)
		model.ResponseMIMEType = "application/json"
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}

		resp, err := model.GenerateContent(ctx, genai.Text(prompt))
		if err != nil {
			return "", fmt.Errorf("Gemini结构化生成失败: %w", err)
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			return "", fmt.Errorf("Gemini没有返回任何内容")
		}
		var b strings.Builder
		for _, part := range resp.Candidates[0].Content.Parts {
			if text, ok := part.(genai.Text); ok {
				b.WriteString(string(text))
			}
		}
		return b.String(), nil
	}

	resp, err := s.openai.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.modelName(modelIndex),
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: s.config.Temperature,
		MaxTokens:   s.config.MaxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", fmt.Errorf("结构化生成失败: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("模型没有返回任何内容")
	}
	return resp.Choices[0].Message.Content, nil
}

func (s *LLMService) geminiClient(ctx context.Context) (*genai.Client, error) {
	s.geminiOnce.Do(func() {
		client, err := genai.NewClient(ctx, option.WithAPIKey(s.config.GeminiAPIKey))
		if err != nil {
			s.geminiErr = fmt.Errorf("初始化Gemini客户端失败: %w", err)
			return
		}
		s.gemini = client
		log.Println("🤖 [模型] Gemini客户端已就绪")
	})
	return s.gemini, s.geminiErr
}

// IsQuotaError 配额/限流类错误：触发回退模型切换，而不是硬失败
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == 429 {
			return true
		}
	}
	var gErr *googleapi.Error
	if errors.As(err, &gErr) && gErr.Code == 429 {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "quota") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "resource_exhausted") ||
		strings.Contains(msg, "429")
}
