package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/aiwuxian/project-mythos/internal/models"
	"github.com/aiwuxian/project-mythos/internal/storage"
	"github.com/aiwuxian/project-mythos/internal/tags"
)

var (
	// ErrTurnInFlight 单回合并发保护：上一回合未结束时拒绝新回合
	ErrTurnInFlight = errors.New("已有回合正在进行中")
	// ErrModelsExhausted 回退模型列表耗尽，无法继续自动恢复
	ErrModelsExhausted = errors.New("所有回退模型均已耗尽")
	// ErrTimeout 模型响应超时，属于可重试错误
	ErrTimeout = errors.New("模型响应超时，可重试")
)

// GameSession 一局进行中的游戏。状态只会被单一的回合处理路径修改。
type GameSession struct {
	ID         string
	SaveID     string
	Info       models.CharacterInfo
	State      *models.PlayerState
	History    []models.ChatTurn
	ModelIndex int
	MatureMode bool // 玩家在本会话中的显式同意

	mu         sync.Mutex
	generating bool
}

// beginTurn 回合入口处的并发闸门
func (s *GameSession) beginTurn() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generating {
		return ErrTurnInFlight
	}
	s.generating = true
	return nil
}

func (s *GameSession) endTurn() {
	s.mu.Lock()
	s.generating = false
	s.mu.Unlock()
}

// TurnResult 一次完整交互（含自动骰点的后续回合）的结果
type TurnResult struct {
	Narrative    string              `json:"narrative"` // 原始模型文本（含标签）
	CleanText    string              `json:"cleanText"` // 去标签后的展示文本
	Notes        []string            `json:"notes,omitempty"`
	Rolls        []string            `json:"rolls,omitempty"`   // 自动解决的骰点播报
	Choices      []PendingRoll       `json:"choices,omitempty"` // 多个待定检定时交给玩家选择
	State        *models.PlayerState `json:"state"`
	StateChanged bool                `json:"stateChanged"`
	ModelIndex   int                 `json:"modelIndex"`
}

// TurnService 回合编排器：负责一次玩家/系统回合的完整请求响应周期
type TurnService struct {
	llm       LLM
	prompts   *PromptService
	processor *ActionProcessor
	store     *storage.Storage
	game      models.GameConfig
	llmCfg    models.LLMConfig
}

func NewTurnService(llm LLM, prompts *PromptService, processor *ActionProcessor,
	store *storage.Storage, game models.GameConfig, llmCfg models.LLMConfig) *TurnService {
	if game.HistoryWindow <= 0 {
		game.HistoryWindow = 40
	}
	if game.MaxAutoRollDepth <= 0 {
		game.MaxAutoRollDepth = 3
	}
	return &TurnService{
		llm:       llm,
		prompts:   prompts,
		processor: processor,
		store:     store,
		game:      game,
		llmCfg:    llmCfg,
	}
}

func (ts *TurnService) narrationTimeout() time.Duration {
	if ts.llmCfg.NarrationTimeout > 0 {
		return time.Duration(ts.llmCfg.NarrationTimeout) * time.Second
	}
	return 30 * time.Second
}

// RunTurn 执行一个玩家回合。同一会话内严格串行。
func (ts *TurnService) RunTurn(ctx context.Context, s *GameSession, message string,
	onDelta func(string)) (*TurnResult, error) {

	if err := s.beginTurn(); err != nil {
		return nil, err
	}
	defer s.endTurn()
	return ts.runTurn(ctx, s, message, onDelta, 0)
}

// ResolveChoice 玩家从多个待定检定中选定一个后继续回合
func (ts *TurnService) ResolveChoice(ctx context.Context, s *GameSession, choice PendingRoll,
	onDelta func(string)) (*TurnResult, error) {

	if err := s.beginTurn(); err != nil {
		return nil, err
	}
	defer s.endTurn()

	summaries := ts.resolvePending(s, choice)
	ts.persist(s)
	result, err := ts.runTurn(ctx, s, ts.prompts.BuildRollFollowup(summaries), onDelta, 1)
	if err != nil {
		return nil, err
	}
	result.Rolls = append(summaries, result.Rolls...)
	return result, nil
}

// runTurn 一个回合的主体：建提示 → 流式响应 → 标签处理 → 决定下一步。
// 配额错误整回合重试（切换回退模型、全新会话），避免部分副作用被重复应用。
func (ts *TurnService) runTurn(ctx context.Context, s *GameSession, message string,
	onDelta func(string), depth int) (*TurnResult, error) {

	var text string
	for {
		req := ChatRequest{
			System:     ts.prompts.BuildSystemInstruction(&s.Info, s.State, s.MatureMode),
			History:    ts.window(s.History),
			Message:    message,
			ModelIndex: s.ModelIndex,
		}

		tctx, cancel := context.WithTimeout(ctx, ts.narrationTimeout())
		var err error
		text, err = ts.llm.StreamChat(tctx, req, onDelta)
		cancel()
		if err == nil {
			break
		}
		if IsQuotaError(err) {
			if s.ModelIndex+1 >= ts.llm.ModelCount() {
				log.Printf("❌ [回合] 配额错误且无可用回退模型: %v", err)
				return nil, ErrModelsExhausted
			}
			s.ModelIndex++
			log.Printf("🔄 [回合] 配额受限，切换到回退模型 #%d 后整回合重试", s.ModelIndex)
			continue
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(tctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("回合请求失败: %w", err)
	}

	// 历史必须按回合时序严格追加
	s.History = append(s.History,
		models.ChatTurn{Role: "user", Text: message},
		models.ChatTurn{Role: "model", Text: text},
	)

	parsed := tags.Extract(text)
	outcome := ts.processor.Apply(&s.Info, s.State, parsed, s.MatureMode)

	result := &TurnResult{
		Narrative:    text,
		CleanText:    strings.TrimSpace(tags.Strip(text)),
		Notes:        outcome.Notes,
		StateChanged: outcome.StateChanged,
		ModelIndex:   s.ModelIndex,
	}

	// 原子提交快照；任何变更都要先落盘，再构造下一条出站提示
	s.State = outcome.State
	s.State.TurnCount++
	TickConditions(s.State)
	ts.persist(s)

	switch {
	case len(outcome.Pending) == 1 && depth < ts.game.MaxAutoRollDepth:
		// 恰好一个待定检定：立即自动掷骰，并递归一个后续回合告知模型结果
		summaries := ts.resolvePending(s, outcome.Pending[0])
		ts.persist(s)
		result.Rolls = summaries

		sub, err := ts.runTurn(ctx, s, ts.prompts.BuildRollFollowup(summaries), onDelta, depth+1)
		if err != nil {
			return nil, err
		}
		return mergeResults(result, sub), nil
	case len(outcome.Pending) > 1:
		// 多个待定检定：全部作为显式选项交给玩家
		result.Choices = outcome.Pending
	}

	result.State = s.State
	return result, nil
}

func (ts *TurnService) resolvePending(s *GameSession, p PendingRoll) []string {
	if p.Kind == "attack" {
		res := ts.processor.ResolveAttack(&s.Info, s.State, p)
		return []string{res.Summary()}
	}
	res := ts.processor.ResolveRoll(s.State, p)
	return []string{res.Summary()}
}

// window 发给模型的历史窗口；完整历史仍保留在存档里
func (ts *TurnService) window(history []models.ChatTurn) []models.ChatTurn {
	if len(history) <= ts.game.HistoryWindow {
		return history
	}
	return history[len(history)-ts.game.HistoryWindow:]
}

// persist 会话绑定了存档时，把当前快照写入持久层
func (ts *TurnService) persist(s *GameSession) {
	if ts.store == nil || s.SaveID == "" {
		return
	}
	err := ts.store.UpdateSave(s.SaveID, storage.SavePatch{
		PlayerState:       s.State,
		ChatHistory:       s.History,
		CurrentModelIndex: &s.ModelIndex,
	})
	if err != nil {
		log.Printf("⚠️ [存档] 写入失败: %v", err)
	}
}

func mergeResults(first, second *TurnResult) *TurnResult {
	merged := &TurnResult{
		Narrative:    first.Narrative + "\n\n" + second.Narrative,
		CleanText:    strings.TrimSpace(first.CleanText + "\n\n" + second.CleanText),
		Notes:        append(first.Notes, second.Notes...),
		Rolls:        append(first.Rolls, second.Rolls...),
		Choices:      second.Choices,
		State:        second.State,
		StateChanged: first.StateChanged || second.StateChanged,
		ModelIndex:   second.ModelIndex,
	}
	return merged
}
