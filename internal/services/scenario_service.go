package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/aiwuxian/project-mythos/internal/models"
	"github.com/aiwuxian/project-mythos/internal/tags"
)

// ScenarioService 开局剧本生成：把玩家的一句话题材愿望
// 变成结构化的冒险前提，用来播种新对局的初始世界状态。
type ScenarioService struct {
	llm    LLM
	llmCfg models.LLMConfig
}

func NewScenarioService(llm LLM, llmCfg models.LLMConfig) *ScenarioService {
	return &ScenarioService{llm: llm, llmCfg: llmCfg}
}

const scenarioSystem = `你是跑团开局剧本生成器。只输出一个JSON对象：
{
  "title": "冒险标题",
  "setting": "两三句话的世界观与基调描述",
  "openingLocation": "开场地点名",
  "hooks": ["2到4条剧情钩子，每条一句话"],
  "worldSeed": {"任意键": "用于初始化世界状态的叙事标记"}
}
内容使用中文，风格与玩家给出的题材一致，不要输出解释文字。`

// GenerateScenario 生成开局剧本。配额错误沿回退模型列表重试。
func (ss *ScenarioService) GenerateScenario(ctx context.Context, theme string) (*models.Scenario, error) {
	timeout := 90 * time.Second
	if ss.llmCfg.SchemaTimeout > 0 {
		timeout = time.Duration(ss.llmCfg.SchemaTimeout) * time.Second
	}

	prompt := fmt.Sprintf("玩家想玩的题材：%s\n请生成开局剧本。", theme)

	var raw string
	modelIndex := 0
	for {
		tctx, cancel := context.WithTimeout(ctx, timeout)
		var err error
		raw, err = ss.llm.GenerateJSON(tctx, scenarioSystem, prompt, modelIndex)
		cancel()
		if err == nil {
			break
		}
		if IsQuotaError(err) && modelIndex+1 < ss.llm.ModelCount() {
			modelIndex++
			log.Printf("🔄 [剧本] 配额受限，切换到回退模型 #%d", modelIndex)
			continue
		}
		return nil, fmt.Errorf("剧本生成失败: %w", err)
	}

	payload, _, ok := tags.ExtractJSON(raw)
	if !ok {
		return nil, fmt.Errorf("剧本生成失败: 模型输出中找不到完整的JSON对象")
	}

	var sc models.Scenario
	if err := tags.DecodeInto(payload, &sc); err != nil {
		return nil, fmt.Errorf("剧本解析失败: %w", err)
	}
	if sc.Title == "" || sc.OpeningLocation == "" {
		return nil, fmt.Errorf("剧本生成失败: 缺少标题或开场地点，请重试")
	}

	log.Printf("🗺️ [剧本] 生成完成：%s（开场于 %s）", sc.Title, sc.OpeningLocation)
	return &sc, nil
}

// Seed 把剧本写入一份初始状态：开场地点、任务钩子与世界标记
func (ss *ScenarioService) Seed(scenario *models.Scenario, state *models.PlayerState) {
	if scenario == nil {
		return
	}
	state.Location = scenario.OpeningLocation
	state.Quests = append(state.Quests, scenario.Hooks...)
	if len(scenario.WorldSeed) > 0 {
		if state.WorldState == nil {
			state.WorldState = make(map[string]any)
		}
		for k, v := range scenario.WorldSeed {
			state.WorldState[k] = v
		}
	}
}
