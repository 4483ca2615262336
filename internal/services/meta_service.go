package services

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aiwuxian/project-mythos/internal/models"
	"github.com/aiwuxian/project-mythos/internal/storage"
	"github.com/aiwuxian/project-mythos/internal/tags"
)

// pointBuyCost 购点法单项花费。可购区间8-15，超出即非法。
var pointBuyCost = map[int]int{
	8: 0, 9: 1, 10: 2, 11: 3, 12: 4, 13: 5, 14: 7, 15: 9,
}

const pointBuyBudget = 27

// MetaService 角色创建、升级与存档管理
type MetaService struct {
	store   *storage.Storage
	rules   *RuleEngine
	llm     LLM
	prompts *PromptService
	llmCfg  models.LLMConfig
}

func NewMetaService(store *storage.Storage, rules *RuleEngine, llm LLM,
	prompts *PromptService, llmCfg models.LLMConfig) *MetaService {
	return &MetaService{
		store:   store,
		rules:   rules,
		llm:     llm,
		prompts: prompts,
		llmCfg:  llmCfg,
	}
}

func (ms *MetaService) schemaTimeout() time.Duration {
	if ms.llmCfg.SchemaTimeout > 0 {
		return time.Duration(ms.llmCfg.SchemaTimeout) * time.Second
	}
	return 90 * time.Second
}

// ValidatePointBuy 校验购点法分配：六项齐全、单项8-15、总花费不超27点。
// 传入的是种族加值之前的基础值。
func ValidatePointBuy(scores map[string]int) error {
	total := 0
	for _, name := range models.AbilityNames {
		score, ok := scores[name]
		if !ok {
			return fmt.Errorf("缺少属性 %s", name)
		}
		cost, ok := pointBuyCost[score]
		if !ok {
			return fmt.Errorf("属性 %s = %d 超出购点范围（8-15）", name, score)
		}
		total += cost
	}
	if total > pointBuyBudget {
		return fmt.Errorf("购点总花费 %d 超出预算 %d", total, pointBuyBudget)
	}
	return nil
}

// BuildCharacter 手动创建：基础属性走购点校验，种族加值、生命、护甲、
// 熟练项全部由规则表推导。
func (ms *MetaService) BuildCharacter(info *models.CharacterInfo, baseScores map[string]int,
	chosenSkills []string) (*models.PlayerState, error) {

	if err := ValidatePointBuy(baseScores); err != nil {
		return nil, fmt.Errorf("属性分配非法: %w", err)
	}

	tables := ms.rules.Tables()
	class := tables.FindClass(info.Class)
	if class == nil {
		return nil, fmt.Errorf("未知职业: %s", info.Class)
	}
	race := tables.FindRace(info.Race)
	if race == nil {
		return nil, fmt.Errorf("未知种族: %s", info.Race)
	}

	scores := map[string]int{}
	bonuses := tables.RaceBonuses(info.Race, info.Subrace)
	for _, name := range models.AbilityNames {
		scores[name] = baseScores[name] + bonuses[name]
	}

	state := &models.PlayerState{
		Location:      "冒险的起点",
		Money:         models.Money{Amount: 15, Currency: "gold"},
		Inventory:     []string{},
		Level:         1,
		Speed:         race.Speed,
		AbilityScores: scores,
		Traits:        append([]string{}, race.Traits...),
		ClassFeatures: append([]string{}, class.Features...),
	}

	conMod := AbilityModifier(scores["constitution"])
	state.Health.Max = class.HitDie + conMod
	if state.Health.Max < 1 {
		state.Health.Max = 1
	}
	state.Health.Current = state.Health.Max

	state.SavingThrowProficiencies = map[string]string{}
	for _, st := range class.SavingThrows {
		state.SavingThrowProficiencies[strings.ToLower(st)] = "proficient"
	}

	state.SkillProficiencies = map[string]string{}
	if bg := tables.FindBackground(info.Background); bg != nil {
		for _, sk := range bg.Skills {
			state.SkillProficiencies[strings.ToLower(sk)] = "proficient"
		}
		if bg.Feat != "" {
			state.Feats = append(state.Feats, bg.Feat)
		}
	}
	for _, sk := range chosenSkills {
		sk = strings.ToLower(strings.TrimSpace(sk))
		if !classOffersSkill(class, sk) {
			return nil, fmt.Errorf("职业 %s 不提供技能 %s", class.Name, sk)
		}
		state.SkillProficiencies[sk] = "proficient"
	}

	ms.Normalize(state)
	return state, nil
}

func classOffersSkill(class *Class, skill string) bool {
	for _, s := range class.SkillChoices {
		if strings.EqualFold(s, skill) {
			return true
		}
	}
	return false
}

// Normalize 重算派生值。所有写入状态的路径最后都要过这里，
// 保证护甲、熟练加值、生命上限永远与当前属性一致。
func (ms *MetaService) Normalize(state *models.PlayerState) {
	if state.Level < 1 {
		state.Level = 1
	}
	if state.Speed <= 0 {
		state.Speed = 30
	}
	state.ProficiencyBonus = ProficiencyBonusForLevel(state.Level)
	state.ArmorClass = ms.rules.ArmorClass(state)
	if state.Health.Max < 1 {
		state.Health.Max = 1
	}
	state.ClampHealth()
}

// sheetEnvelope AI生成角色卡的预期结构
type sheetEnvelope struct {
	CharacterInfo *models.CharacterInfo `json:"characterInfo"`
	PlayerState   *models.PlayerState   `json:"playerState"`
}

// GenerateCharacter 由模型从自然语言描述生成完整角色卡。
// 配额错误沿回退模型列表重试；输出先做JSON净化，结构不完整时
// 尝试一次修复（把扁平对象视作隐式playerState），仍失败则把错误交给用户。
func (ms *MetaService) GenerateCharacter(ctx context.Context, name, gender, description string) (
	*models.CharacterInfo, *models.PlayerState, error) {

	system := ms.prompts.SheetSystem()
	prompt := ms.prompts.BuildSheetPrompt(name, gender, description)

	var raw string
	modelIndex := 0
	for {
		tctx, cancel := context.WithTimeout(ctx, ms.schemaTimeout())
		var err error
		raw, err = ms.llm.GenerateJSON(tctx, system, prompt, modelIndex)
		cancel()
		if err == nil {
			break
		}
		if IsQuotaError(err) && modelIndex+1 < ms.llm.ModelCount() {
			modelIndex++
			log.Printf("🔄 [建卡] 配额受限，切换到回退模型 #%d", modelIndex)
			continue
		}
		return nil, nil, fmt.Errorf("角色卡生成失败: %w", err)
	}

	payload, _, ok := tags.ExtractJSON(raw)
	if !ok {
		return nil, nil, fmt.Errorf("角色卡生成失败: 模型输出中找不到完整的JSON对象")
	}
	payload = tags.SanitizeJSON(payload)

	var env sheetEnvelope
	if err := tags.DecodeInto(payload, &env); err != nil {
		return nil, nil, fmt.Errorf("角色卡解析失败: %w", err)
	}

	if env.PlayerState == nil {
		// 修复路径：模型把状态字段平铺在了顶层
		var flat models.PlayerState
		if err := tags.DecodeInto(payload, &flat); err == nil && len(flat.AbilityScores) > 0 {
			env.PlayerState = &flat
		}
	}
	if env.CharacterInfo == nil || env.PlayerState == nil || len(env.PlayerState.AbilityScores) == 0 {
		return nil, nil, fmt.Errorf("角色卡生成失败: 模型输出结构不完整，请重试或改用手动创建")
	}

	env.CharacterInfo.Name = name
	env.CharacterInfo.Gender = gender
	if env.PlayerState.Inventory == nil {
		env.PlayerState.Inventory = []string{}
	}
	ms.Normalize(env.PlayerState)
	log.Printf("🎭 [建卡] %s：%s %s，完成生成", name, env.CharacterInfo.Race, env.CharacterInfo.Class)
	return env.CharacterInfo, env.PlayerState, nil
}

// LevelUp 经验达到下一级门槛时升级：等级+1，生命上限按生命骰均值增长，
// 熟练加值重算。返回是否发生了升级。
func (ms *MetaService) LevelUp(info *models.CharacterInfo, state *models.PlayerState) bool {
	target := LevelForXP(state.XP)
	if target <= state.Level {
		return false
	}

	hitDie := 8
	if class := ms.rules.Tables().FindClass(info.Class); class != nil {
		hitDie = class.HitDie
	}
	conMod := AbilityModifier(state.AbilityScores["constitution"])

	for state.Level < target {
		state.Level++
		gain := hitDie/2 + 1 + conMod
		if gain < 1 {
			gain = 1
		}
		state.Health.Max += gain
		state.Health.Current += gain
	}
	ms.Normalize(state)
	log.Printf("⬆️ [升级] %s 升到 %d 级，生命上限 %d", info.Name, state.Level, state.Health.Max)
	return true
}

// NewSave 为一局新游戏建立存档槽
func (ms *MetaService) NewSave(name string, info *models.CharacterInfo,
	state *models.PlayerState) (*models.SaveSlot, error) {

	now := time.Now()
	slot := &models.SaveSlot{
		ID:            uuid.New().String(),
		Name:          name,
		CharacterInfo: *info,
		PlayerState:   *state,
		ChatHistory:   []models.ChatTurn{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := ms.store.AddSave(slot); err != nil {
		return nil, err
	}
	return slot, nil
}

// ListSaves 存档列表
func (ms *MetaService) ListSaves() ([]models.SaveSlot, error) {
	return ms.store.ListSaves()
}

// GetSave 读取单个存档
func (ms *MetaService) GetSave(id string) (*models.SaveSlot, error) {
	return ms.store.GetSave(id)
}

// RenameSave 重命名存档
func (ms *MetaService) RenameSave(id, name string) error {
	return ms.store.UpdateSave(id, storage.SavePatch{Name: &name})
}

// DeleteSave 删除存档
func (ms *MetaService) DeleteSave(id string) error {
	return ms.store.DeleteSave(id)
}

// SkillChoicesFor 职业可选技能列表（按字母序，给前端渲染用）
func (ms *MetaService) SkillChoicesFor(className string) []string {
	class := ms.rules.Tables().FindClass(className)
	if class == nil {
		return nil
	}
	choices := append([]string{}, class.SkillChoices...)
	sort.Strings(choices)
	return choices
}
