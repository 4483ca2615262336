package services

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aiwuxian/project-mythos/internal/models"
)

// PromptService 构造系统指令。每当 PlayerState 变化，系统指令都要
// 用最新快照重建，保证模型的世界观不会与权威状态漂移。
type PromptService struct{}

func NewPromptService() *PromptService {
	return &PromptService{}
}

const protocolInstruction = `你是一名严谨而富有想象力的跑团主持人（GM），带领玩家进行单人冒险。
叙事使用第二人称，每回合推进适量剧情后停下，把选择权交还玩家。

涉及游戏机制时，必须在叙事文本中嵌入以下标签（标签本身不要念出来）：

1. 需要玩家检定时：[ROLL|技能或属性英文名|检定描述|MODIFIER]
   MODIFIER 取 ADVANTAGE / DISADVANTAGE / NONE，可省略。
   例：[ROLL|stealth|悄悄绕过守卫|NONE]
2. 玩家发起攻击时：[ATTACK|武器名|目标描述|MODIFIER]
3. 机制性后果统一用：[GAME_ACTION|类型|JSON载荷]，类型限定为：
   START_COMBAT      载荷: [{"name":"敌人名","hp":7,"xpValue":25}, ...]
   NPC_ATTACK_INTENT 载荷: {"attackerName":"","weaponName":"","targetName":""}
   NPC_SKILL_INTENT  载荷: {"npcName":"","skill":"","description":""}
   ENEMY_DEFEATED    载荷: {"name":""}
   MODIFY_HEALTH     载荷: {"amount":-5,"source":""}（负数为伤害）
   GAIN_REWARD       载荷: {"xp":50,"money":10}
   UPDATE_WORLD_STATE 载荷: 任意JSON补丁
   UPDATE_NPC_STATE  载荷: {"name":"","patch":{...}}
   APPLY_CONDITION   载荷: {"name":"","duration":3}
   REMOVE_CONDITION  载荷: {"name":""}
4. 骰点结果由系统播报，你根据播报叙述后果，绝不要自己编造骰点数字。
5. 每回合最多提出一个 ROLL 或 ATTACK 请求。JSON必须合法，不要输出注释。`

const matureInstruction = `
本会话已由玩家确认开启成人模式，允许出现成人内容。
发生亲密情节时追加标签 [PIV_SEX|角色A|角色B]；
当怀孕事实在剧情中被揭示时追加 [PREGNANCY_REVEALED|角色名]。
是否实际受孕由系统判定，你只负责标记情节。`

// BuildSystemInstruction 拼装一回合的系统指令：协议 + 角色卡 + 状态快照
func (ps *PromptService) BuildSystemInstruction(info *models.CharacterInfo,
	state *models.PlayerState, mature bool) string {

	sheet, _ := json.MarshalIndent(struct {
		Character *models.CharacterInfo `json:"character"`
		State     *models.PlayerState   `json:"state"`
	}{info, state}, "", "  ")

	var b strings.Builder
	b.WriteString(protocolInstruction)
	if mature {
		b.WriteString(matureInstruction)
	}
	b.WriteString("\n\n当前权威角色状态（以此为唯一事实来源，不要臆造数值）：\n")
	b.Write(sheet)
	if state.IsInCombat {
		b.WriteString("\n\n当前正处于战斗中，请按先攻顺序推进战斗回合。")
	}
	return b.String()
}

const sheetSystem = `你是跑团角色卡生成器。只输出一个JSON对象，不要输出任何解释文字。
结构如下：
{
  "characterInfo": {"name","appearance","backstory","race","subrace","class","background","alignment","gender"},
  "playerState": {
    "health":{"current","max"}, "location", "money":{"amount","currency"},
    "inventory":[], "equipment":{"weapon","armor"},
    "xp","level","speed",
    "abilityScores":{"strength","dexterity","constitution","intelligence","wisdom","charisma"},
    "skillProficiencies":{"技能名":"proficient"},
    "savingThrowProficiencies":{"属性名":"proficient"},
    "feats":[], "traits":[], "classFeatures":[], "spellsKnown":[]
  }
}
race/class/background 必须使用英文标准名（如 Human, Fighter, Soldier）。
属性值在8到17之间，level固定为1。`

// SheetSystem 角色卡生成的系统指令
func (ps *PromptService) SheetSystem() string { return sheetSystem }

// BuildSheetPrompt 角色卡生成的用户侧提示
func (ps *PromptService) BuildSheetPrompt(name, gender, description string) string {
	return fmt.Sprintf("角色名：%s\n性别：%s\n玩家描述：%s\n请生成完整角色卡。",
		name, gender, description)
}

// BuildRollFollowup 把本地掷骰结果播报给模型的后续系统消息
func (ps *PromptService) BuildRollFollowup(summaries []string) string {
	return "（系统播报，请据此叙述后果，不要重复数字播报本身）\n" +
		strings.Join(summaries, "\n")
}

// BuildOpening 开场回合的触发消息
func (ps *PromptService) BuildOpening(info *models.CharacterInfo) string {
	return fmt.Sprintf("（系统）冒险开始。请为 %s（%s %s）描绘开场场景，交代环境与当前处境，最后询问玩家的行动。",
		info.Name, info.Race, info.Class)
}
