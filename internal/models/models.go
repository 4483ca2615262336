package models

import (
	"encoding/json"
	"time"
)

// AbilityNames 六大属性的标准键名
var AbilityNames = []string{"strength", "dexterity", "constitution", "intelligence", "wisdom", "charisma"}

// Health 生命值
type Health struct {
	Current int `json:"current"`
	Max     int `json:"max"`
}

// Money 金钱
type Money struct {
	Amount   int    `json:"amount"`
	Currency string `json:"currency"` // 默认 "gold"
}

// Equipment 装备栏
type Equipment struct {
	Weapon string `json:"weapon"`
	Armor  string `json:"armor"`
}

// Condition 状态效果（按名称唯一，重复施加时替换）
type Condition struct {
	Name     string `json:"name"`
	Duration int    `json:"duration"` // 剩余回合数，0表示持续到显式移除
}

// PregnancyState 怀孕子记录（仅成人模式下可能被写入）
type PregnancyState struct {
	IsPregnant        bool   `json:"isPregnant"`
	ConceptionTurn    int    `json:"conceptionTurn"`
	Sire              string `json:"sire"`
	KnowledgeRevealed bool   `json:"knowledgeRevealed"` // 单向翻转，不可逆
}

// Combatant 战斗参与者（仅在战斗中存在，战斗结束后整个列表清空）
type Combatant struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	HP         int    `json:"hp"`
	MaxHP      int    `json:"maxHp"`
	Initiative int    `json:"initiative"`
	IsPlayer   bool   `json:"isPlayer"`
	XPValue    int    `json:"xpValue,omitempty"`
}

// PlayerState 玩家角色的可变游戏状态
// 不变量：Health.Current ∈ [0, Health.Max]；ProficiencyBonus 由 Level 唯一决定；
// 装备变化后 ArmorClass 必须重算。
type PlayerState struct {
	Health                   Health            `json:"health"`
	Location                 string            `json:"location"`
	Money                    Money             `json:"money"`
	Inventory                []string          `json:"inventory"`
	Equipment                Equipment         `json:"equipment"`
	Party                    []string          `json:"party,omitempty"`
	Quests                   []string          `json:"quests,omitempty"`
	XP                       int               `json:"xp"`
	Level                    int               `json:"level"`
	ProficiencyBonus         int               `json:"proficiencyBonus"`
	ArmorClass               int               `json:"armorClass"`
	Speed                    int               `json:"speed"`
	AbilityScores            map[string]int    `json:"abilityScores"`
	SkillProficiencies       map[string]string `json:"skillProficiencies,omitempty"` // 技能名 -> proficient|none
	SavingThrowProficiencies map[string]string `json:"savingThrowProficiencies,omitempty"`
	Feats                    []string          `json:"feats,omitempty"`
	Traits                   []string          `json:"traits,omitempty"`
	ClassFeatures            []string          `json:"classFeatures,omitempty"`
	SpellsKnown              []string          `json:"spellsKnown,omitempty"`
	Conditions               []Condition       `json:"conditions,omitempty"`
	TurnCount                int               `json:"turnCount"`
	Pregnancy                *PregnancyState   `json:"pregnancy,omitempty"`
	WorldState               map[string]any    `json:"worldState,omitempty"` // 开放式叙事标记
	IsInCombat               bool              `json:"isInCombat"`
	Combatants               []Combatant       `json:"combatants,omitempty"`
}

// Clone 深拷贝一份状态快照。回合内所有变更先作用于快照，回合末原子提交。
func (ps *PlayerState) Clone() *PlayerState {
	data, _ := json.Marshal(ps)
	var cp PlayerState
	_ = json.Unmarshal(data, &cp)
	return &cp
}

// LivingEnemies 统计存活的非玩家战斗者数量
func (ps *PlayerState) LivingEnemies() int {
	n := 0
	for _, c := range ps.Combatants {
		if !c.IsPlayer && c.HP > 0 {
			n++
		}
	}
	return n
}

// ClampHealth 把当前生命值收敛到 [0, Max]
func (ps *PlayerState) ClampHealth() {
	if ps.Health.Current > ps.Health.Max {
		ps.Health.Current = ps.Health.Max
	}
	if ps.Health.Current < 0 {
		ps.Health.Current = 0
	}
}

// CharacterInfo 角色静态身份信息（创建后不可变，升级流程只改 PlayerState）
type CharacterInfo struct {
	Name       string `json:"name"`
	Appearance string `json:"appearance"`
	Backstory  string `json:"backstory"`
	Race       string `json:"race"`
	Subrace    string `json:"subrace,omitempty"` // 种族特有选择（如龙裔血脉）
	Class      string `json:"class"`
	Background string `json:"background"`
	Alignment  string `json:"alignment"`
	Gender     string `json:"gender"` // male/female
}

// ChatTurn 对话历史中的一条记录，按回合时序严格追加
type ChatTurn struct {
	Role string `json:"role"` // user 或 model
	Text string `json:"text"`
}

// SaveSlot 存档槽：持久化与用户加载/删除操作的基本单位
type SaveSlot struct {
	ID                string        `json:"id"`
	Name              string        `json:"name"`
	CharacterInfo     CharacterInfo `json:"characterInfo"`
	PlayerState       PlayerState   `json:"playerState"`
	ChatHistory       []ChatTurn    `json:"chatHistory"`
	CurrentModelIndex int           `json:"currentModelIndex"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// Scenario 开局剧本：生成后用于播种新对局的初始状态
type Scenario struct {
	Title           string         `json:"title"`
	Setting         string         `json:"setting"`
	OpeningLocation string         `json:"openingLocation"`
	Hooks           []string       `json:"hooks,omitempty"`
	WorldSeed       map[string]any `json:"worldSeed,omitempty"`
}

// DiceRoll 一次掷骰的完整结果（保留每颗骰子的点数用于展示和审计）
type DiceRoll struct {
	Notation string `json:"notation"`
	Rolls    []int  `json:"rolls"`
	Total    int    `json:"total"`
}

// Config 配置
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	LLM      LLMConfig      `yaml:"llm"`
	Game     GameConfig     `yaml:"game"`
	Data     DataConfig     `yaml:"data"`
}

type ServerConfig struct {
	Port string `yaml:"port" env:"PORT"`
	Host string `yaml:"host"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type LLMConfig struct {
	Provider     string   `yaml:"provider"` // openai（含本地OpenAI兼容服务）或 gemini
	APIKey       string   `yaml:"api_key" env:"OPENAI_API_KEY"`
	APIBase      string   `yaml:"api_base" env:"OPENAI_API_BASE"`
	GeminiAPIKey string   `yaml:"gemini_api_key" env:"GEMINI_API_KEY"`
	Models       []string `yaml:"models"` // 有序回退列表，配额错误时依次切换
	Temperature  float32  `yaml:"temperature"`
	MaxTokens    int      `yaml:"max_tokens"`
	// 叙事回合与结构化生成回合各自的超时上限（秒）
	NarrationTimeout int `yaml:"narration_timeout"`
	SchemaTimeout    int `yaml:"schema_timeout"`
}

type GameConfig struct {
	EnableAdultMode  bool `yaml:"enable_adult_mode"` // 总开关，会话内仍需玩家显式同意
	HistoryWindow    int  `yaml:"history_window"`    // 发给模型的对话窗口（回合数）
	MaxAutoRollDepth int  `yaml:"max_auto_roll_depth"`
}

type DataConfig struct {
	RulesDir string `yaml:"rules_dir"` // 静态规则表目录
	FontPath string `yaml:"font_path"` // PDF导出用的UTF-8字体，留空则用内置拉丁字体
}
