package models

// GameActionType GAME_ACTION 标签的动作类型枚举
type GameActionType string

const (
	ActionStartCombat      GameActionType = "START_COMBAT"
	ActionNPCAttackIntent  GameActionType = "NPC_ATTACK_INTENT"
	ActionNPCSkillIntent   GameActionType = "NPC_SKILL_INTENT"
	ActionEnemyDefeated    GameActionType = "ENEMY_DEFEATED"
	ActionModifyHealth     GameActionType = "MODIFY_HEALTH"
	ActionGainReward       GameActionType = "GAIN_REWARD"
	ActionUpdateWorldState GameActionType = "UPDATE_WORLD_STATE"
	ActionUpdateNPCState   GameActionType = "UPDATE_NPC_STATE"
	ActionApplyCondition   GameActionType = "APPLY_CONDITION"
	ActionRemoveCondition  GameActionType = "REMOVE_CONDITION"
)

// GameAction 带类型的动作载荷。原始字符串标签映射到具体变体，
// 未知类型按失败关闭处理（跳过，不中断回合）。
type GameAction interface {
	ActionType() GameActionType
}

// EnemySpec START_COMBAT 载荷里声明的一个敌人
type EnemySpec struct {
	Name    string `json:"name"`
	HP      int    `json:"hp"`
	XPValue int    `json:"xpValue"`
}

type StartCombatAction struct {
	Enemies []EnemySpec `json:"enemies"`
}

func (StartCombatAction) ActionType() GameActionType { return ActionStartCombat }

type NPCAttackIntentAction struct {
	AttackerName string `json:"attackerName"`
	WeaponName   string `json:"weaponName"`
	TargetName   string `json:"targetName"`
}

func (NPCAttackIntentAction) ActionType() GameActionType { return ActionNPCAttackIntent }

type NPCSkillIntentAction struct {
	NPCName     string `json:"npcName"`
	Skill       string `json:"skill"`
	Description string `json:"description"`
}

func (NPCSkillIntentAction) ActionType() GameActionType { return ActionNPCSkillIntent }

type EnemyDefeatedAction struct {
	Name string `json:"name"`
}

func (EnemyDefeatedAction) ActionType() GameActionType { return ActionEnemyDefeated }

type ModifyHealthAction struct {
	Amount int    `json:"amount"` // 负数表示伤害
	Source string `json:"source"`
}

func (ModifyHealthAction) ActionType() GameActionType { return ActionModifyHealth }

type GainRewardAction struct {
	XP    int `json:"xp"`
	Money int `json:"money"` // 负数表示损失
}

func (GainRewardAction) ActionType() GameActionType { return ActionGainReward }

type UpdateWorldStateAction struct {
	Patch map[string]any `json:"patch"`
}

func (UpdateWorldStateAction) ActionType() GameActionType { return ActionUpdateWorldState }

type UpdateNPCStateAction struct {
	Name  string         `json:"name"`
	Patch map[string]any `json:"patch"`
}

func (UpdateNPCStateAction) ActionType() GameActionType { return ActionUpdateNPCState }

type ApplyConditionAction struct {
	Name     string `json:"name"`
	Duration int    `json:"duration"`
}

func (ApplyConditionAction) ActionType() GameActionType { return ActionApplyCondition }

type RemoveConditionAction struct {
	Name string `json:"name"`
}

func (RemoveConditionAction) ActionType() GameActionType { return ActionRemoveCondition }
