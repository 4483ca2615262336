package services

import (
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/aiwuxian/project-mythos/internal/models"
	"github.com/aiwuxian/project-mythos/internal/tags"
)

// 怀孕叙事标记的固定独立触发概率
const conceptionChance = 0.20

// ActionProcessor 把识别出的标签作为状态机迁移，作用在
// {PlayerState, Combatants, WorldState} 快照上。
type ActionProcessor struct {
	rules *RuleEngine
}

func NewActionProcessor(rules *RuleEngine) *ActionProcessor {
	return &ActionProcessor{rules: rules}
}

// PendingRoll 本回合产生、尚未解决的检定/攻击请求
type PendingRoll struct {
	Kind        string   `json:"kind"` // roll 或 attack
	Skill       string   `json:"skill,omitempty"`
	Description string   `json:"description,omitempty"`
	Weapon      string   `json:"weapon,omitempty"`
	Target      string   `json:"target,omitempty"`
	Modifier    RollKind `json:"modifier"`
}

// TurnOutcome 一个回合的标签处理结果
type TurnOutcome struct {
	State        *models.PlayerState `json:"state"`
	StateChanged bool                `json:"stateChanged"`
	Pending      []PendingRoll       `json:"pending,omitempty"`
	Notes        []string            `json:"notes,omitempty"` // 机制播报，回传给模型并展示给玩家
}

// Apply 在深拷贝快照上依次应用全部标签，结尾原子提交。
// 单个标签失败只丢弃它自己的变更，其余标签照常生效。
func (ap *ActionProcessor) Apply(info *models.CharacterInfo, state *models.PlayerState,
	parsed []tags.Tag, mature bool) *TurnOutcome {

	snap := state.Clone()
	out := &TurnOutcome{State: snap}
	equipBefore := snap.Equipment

	for _, t := range parsed {
		switch t.Kind {
		case tags.KindRoll:
			out.Pending = append(out.Pending, PendingRoll{
				Kind:        "roll",
				Skill:       t.Skill,
				Description: t.Description,
				Modifier:    NormalizeRollKind(t.Modifier),
			})
		case tags.KindAttack:
			out.Pending = append(out.Pending, PendingRoll{
				Kind:     "attack",
				Weapon:   t.Weapon,
				Target:   t.Target,
				Modifier: NormalizeRollKind(t.Modifier),
			})
		case tags.KindGameAction:
			ap.applyGameAction(info, snap, t.Action, out)
		case tags.KindEvent:
			ap.applyEvent(snap, t, out)
		case tags.KindStateUpdate:
			if err := ap.applyStatePatch(snap, t.Patch); err != nil {
				log.Printf("⚠️ [动作] STATE_UPDATE 应用失败，跳过: %v", err)
				continue
			}
			out.StateChanged = true
		case tags.KindPivSex:
			ap.applyConception(info, snap, t.Names, mature, out)
		case tags.KindPregnancyRevealed:
			ap.applyRevealed(info, snap, t.Names, mature, out)
		}
	}

	// 装备有变化时AC必须重算；熟练加值始终由等级决定
	if snap.Equipment != equipBefore {
		snap.ArmorClass = ap.rules.ArmorClass(snap)
	}
	snap.ProficiencyBonus = ProficiencyBonusForLevel(snap.Level)
	snap.ClampHealth()

	return out
}

func (ap *ActionProcessor) applyGameAction(info *models.CharacterInfo, snap *models.PlayerState,
	action models.GameAction, out *TurnOutcome) {

	switch a := action.(type) {
	case models.StartCombatAction:
		ap.startCombat(info, snap, a, out)
	case models.NPCAttackIntentAction:
		ap.resolveNPCAttack(info, snap, a, out)
	case models.NPCSkillIntentAction:
		result, rolls := ap.rules.RollD20(RollNone)
		_ = rolls
		out.Notes = append(out.Notes,
			fmt.Sprintf("【检定】%s 进行 %s 检定：d20 = %d（%s）", a.NPCName, a.Skill, result, a.Description))
	case models.EnemyDefeatedAction:
		ap.defeatEnemy(snap, a.Name, out)
	case models.ModifyHealthAction:
		snap.Health.Current += a.Amount
		snap.ClampHealth()
		out.StateChanged = true
		if a.Amount < 0 {
			out.Notes = append(out.Notes, fmt.Sprintf("【生命】受到 %d 点伤害（%s），当前 %d/%d",
				-a.Amount, a.Source, snap.Health.Current, snap.Health.Max))
		} else if a.Amount > 0 {
			out.Notes = append(out.Notes, fmt.Sprintf("【生命】恢复 %d 点（%s），当前 %d/%d",
				a.Amount, a.Source, snap.Health.Current, snap.Health.Max))
		}
	case models.GainRewardAction:
		if a.XP != 0 {
			snap.XP += a.XP
			out.Notes = append(out.Notes, fmt.Sprintf("【经验】%+d，累计 %d", a.XP, snap.XP))
		}
		if a.Money != 0 {
			snap.Money.Amount += a.Money
			out.Notes = append(out.Notes, fmt.Sprintf("【金钱】%+d %s，现有 %d",
				a.Money, snap.Money.Currency, snap.Money.Amount))
		}
		if a.XP != 0 || a.Money != 0 {
			out.StateChanged = true
		}
		if LevelForXP(snap.XP) > snap.Level {
			out.Notes = append(out.Notes, fmt.Sprintf("【升级】经验已达到 %d 级门槛，可以进行升级", snap.Level+1))
		}
	case models.UpdateWorldStateAction:
		if snap.WorldState == nil {
			snap.WorldState = make(map[string]any)
		}
		deepMerge(snap.WorldState, a.Patch)
		out.StateChanged = true
	case models.UpdateNPCStateAction:
		if snap.WorldState == nil {
			snap.WorldState = make(map[string]any)
		}
		npcs, _ := snap.WorldState["npcs"].(map[string]any)
		if npcs == nil {
			npcs = make(map[string]any)
			snap.WorldState["npcs"] = npcs
		}
		existing, _ := npcs[a.Name].(map[string]any)
		if existing == nil {
			existing = make(map[string]any)
			npcs[a.Name] = existing
		}
		deepMerge(existing, a.Patch)
		out.StateChanged = true
	case models.ApplyConditionAction:
		applyCondition(snap, a.Name, a.Duration)
		out.StateChanged = true
		out.Notes = append(out.Notes, fmt.Sprintf("【状态】获得状态：%s", a.Name))
	case models.RemoveConditionAction:
		removeCondition(snap, a.Name)
		out.StateChanged = true
		out.Notes = append(out.Notes, fmt.Sprintf("【状态】解除状态：%s", a.Name))
	}
}

// startCombat 玩家掷先攻（d20+敏捷调整），每个敌人各掷一个d20；
// 按先攻降序稳定排序，平局保持声明顺序。
func (ap *ActionProcessor) startCombat(info *models.CharacterInfo, snap *models.PlayerState,
	a models.StartCombatAction, out *TurnOutcome) {

	playerInit, _ := ap.rules.RollD20(RollNone)
	playerInit += AbilityModifier(snap.AbilityScores["dexterity"])

	combatants := []models.Combatant{{
		ID:         uuid.New().String(),
		Name:       info.Name,
		HP:         snap.Health.Current,
		MaxHP:      snap.Health.Max,
		Initiative: playerInit,
		IsPlayer:   true,
	}}
	for _, e := range a.Enemies {
		init, _ := ap.rules.RollD20(RollNone)
		combatants = append(combatants, models.Combatant{
			ID:         uuid.New().String(),
			Name:       e.Name,
			HP:         e.HP,
			MaxHP:      e.HP,
			Initiative: init,
			XPValue:    e.XPValue,
		})
	}
	sort.SliceStable(combatants, func(i, j int) bool {
		return combatants[i].Initiative > combatants[j].Initiative
	})

	snap.IsInCombat = true
	snap.Combatants = combatants
	out.StateChanged = true

	var order []string
	for _, c := range combatants {
		order = append(order, fmt.Sprintf("%s(%d)", c.Name, c.Initiative))
	}
	out.Notes = append(out.Notes, "【战斗】先攻顺序："+strings.Join(order, " → "))
	log.Printf("⚔️ [战斗] 开始，%d 名参与者", len(combatants))
}

// defeatEnemy 击败一名存活敌人：HP归零并一次性结算其经验值；
// 所有非玩家战斗者都倒下后清空战斗状态。
func (ap *ActionProcessor) defeatEnemy(snap *models.PlayerState, name string, out *TurnOutcome) {
	lower := strings.ToLower(name)
	for i := range snap.Combatants {
		c := &snap.Combatants[i]
		if c.IsPlayer || c.HP <= 0 {
			continue
		}
		if !strings.Contains(strings.ToLower(c.Name), lower) && !strings.Contains(lower, strings.ToLower(c.Name)) {
			continue
		}
		c.HP = 0
		out.StateChanged = true
		out.Notes = append(out.Notes, fmt.Sprintf("【战斗】%s 被击败", c.Name))
		if c.XPValue > 0 {
			snap.XP += c.XPValue
			out.Notes = append(out.Notes, fmt.Sprintf("【经验】+%d，累计 %d", c.XPValue, snap.XP))
		}
		break
	}
	if snap.IsInCombat && snap.LivingEnemies() == 0 {
		snap.IsInCombat = false
		snap.Combatants = nil
		out.Notes = append(out.Notes, "【战斗】战斗结束")
		log.Println("🏆 [战斗] 全部敌人被击败，战斗结束")
	}
}

// resolveNPCAttack NPC对玩家的攻击：d20+2 对玩家AC，命中按武器表掷伤害。
// 目标不是玩家时只播报意图，由叙事决定后果。
func (ap *ActionProcessor) resolveNPCAttack(info *models.CharacterInfo, snap *models.PlayerState,
	a models.NPCAttackIntentAction, out *TurnOutcome) {

	target := strings.ToLower(strings.TrimSpace(a.TargetName))
	isPlayer := target == "" || target == "player" ||
		strings.Contains(strings.ToLower(info.Name), target) ||
		strings.Contains(target, strings.ToLower(info.Name))
	if !isPlayer {
		out.Notes = append(out.Notes,
			fmt.Sprintf("【战斗】%s 用 %s 攻击 %s", a.AttackerName, a.WeaponName, a.TargetName))
		return
	}

	attackRoll, _ := ap.rules.RollD20(RollNone)
	total := attackRoll + 2
	if total < snap.ArmorClass {
		out.Notes = append(out.Notes, fmt.Sprintf("【战斗】%s 的攻击（%d）未能突破你的AC %d，落空",
			a.AttackerName, total, snap.ArmorClass))
		return
	}

	notation := "1d8"
	if w := ap.rules.Tables().FindWeapon(a.WeaponName); w != nil {
		notation = w.Damage
	}
	dmg, err := ap.rules.RollDice(notation)
	if err != nil {
		return
	}
	damage := dmg.Total
	if damage < 1 {
		damage = 1
	}
	snap.Health.Current -= damage
	snap.ClampHealth()
	out.StateChanged = true
	out.Notes = append(out.Notes, fmt.Sprintf("【战斗】%s 的攻击命中（%d vs AC %d），你受到 %d 点伤害，当前 %d/%d",
		a.AttackerName, total, snap.ArmorClass, damage, snap.Health.Current, snap.Health.Max))
}

var leadingIntRe = regexp.MustCompile(`-?\d+`)

// applyEvent 旧版 EVENT 协议的兼容处理（ITEM/XP/MONEY）
func (ap *ActionProcessor) applyEvent(snap *models.PlayerState, t tags.Tag, out *TurnOutcome) {
	switch t.EventType {
	case "ITEM":
		item := strings.TrimSpace(t.EventDetails)
		if item == "" {
			return
		}
		snap.Inventory = append(snap.Inventory, item)
		out.StateChanged = true
		out.Notes = append(out.Notes, fmt.Sprintf("【物品】获得：%s", item))
	case "XP", "MONEY":
		m := leadingIntRe.FindString(t.EventDetails)
		if m == "" {
			return
		}
		n, err := strconv.Atoi(m)
		if err != nil {
			return
		}
		if t.EventType == "XP" {
			snap.XP += n
			out.Notes = append(out.Notes, fmt.Sprintf("【经验】%+d，累计 %d", n, snap.XP))
		} else {
			snap.Money.Amount += n
			out.Notes = append(out.Notes, fmt.Sprintf("【金钱】%+d %s，现有 %d",
				n, snap.Money.Currency, snap.Money.Amount))
		}
		out.StateChanged = true
	}
}

// applyStatePatch 把局部JSON补丁递归合并进 PlayerState。
// 走"状态→通用映射→合并→回填"的路径，顶层未知键在回填时被静态结构丢弃。
func (ap *ActionProcessor) applyStatePatch(snap *models.PlayerState, patch map[string]any) error {
	if len(patch) == 0 {
		return nil
	}
	// 容忍 {"playerState": {...}} 包装
	if inner, ok := patch["playerState"].(map[string]any); ok && len(patch) == 1 {
		patch = inner
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	var current map[string]any
	if err := json.Unmarshal(data, &current); err != nil {
		return err
	}
	deepMerge(current, patch)

	merged, err := json.Marshal(current)
	if err != nil {
		return err
	}
	var next models.PlayerState
	if err := json.Unmarshal(merged, &next); err != nil {
		return err
	}

	if next.Equipment != snap.Equipment {
		next.ArmorClass = ap.rules.ArmorClass(&next)
	}
	next.ProficiencyBonus = ProficiencyBonusForLevel(next.Level)
	next.ClampHealth()
	*snap = next
	return nil
}

// deepMerge 递归合并：两侧都是对象时深入，否则补丁侧覆盖
func deepMerge(dst, patch map[string]any) {
	for k, v := range patch {
		if pv, ok := v.(map[string]any); ok {
			if dv, ok := dst[k].(map[string]any); ok {
				deepMerge(dv, pv)
				continue
			}
		}
		dst[k] = v
	}
}

func applyCondition(snap *models.PlayerState, name string, duration int) {
	for i := range snap.Conditions {
		if strings.EqualFold(snap.Conditions[i].Name, name) {
			// 重复施加按替换处理，不产生重复条目
			snap.Conditions[i].Duration = duration
			return
		}
	}
	snap.Conditions = append(snap.Conditions, models.Condition{Name: name, Duration: duration})
}

func removeCondition(snap *models.PlayerState, name string) {
	for i := range snap.Conditions {
		if strings.EqualFold(snap.Conditions[i].Name, name) {
			snap.Conditions = append(snap.Conditions[:i], snap.Conditions[i+1:]...)
			return
		}
	}
}

// TickConditions 每个已提交回合把限时状态的剩余时长减一，归零即移除
func TickConditions(state *models.PlayerState) {
	kept := state.Conditions[:0]
	for _, c := range state.Conditions {
		if c.Duration > 0 {
			c.Duration--
			if c.Duration == 0 {
				continue
			}
		}
		kept = append(kept, c)
	}
	state.Conditions = kept
}

// applyConception 受孕标记：本地掷出的20%概率是权威，AI的标签只是意图。
// 门控：成人模式、角色性别为女、当前未怀孕。成人模式关闭时标签直接忽略。
func (ap *ActionProcessor) applyConception(info *models.CharacterInfo, snap *models.PlayerState,
	names []string, mature bool, out *TurnOutcome) {

	if !mature || len(names) < 2 {
		return
	}
	playerInvolved := false
	partner := ""
	for _, n := range names {
		if strings.EqualFold(n, info.Name) {
			playerInvolved = true
		} else {
			partner = n
		}
	}
	if !playerInvolved || !strings.EqualFold(info.Gender, "female") {
		return
	}
	if snap.Pregnancy != nil && snap.Pregnancy.IsPregnant {
		return
	}
	if ap.rules.chance() >= conceptionChance {
		return
	}

	snap.Pregnancy = &models.PregnancyState{
		IsPregnant:     true,
		ConceptionTurn: snap.TurnCount,
		Sire:           partner,
	}
	out.StateChanged = true
	log.Printf("🤰 [叙事] 受孕标记触发（回合 %d）", snap.TurnCount)
}

// applyRevealed 怀孕揭示：单向翻转，之后不可恢复为未知
func (ap *ActionProcessor) applyRevealed(info *models.CharacterInfo, snap *models.PlayerState,
	names []string, mature bool, out *TurnOutcome) {

	if !mature || len(names) < 1 {
		return
	}
	if !strings.EqualFold(names[0], info.Name) {
		return
	}
	if snap.Pregnancy == nil || !snap.Pregnancy.IsPregnant || snap.Pregnancy.KnowledgeRevealed {
		return
	}
	snap.Pregnancy.KnowledgeRevealed = true
	out.StateChanged = true
}
