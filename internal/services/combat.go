package services

import (
	"fmt"
	"strings"

	"github.com/aiwuxian/project-mythos/internal/models"
)

// RollResolution 一次技能/属性检定的完整结果
type RollResolution struct {
	Skill       string   `json:"skill"`
	Description string   `json:"description"`
	Kind        RollKind `json:"kind"`
	Rolls       []int    `json:"rolls"`
	Picked      int      `json:"picked"`
	Modifier    int      `json:"modifier"`
	Total       int      `json:"total"`
}

// Summary 机制播报文本，回传给模型并展示给玩家
func (r *RollResolution) Summary() string {
	dice := fmt.Sprintf("d20 = %d", r.Picked)
	if len(r.Rolls) == 2 {
		dice = fmt.Sprintf("d20 = %d（两次掷骰 %d/%d，%s）", r.Picked, r.Rolls[0], r.Rolls[1], rollKindCN(r.Kind))
	}
	return fmt.Sprintf("【骰点】%s 检定（%s）：%s %+d = %d",
		r.Skill, r.Description, dice, r.Modifier, r.Total)
}

// ResolveRoll 解决一个待定检定：按优势/劣势掷d20，加上技能总加值
func (ap *ActionProcessor) ResolveRoll(state *models.PlayerState, p PendingRoll) *RollResolution {
	picked, rolls := ap.rules.RollD20(p.Modifier)
	mod := RollModifier(p.Skill, state)
	return &RollResolution{
		Skill:       p.Skill,
		Description: p.Description,
		Kind:        p.Modifier,
		Rolls:       rolls,
		Picked:      picked,
		Modifier:    mod,
		Total:       picked + mod,
	}
}

// AttackResolution 一次攻击的完整结算
type AttackResolution struct {
	WeaponInput    string   `json:"weaponInput"`
	WeaponUsed     string   `json:"weaponUsed"`
	Substituted    bool     `json:"substituted"`    // 模型点名的武器不在身上，换成了已装备武器
	FallbackWeapon bool     `json:"fallbackWeapon"` // 规则表查不到，按通用军用近战（1d8）处理
	Ability        string   `json:"ability"`
	Kind           RollKind `json:"kind"`
	Rolls          []int    `json:"rolls"`
	AttackRoll     int      `json:"attackRoll"` // 选定的自然骰
	AttackBonus    int      `json:"attackBonus"`
	AttackTotal    int      `json:"attackTotal"`
	Critical       bool     `json:"critical"`
	DamageRolls    []int    `json:"damageRolls"`
	Damage         int      `json:"damage"`
	TargetName     string   `json:"targetName,omitempty"`
	TargetDefeated bool     `json:"targetDefeated"`
	CombatEnded    bool     `json:"combatEnded"`
}

// Summary 机制播报文本
func (r *AttackResolution) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "【攻击】使用 %s", r.WeaponUsed)
	if r.Substituted {
		fmt.Fprintf(&b, "（%s 不在身上，改用已装备武器）", r.WeaponInput)
	}
	fmt.Fprintf(&b, "：d20 = %d %+d = %d", r.AttackRoll, r.AttackBonus, r.AttackTotal)
	if r.Critical {
		b.WriteString("，会心一击！伤害骰翻倍")
	}
	fmt.Fprintf(&b, "，伤害 %d", r.Damage)
	if r.TargetName != "" {
		fmt.Fprintf(&b, "（目标：%s）", r.TargetName)
	}
	if r.TargetDefeated {
		fmt.Fprintf(&b, "，%s 倒下了", r.TargetName)
	}
	if r.CombatEnded {
		b.WriteString("。战斗结束")
	}
	return b.String()
}

// ResolveAttack 解决一次攻击（ATTACK标签或玩家主动选择的攻击）。
// 支配属性默认力量；灵巧武器且敏捷≥力量时用敏捷。
// 自然20为会心，只翻倍武器伤害骰，不翻倍固定加值；总伤害下限1。
// 直接作用于传入状态（战斗者扣血、经验结算、战斗收尾）。
func (ap *ActionProcessor) ResolveAttack(info *models.CharacterInfo, state *models.PlayerState,
	p PendingRoll) *AttackResolution {

	res := &AttackResolution{WeaponInput: p.Weapon, Kind: p.Modifier, TargetName: ""}

	// 点名的武器既没装备也不在背包里时，静默换成已装备武器，由叙事交代
	used := p.Weapon
	if !ap.carriesWeapon(state, p.Weapon) && state.Equipment.Weapon != "" {
		used = state.Equipment.Weapon
		res.Substituted = true
	}
	res.WeaponUsed = used

	notation := "1d8"
	finesse := false
	if w := ap.rules.Tables().FindWeapon(used); w != nil {
		notation = w.Damage
		finesse = w.Finesse()
	} else {
		res.FallbackWeapon = true
	}

	ability := "strength"
	if finesse && state.AbilityScores["dexterity"] >= state.AbilityScores["strength"] {
		ability = "dexterity"
	}
	res.Ability = ability
	abilityMod := AbilityModifier(state.AbilityScores[ability])

	picked, rolls := ap.rules.RollD20(p.Modifier)
	res.Rolls = rolls
	res.AttackRoll = picked
	res.AttackBonus = abilityMod + state.ProficiencyBonus
	res.AttackTotal = picked + res.AttackBonus
	res.Critical = picked == 20

	dmg, err := ap.rules.RollDice(notation)
	if err != nil {
		dmg, _ = ap.rules.RollDice("1d8")
	}
	res.DamageRolls = append(res.DamageRolls, dmg.Rolls...)
	total := dmg.Total
	if res.Critical {
		extra, err := ap.rules.RollDice(notation)
		if err == nil {
			res.DamageRolls = append(res.DamageRolls, extra.Rolls...)
			total += extra.Total
		}
	}
	total += abilityMod
	if total < 1 {
		total = 1
	}
	res.Damage = total

	ap.applyDamageToTarget(state, p.Target, res)
	return res
}

func (ap *ActionProcessor) carriesWeapon(state *models.PlayerState, name string) bool {
	lower := strings.ToLower(strings.TrimSpace(name))
	if lower == "" {
		return false
	}
	equipped := strings.ToLower(state.Equipment.Weapon)
	if equipped != "" && (strings.Contains(equipped, lower) || strings.Contains(lower, equipped)) {
		return true
	}
	for _, item := range state.Inventory {
		li := strings.ToLower(item)
		if strings.Contains(li, lower) || strings.Contains(lower, li) {
			return true
		}
	}
	return false
}

// applyDamageToTarget 目标描述能对应到存活敌方战斗者时直接结算伤害
func (ap *ActionProcessor) applyDamageToTarget(state *models.PlayerState, target string, res *AttackResolution) {
	if !state.IsInCombat {
		return
	}
	lower := strings.ToLower(strings.TrimSpace(target))
	for i := range state.Combatants {
		c := &state.Combatants[i]
		if c.IsPlayer || c.HP <= 0 {
			continue
		}
		cn := strings.ToLower(c.Name)
		if lower != "" && !strings.Contains(lower, cn) && !strings.Contains(cn, lower) {
			continue
		}
		res.TargetName = c.Name
		c.HP -= res.Damage
		if c.HP <= 0 {
			c.HP = 0
			res.TargetDefeated = true
			if c.XPValue > 0 {
				state.XP += c.XPValue
			}
		}
		break
	}
	if state.IsInCombat && state.LivingEnemies() == 0 {
		state.IsInCombat = false
		state.Combatants = nil
		res.CombatEnded = true
	}
}

func rollKindCN(k RollKind) string {
	switch k {
	case RollAdvantage:
		return "优势"
	case RollDisadvantage:
		return "劣势"
	default:
		return "无修正"
	}
}
