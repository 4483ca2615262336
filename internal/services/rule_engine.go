package services

import (
	"fmt"
	"math"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/aiwuxian/project-mythos/internal/models"
)

// RollKind 掷骰修正方式
type RollKind string

const (
	RollAdvantage    RollKind = "ADVANTAGE"
	RollDisadvantage RollKind = "DISADVANTAGE"
	RollNone         RollKind = "NONE"
)

// NormalizeRollKind 把标签里的修正串收敛到三种合法值
func NormalizeRollKind(s string) RollKind {
	switch RollKind(strings.ToUpper(strings.TrimSpace(s))) {
	case RollAdvantage:
		return RollAdvantage
	case RollDisadvantage:
		return RollDisadvantage
	default:
		return RollNone
	}
}

// RuleEngine 规则解析器：骰子数学、属性/熟练加值、武器护甲查表。
// 除掷骰外全部是纯函数。
type RuleEngine struct {
	rng    *rand.Rand
	tables *RuleTables

	// 测试注入点：默认走rng
	roll   func(sides int) int
	chance func() float64
}

func NewRuleEngine(tables *RuleTables) *RuleEngine {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	re := &RuleEngine{rng: rng, tables: tables}
	re.roll = func(sides int) int { return rng.Intn(sides) + 1 }
	re.chance = rng.Float64
	return re
}

// Tables 返回只读规则表
func (re *RuleEngine) Tables() *RuleTables { return re.tables }

// AbilityModifier 属性调整值 = floor((score-10)/2)，低于10为负
func AbilityModifier(score int) int {
	return int(math.Floor(float64(score-10) / 2.0))
}

// ProficiencyBonusForLevel 熟练加值 = ceil(1 + level/4)
func ProficiencyBonusForLevel(level int) int {
	return int(math.Ceil(1.0 + float64(level)/4.0))
}

// 5e经验值阈值表，下标即等级（1-20）
var xpThresholds = []int{0, 0, 300, 900, 2700, 6500, 14000, 23000, 34000, 48000,
	64000, 85000, 100000, 120000, 140000, 165000, 195000, 225000, 265000, 305000, 355000}

// LevelForXP 当前经验值对应的等级
func LevelForXP(xp int) int {
	level := 1
	for l := 2; l < len(xpThresholds); l++ {
		if xp >= xpThresholds[l] {
			level = l
		}
	}
	return level
}

// 技能 -> 支配属性
var skillAbility = map[string]string{
	"athletics":       "strength",
	"acrobatics":      "dexterity",
	"sleight of hand": "dexterity",
	"stealth":         "dexterity",
	"arcana":          "intelligence",
	"history":         "intelligence",
	"investigation":   "intelligence",
	"nature":          "intelligence",
	"religion":        "intelligence",
	"animal handling": "wisdom",
	"insight":         "wisdom",
	"medicine":        "wisdom",
	"perception":      "wisdom",
	"survival":        "wisdom",
	"deception":       "charisma",
	"intimidation":    "charisma",
	"performance":     "charisma",
	"persuasion":      "charisma",
}

// GoverningAbility 技能名或裸属性名对应的支配属性，匹配不到时默认力量
func GoverningAbility(name string) (ability string, isBareAbility bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if ab, ok := skillAbility[key]; ok {
		return ab, false
	}
	for _, ab := range models.AbilityNames {
		if key == ab {
			return ab, true
		}
	}
	return "strength", false
}

// RollModifier 检定总加值：支配属性调整值，玩家熟练该技能
// （或裸属性对应的豁免熟练）时再加熟练加值。
func RollModifier(name string, state *models.PlayerState) int {
	ability, bare := GoverningAbility(name)
	mod := AbilityModifier(state.AbilityScores[ability])

	key := strings.ToLower(strings.TrimSpace(name))
	if bare {
		if state.SavingThrowProficiencies[ability] == "proficient" {
			mod += state.ProficiencyBonus
		}
	} else if state.SkillProficiencies[key] == "proficient" {
		mod += state.ProficiencyBonus
	}
	return mod
}

var diceNotationRe = regexp.MustCompile(`^(\d+)[dD](\d+)$`)

// RollDice 解析 NdM 记法或裸整数常量并掷骰。
// 常量返回单个合成点数，骰子逐颗记录点数用于审计。
func (re *RuleEngine) RollDice(notation string) (*models.DiceRoll, error) {
	notation = strings.TrimSpace(notation)

	if n, err := strconv.Atoi(notation); err == nil {
		return &models.DiceRoll{Notation: notation, Rolls: []int{n}, Total: n}, nil
	}

	m := diceNotationRe.FindStringSubmatch(notation)
	if m == nil {
		return nil, fmt.Errorf("无法识别的骰子记法: %q", notation)
	}
	count, _ := strconv.Atoi(m[1])
	sides, _ := strconv.Atoi(m[2])
	if count <= 0 || count > 100 || sides <= 0 {
		return nil, fmt.Errorf("骰子记法超出范围: %q", notation)
	}

	result := &models.DiceRoll{Notation: notation}
	for i := 0; i < count; i++ {
		r := re.roll(sides)
		result.Rolls = append(result.Rolls, r)
		result.Total += r
	}
	return result, nil
}

// RollD20 按优势/劣势掷d20。
// 无修正时只消耗一次随机数。
func (re *RuleEngine) RollD20(kind RollKind) (result int, rolls []int) {
	first := re.roll(20)
	if kind == RollNone {
		return first, []int{first}
	}
	second := re.roll(20)
	rolls = []int{first, second}
	if kind == RollAdvantage {
		if second > first {
			return second, rolls
		}
		return first, rolls
	}
	if second < first {
		return second, rolls
	}
	return first, rolls
}

// 护甲类别对敏捷调整值的上限：轻甲不封顶，中甲+2封顶，重甲不加
func dexCapForCategory(category string) int {
	switch strings.ToLower(category) {
	case "light":
		return math.MaxInt32
	case "medium":
		return 2
	case "heavy":
		return 0
	default:
		return math.MaxInt32
	}
}

// ArmorClass 按当前装备和敏捷重算AC。
// 未着甲默认 10+敏捷调整；装备或携带盾牌再+2。
func (re *RuleEngine) ArmorClass(state *models.PlayerState) int {
	dexMod := AbilityModifier(state.AbilityScores["dexterity"])

	ac := 10 + dexMod
	if state.Equipment.Armor != "" {
		if armor := re.tables.FindArmor(state.Equipment.Armor); armor != nil && armor.Category != "shield" {
			capped := dexMod
			if limit := dexCapForCategory(armor.Category); capped > limit {
				capped = limit
			}
			ac = armor.BaseAC + capped
		}
	}

	if re.hasShield(state) {
		ac += 2
	}
	return ac
}

func (re *RuleEngine) hasShield(state *models.PlayerState) bool {
	if strings.Contains(strings.ToLower(state.Equipment.Armor), "shield") ||
		strings.Contains(strings.ToLower(state.Equipment.Weapon), "shield") {
		return true
	}
	for _, item := range state.Inventory {
		if strings.Contains(strings.ToLower(item), "shield") {
			return true
		}
	}
	return false
}
