package services

import (
	"testing"

	"github.com/aiwuxian/project-mythos/internal/models"
)

// loadTestTables 规则表直接用仓库里的真实数据
func loadTestTables(t *testing.T) *RuleTables {
	t.Helper()
	tables, err := LoadRuleTables("../../data/rules")
	if err != nil {
		t.Fatalf("加载规则数据失败: %v", err)
	}
	return tables
}

// newScriptedEngine 掷骰按脚本依次出值，耗尽后报错
func newScriptedEngine(t *testing.T, rolls ...int) *RuleEngine {
	t.Helper()
	re := NewRuleEngine(loadTestTables(t))
	i := 0
	re.roll = func(sides int) int {
		if i >= len(rolls) {
			t.Fatalf("掷骰脚本耗尽（第 %d 次）", i+1)
		}
		r := rolls[i]
		i++
		if r > sides {
			t.Fatalf("脚本点数 %d 超出骰面 %d", r, sides)
		}
		return r
	}
	return re
}

func TestAbilityModifier(t *testing.T) {
	cases := map[int]int{
		1: -5, 3: -4, 8: -1, 9: -1, 10: 0, 11: 0, 12: 1, 13: 1,
		14: 2, 15: 2, 16: 3, 18: 4, 20: 5,
	}
	for score, want := range cases {
		if got := AbilityModifier(score); got != want {
			t.Errorf("AbilityModifier(%d) = %d, 期望 %d", score, got, want)
		}
	}
}

func TestProficiencyBonusForLevel(t *testing.T) {
	cases := map[int]int{
		1: 2, 4: 2, 5: 3, 8: 3, 9: 4, 12: 4, 13: 5, 16: 5, 17: 6, 20: 6,
	}
	for level, want := range cases {
		if got := ProficiencyBonusForLevel(level); got != want {
			t.Errorf("ProficiencyBonusForLevel(%d) = %d, 期望 %d", level, got, want)
		}
	}
}

func TestLevelForXP(t *testing.T) {
	cases := map[int]int{
		0: 1, 299: 1, 300: 2, 899: 2, 900: 3, 2700: 4, 6500: 5, 355000: 20, 999999: 20,
	}
	for xp, want := range cases {
		if got := LevelForXP(xp); got != want {
			t.Errorf("LevelForXP(%d) = %d, 期望 %d", xp, got, want)
		}
	}
}

func TestRollDiceNotation(t *testing.T) {
	re := newScriptedEngine(t, 3, 5)
	dr, err := re.RollDice("2d6")
	if err != nil {
		t.Fatalf("2d6 掷骰失败: %v", err)
	}
	if dr.Total != 8 || len(dr.Rolls) != 2 {
		t.Errorf("结果不对: %+v", dr)
	}
}

func TestRollDiceBounds(t *testing.T) {
	re := NewRuleEngine(loadTestTables(t))
	for i := 0; i < 200; i++ {
		dr, err := re.RollDice("2d6")
		if err != nil {
			t.Fatalf("掷骰失败: %v", err)
		}
		if dr.Total < 2 || dr.Total > 12 {
			t.Fatalf("2d6 总和越界: %d", dr.Total)
		}
	}
}

func TestRollDiceConstant(t *testing.T) {
	re := NewRuleEngine(loadTestTables(t))
	dr, err := re.RollDice("7")
	if err != nil {
		t.Fatalf("常量解析失败: %v", err)
	}
	if dr.Total != 7 || len(dr.Rolls) != 1 || dr.Rolls[0] != 7 {
		t.Errorf("常量应返回单个合成点数: %+v", dr)
	}
}

func TestRollDiceInvalid(t *testing.T) {
	re := NewRuleEngine(loadTestTables(t))
	for _, bad := range []string{"d6", "2d", "abc", "0d6", "101d6", "2d0"} {
		if _, err := re.RollDice(bad); err == nil {
			t.Errorf("%q 应解析失败", bad)
		}
	}
}

func TestRollD20NoneConsumesOneDraw(t *testing.T) {
	re := newScriptedEngine(t, 14) // 脚本只有一个值，多掷会fatal
	result, rolls := re.RollD20(RollNone)
	if result != 14 || len(rolls) != 1 {
		t.Errorf("NONE应只掷一次: result=%d rolls=%v", result, rolls)
	}
}

func TestRollD20AdvantageDisadvantage(t *testing.T) {
	re := newScriptedEngine(t, 6, 17)
	if result, rolls := re.RollD20(RollAdvantage); result != 17 || len(rolls) != 2 {
		t.Errorf("优势应取高: result=%d rolls=%v", result, rolls)
	}
	re = newScriptedEngine(t, 6, 17)
	if result, _ := re.RollD20(RollDisadvantage); result != 6 {
		t.Errorf("劣势应取低: result=%d", result)
	}
}

func TestRollD20AdvantageNeverWorse(t *testing.T) {
	adv := NewRuleEngine(loadTestTables(t))
	for i := 0; i < 500; i++ {
		result, rolls := adv.RollD20(RollAdvantage)
		if len(rolls) != 2 {
			t.Fatal("优势应掷两次")
		}
		if result < rolls[0] || result < rolls[1] {
			t.Fatalf("优势取值低于其中一次: %d vs %v", result, rolls)
		}
	}
}

func TestNormalizeRollKind(t *testing.T) {
	cases := map[string]RollKind{
		"ADVANTAGE": RollAdvantage, "advantage": RollAdvantage,
		"DISADVANTAGE": RollDisadvantage, "NONE": RollNone,
		"": RollNone, "whatever": RollNone,
	}
	for in, want := range cases {
		if got := NormalizeRollKind(in); got != want {
			t.Errorf("NormalizeRollKind(%q) = %v, 期望 %v", in, got, want)
		}
	}
}

func TestRollModifier(t *testing.T) {
	state := &models.PlayerState{
		ProficiencyBonus: 2,
		AbilityScores: map[string]int{
			"strength": 16, "dexterity": 14, "constitution": 12,
			"intelligence": 10, "wisdom": 13, "charisma": 8,
		},
		SkillProficiencies:       map[string]string{"stealth": "proficient"},
		SavingThrowProficiencies: map[string]string{"strength": "proficient"},
	}

	// 熟练技能：敏捷+2 熟练+2
	if got := RollModifier("stealth", state); got != 4 {
		t.Errorf("stealth加值 = %d, 期望 4", got)
	}
	// 非熟练技能：只有感知调整
	if got := RollModifier("perception", state); got != 1 {
		t.Errorf("perception加值 = %d, 期望 1", got)
	}
	// 裸属性按豁免处理：力量+3 豁免熟练+2
	if got := RollModifier("strength", state); got != 5 {
		t.Errorf("strength豁免加值 = %d, 期望 5", got)
	}
	// 未知技能名默认力量，无熟练
	if got := RollModifier("气功", state); got != 3 {
		t.Errorf("未知技能加值 = %d, 期望 3", got)
	}
}

func TestArmorClass(t *testing.T) {
	re := NewRuleEngine(loadTestTables(t))
	base := map[string]int{"dexterity": 16} // +3

	cases := []struct {
		name  string
		state models.PlayerState
		want  int
	}{
		{"未着甲", models.PlayerState{AbilityScores: base}, 13},
		{"轻甲不封顶", models.PlayerState{AbilityScores: base,
			Equipment: models.Equipment{Armor: "Leather Armor"}}, 14},
		{"中甲敏捷+2封顶", models.PlayerState{AbilityScores: base,
			Equipment: models.Equipment{Armor: "Scale Mail"}}, 16},
		{"重甲不加敏捷", models.PlayerState{AbilityScores: base,
			Equipment: models.Equipment{Armor: "Chain Mail"}}, 16},
		{"背包里的盾牌也算", models.PlayerState{AbilityScores: base,
			Equipment: models.Equipment{Armor: "Leather Armor"},
			Inventory: []string{"木盾（Shield）"}}, 16},
	}
	for _, c := range cases {
		if got := re.ArmorClass(&c.state); got != c.want {
			t.Errorf("%s: AC = %d, 期望 %d", c.name, got, c.want)
		}
	}
}
