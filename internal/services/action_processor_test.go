package services

import (
	"testing"

	"github.com/aiwuxian/project-mythos/internal/models"
	"github.com/aiwuxian/project-mythos/internal/tags"
)

func testInfo() *models.CharacterInfo {
	return &models.CharacterInfo{
		Name:   "艾莉娅",
		Race:   "Human",
		Class:  "Fighter",
		Gender: "female",
	}
}

func testState() *models.PlayerState {
	return &models.PlayerState{
		Health:           models.Health{Current: 12, Max: 12},
		Location:         "边境村庄",
		Money:            models.Money{Amount: 15, Currency: "gold"},
		Inventory:        []string{},
		Equipment:        models.Equipment{Weapon: "Longsword", Armor: "Leather Armor"},
		Level:            1,
		ProficiencyBonus: 2,
		ArmorClass:       14,
		Speed:            30,
		AbilityScores: map[string]int{
			"strength": 16, "dexterity": 14, "constitution": 14,
			"intelligence": 10, "wisdom": 12, "charisma": 10,
		},
		SkillProficiencies: map[string]string{"athletics": "proficient"},
	}
}

func apply(t *testing.T, ap *ActionProcessor, state *models.PlayerState, text string) *TurnOutcome {
	t.Helper()
	return ap.Apply(testInfo(), state, tags.Extract(text), false)
}

func TestApplyGainReward(t *testing.T) {
	ap := NewActionProcessor(newScriptedEngine(t))
	state := testState()

	out := apply(t, ap, state, `你搜刮了巢穴。[GAME_ACTION|GAIN_REWARD|{"xp":50,"money":10}]`)
	if !out.StateChanged {
		t.Error("应标记状态已变化")
	}
	if out.State.XP != 50 || out.State.Money.Amount != 25 {
		t.Errorf("奖励结算不对: xp=%d money=%d", out.State.XP, out.State.Money.Amount)
	}
	// 原状态不受影响，变更只发生在快照上
	if state.XP != 0 || state.Money.Amount != 15 {
		t.Errorf("原状态被意外修改: xp=%d money=%d", state.XP, state.Money.Amount)
	}
}

func TestApplyMalformedTagKeepsSiblings(t *testing.T) {
	ap := NewActionProcessor(newScriptedEngine(t))
	text := `[GAME_ACTION|MODIFY_HEALTH|{"amount":}] [GAME_ACTION|GAIN_REWARD|{"xp":30}]`

	out := apply(t, ap, testState(), text)
	if out.State.XP != 30 {
		t.Errorf("畸形标签不应拖累兄弟标签: xp=%d", out.State.XP)
	}
	if out.State.Health.Current != 12 {
		t.Errorf("畸形标签不应产生副作用: hp=%d", out.State.Health.Current)
	}
}

func TestApplyStartCombatInitiativeOrder(t *testing.T) {
	// 玩家先攻 10+2=12，敌人依次 18 / 12 / 1
	ap := NewActionProcessor(newScriptedEngine(t, 10, 18, 12, 1))
	text := `[GAME_ACTION|START_COMBAT|[{"name":"强盗头目","hp":11,"xpValue":50},{"name":"强盗甲","hp":7,"xpValue":25},{"name":"强盗乙","hp":7,"xpValue":25}]]`

	out := apply(t, ap, testState(), text)
	if !out.State.IsInCombat {
		t.Fatal("应进入战斗状态")
	}
	if len(out.State.Combatants) != 4 {
		t.Fatalf("战斗者数量不对: %d", len(out.State.Combatants))
	}

	names := []string{}
	for _, c := range out.State.Combatants {
		names = append(names, c.Name)
	}
	// 18 > 12(玩家，先声明) = 12(强盗甲) > 1，平局保持声明顺序
	want := []string{"强盗头目", "艾莉娅", "强盗甲", "强盗乙"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("先攻顺序不对: %v", names)
		}
	}
	if !out.State.Combatants[1].IsPlayer {
		t.Error("玩家条目标记不对")
	}
}

func TestApplyEnemyDefeatedEndsCombat(t *testing.T) {
	ap := NewActionProcessor(newScriptedEngine(t))
	state := testState()
	state.IsInCombat = true
	state.Combatants = []models.Combatant{
		{ID: "p", Name: "艾莉娅", HP: 12, MaxHP: 12, IsPlayer: true},
		{ID: "e", Name: "哥布林斥候", HP: 5, MaxHP: 7, XPValue: 25},
	}

	out := apply(t, ap, state, `[GAME_ACTION|ENEMY_DEFEATED|{"name":"哥布林"}]`)
	if out.State.IsInCombat {
		t.Error("最后一名敌人倒下后应结束战斗")
	}
	if out.State.Combatants != nil {
		t.Error("战斗结束后战斗者列表应清空")
	}
	if out.State.XP != 25 {
		t.Errorf("击败经验应结算一次: %d", out.State.XP)
	}
}

func TestApplyModifyHealthClamped(t *testing.T) {
	ap := NewActionProcessor(newScriptedEngine(t))

	out := apply(t, ap, testState(), `[GAME_ACTION|MODIFY_HEALTH|{"amount":-999,"source":"坠落"}]`)
	if out.State.Health.Current != 0 {
		t.Errorf("生命下限应为0: %d", out.State.Health.Current)
	}

	out = apply(t, ap, testState(), `[GAME_ACTION|MODIFY_HEALTH|{"amount":999,"source":"治疗"}]`)
	if out.State.Health.Current != out.State.Health.Max {
		t.Errorf("生命上限应为Max: %d/%d", out.State.Health.Current, out.State.Health.Max)
	}
}

func TestApplyNPCAttack(t *testing.T) {
	// 未命中：d20=10 +2 = 12 < AC 14
	ap := NewActionProcessor(newScriptedEngine(t, 10))
	out := apply(t, ap, testState(), `[GAME_ACTION|NPC_ATTACK_INTENT|{"attackerName":"强盗","weaponName":"Shortsword","targetName":"player"}]`)
	if out.State.Health.Current != 12 {
		t.Errorf("落空的攻击不应扣血: %d", out.State.Health.Current)
	}

	// 命中：d20=18 +2 = 20 ≥ AC 14，Shortsword 1d6 = 4
	ap = NewActionProcessor(newScriptedEngine(t, 18, 4))
	out = apply(t, ap, testState(), `[GAME_ACTION|NPC_ATTACK_INTENT|{"attackerName":"强盗","weaponName":"Shortsword","targetName":"player"}]`)
	if out.State.Health.Current != 8 {
		t.Errorf("命中伤害结算不对: %d", out.State.Health.Current)
	}
}

func TestApplyStateUpdateDeepMerge(t *testing.T) {
	ap := NewActionProcessor(newScriptedEngine(t))
	text := `[STATE_UPDATE]{"location":"废弃磨坊","money":{"amount":40},"somethingUnknown":true}[/STATE_UPDATE]`

	out := apply(t, ap, testState(), text)
	if out.State.Location != "废弃磨坊" {
		t.Errorf("location未更新: %q", out.State.Location)
	}
	if out.State.Money.Amount != 40 || out.State.Money.Currency != "gold" {
		t.Errorf("嵌套合并不对: %+v", out.State.Money)
	}
	// 补丁没碰的字段保持原值
	if out.State.Equipment.Weapon != "Longsword" {
		t.Errorf("未触及字段被修改: %+v", out.State.Equipment)
	}
}

func TestApplyStateUpdateEquipmentRecomputesAC(t *testing.T) {
	ap := NewActionProcessor(newScriptedEngine(t))
	text := `[STATE_UPDATE]{"equipment":{"weapon":"Longsword","armor":"Chain Mail"}}[/STATE_UPDATE]`

	out := apply(t, ap, testState(), text)
	// 重甲16，不加敏捷
	if out.State.ArmorClass != 16 {
		t.Errorf("换甲后AC应重算: %d", out.State.ArmorClass)
	}
}

func TestConditionsApplyAndTick(t *testing.T) {
	ap := NewActionProcessor(newScriptedEngine(t))
	state := testState()

	out := apply(t, ap, state, `[GAME_ACTION|APPLY_CONDITION|{"name":"中毒","duration":2}]`)
	if len(out.State.Conditions) != 1 || out.State.Conditions[0].Duration != 2 {
		t.Fatalf("状态施加不对: %+v", out.State.Conditions)
	}

	// 重复施加按替换处理
	out2 := apply(t, ap, out.State, `[GAME_ACTION|APPLY_CONDITION|{"name":"中毒","duration":5}]`)
	if len(out2.State.Conditions) != 1 || out2.State.Conditions[0].Duration != 5 {
		t.Fatalf("重复施加应替换而非叠加: %+v", out2.State.Conditions)
	}

	// 无限期状态不随回合衰减
	out3 := apply(t, ap, out2.State, `[GAME_ACTION|APPLY_CONDITION|{"name":"诅咒","duration":0}]`)
	st := out3.State
	st.Conditions[0].Duration = 2

	TickConditions(st)
	if st.Conditions[0].Duration != 1 || len(st.Conditions) != 2 {
		t.Fatalf("第一次衰减不对: %+v", st.Conditions)
	}
	TickConditions(st)
	if len(st.Conditions) != 1 || st.Conditions[0].Name != "诅咒" {
		t.Fatalf("限时状态归零应移除、无限期状态保留: %+v", st.Conditions)
	}
}

func TestResolveRoll(t *testing.T) {
	ap := NewActionProcessor(newScriptedEngine(t, 13))
	state := testState()

	res := ap.ResolveRoll(state, PendingRoll{
		Kind: "roll", Skill: "athletics", Description: "攀上城墙", Modifier: RollNone,
	})
	// 力量+3 熟练+2
	if res.Total != 18 || res.Modifier != 5 {
		t.Errorf("检定结算不对: %+v", res)
	}
}

func TestResolveAttackCritical(t *testing.T) {
	// d20=20 会心，Longsword 1d8：本体5 + 翻倍骰7 + 力量3 = 15
	ap := NewActionProcessor(newScriptedEngine(t, 20, 5, 7))
	state := testState()
	state.IsInCombat = true
	state.Combatants = []models.Combatant{
		{ID: "p", Name: "艾莉娅", HP: 12, MaxHP: 12, IsPlayer: true},
		{ID: "e", Name: "哥布林", HP: 10, MaxHP: 10, XPValue: 25},
	}

	res := ap.ResolveAttack(testInfo(), state, PendingRoll{
		Kind: "attack", Weapon: "Longsword", Target: "哥布林", Modifier: RollNone,
	})
	if !res.Critical {
		t.Fatal("自然20应判定会心")
	}
	if res.Damage != 15 {
		t.Errorf("会心伤害只翻倍武器骰: %d, 期望 15", res.Damage)
	}
	if res.AttackBonus != 5 { // 力量+3 熟练+2
		t.Errorf("攻击加值不对: %d", res.AttackBonus)
	}
	if !res.TargetDefeated || !res.CombatEnded {
		t.Errorf("目标应被击杀并结束战斗: %+v", res)
	}
	if state.XP != 25 {
		t.Errorf("击杀经验未结算: %d", state.XP)
	}
}

func TestResolveAttackWeaponSubstitution(t *testing.T) {
	ap := NewActionProcessor(newScriptedEngine(t, 11, 4))
	state := testState() // 装备Longsword，没有Greataxe

	res := ap.ResolveAttack(testInfo(), state, PendingRoll{
		Kind: "attack", Weapon: "Greataxe", Modifier: RollNone,
	})
	if !res.Substituted || res.WeaponUsed != "Longsword" {
		t.Errorf("不在身上的武器应换成已装备武器: %+v", res)
	}
}

func TestResolveAttackUnknownWeaponFallback(t *testing.T) {
	ap := NewActionProcessor(newScriptedEngine(t, 11, 4))
	state := testState()
	state.Equipment.Weapon = "祖传的奇怪兵刃"

	res := ap.ResolveAttack(testInfo(), state, PendingRoll{
		Kind: "attack", Weapon: "祖传的奇怪兵刃", Modifier: RollNone,
	})
	if !res.FallbackWeapon {
		t.Errorf("查不到的武器应走1d8回退: %+v", res)
	}
	if res.Damage != 7 { // 1d8=4 + 力量3
		t.Errorf("回退伤害不对: %d", res.Damage)
	}
}

func TestResolveAttackMinimumDamage(t *testing.T) {
	ap := NewActionProcessor(newScriptedEngine(t, 11, 1))
	state := testState()
	state.AbilityScores["strength"] = 6 // -2
	state.Equipment.Weapon = "Unarmed Strike"

	res := ap.ResolveAttack(testInfo(), state, PendingRoll{
		Kind: "attack", Weapon: "Unarmed Strike", Modifier: RollNone,
	})
	if res.Damage != 1 {
		t.Errorf("总伤害下限应为1: %d", res.Damage)
	}
}

func TestResolveAttackFinesseUsesDex(t *testing.T) {
	ap := NewActionProcessor(newScriptedEngine(t, 11, 4))
	state := testState()
	state.AbilityScores["strength"] = 10
	state.AbilityScores["dexterity"] = 16
	state.Equipment.Weapon = "Rapier"

	res := ap.ResolveAttack(testInfo(), state, PendingRoll{
		Kind: "attack", Weapon: "Rapier", Modifier: RollNone,
	})
	if res.Ability != "dexterity" {
		t.Errorf("灵巧武器且敏捷更高时应用敏捷: %s", res.Ability)
	}
}

func TestConceptionGating(t *testing.T) {
	run := func(mature bool, gender string, chance float64, pregnant bool) *models.PlayerState {
		re := NewRuleEngine(loadTestTables(t))
		re.chance = func() float64 { return chance }
		ap := NewActionProcessor(re)

		info := testInfo()
		info.Gender = gender
		state := testState()
		if pregnant {
			state.Pregnancy = &models.PregnancyState{IsPregnant: true, Sire: "别人"}
		}
		out := ap.Apply(info, state, tags.Extract("[PIV_SEX|艾莉娅|卡尔]"), mature)
		return out.State
	}

	if st := run(true, "female", 0.1, false); st.Pregnancy == nil || !st.Pregnancy.IsPregnant {
		t.Error("门槛内的概率应触发受孕")
	} else if st.Pregnancy.Sire != "卡尔" {
		t.Errorf("Sire记录不对: %q", st.Pregnancy.Sire)
	}
	if st := run(true, "female", 0.5, false); st.Pregnancy != nil {
		t.Error("概率门槛外不应触发")
	}
	if st := run(false, "female", 0.1, false); st.Pregnancy != nil {
		t.Error("非成人模式必须忽略标签")
	}
	if st := run(true, "male", 0.1, false); st.Pregnancy != nil {
		t.Error("性别门控失效")
	}
	if st := run(true, "female", 0.1, true); st.Pregnancy.Sire != "别人" {
		t.Error("已怀孕状态不应被覆盖")
	}
}

func TestPregnancyRevealedOneWay(t *testing.T) {
	re := NewRuleEngine(loadTestTables(t))
	ap := NewActionProcessor(re)

	state := testState()
	state.Pregnancy = &models.PregnancyState{IsPregnant: true, Sire: "卡尔"}

	out := ap.Apply(testInfo(), state, tags.Extract("[PREGNANCY_REVEALED|艾莉娅]"), true)
	if !out.State.Pregnancy.KnowledgeRevealed {
		t.Fatal("揭示标记未翻转")
	}

	// 未怀孕时揭示标签无效
	state2 := testState()
	out2 := ap.Apply(testInfo(), state2, tags.Extract("[PREGNANCY_REVEALED|艾莉娅]"), true)
	if out2.State.Pregnancy != nil {
		t.Error("未怀孕时不应产生任何记录")
	}
}
