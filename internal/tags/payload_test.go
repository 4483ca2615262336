package tags

import (
	"strings"
	"testing"

	"github.com/aiwuxian/project-mythos/internal/models"
)

func TestExtractJSONBalanced(t *testing.T) {
	raw, end, ok := ExtractJSON(`{"a":{"b":[1,2]}} 后面的文本`)
	if !ok {
		t.Fatal("期望提取成功")
	}
	if raw != `{"a":{"b":[1,2]}}` {
		t.Errorf("提取结果不对: %q", raw)
	}
	if end != len(`{"a":{"b":[1,2]}}`) {
		t.Errorf("结束位置不对: %d", end)
	}
}

func TestExtractJSONBracketsInsideString(t *testing.T) {
	input := `{"name":"哥布林]杀手","note":"带\"引号\"和}花括号"}`
	raw, _, ok := ExtractJSON(input + "尾巴")
	if !ok {
		t.Fatal("期望提取成功")
	}
	if raw != input {
		t.Errorf("字符串内的括号不应参与配平: %q", raw)
	}
}

func TestExtractJSONArray(t *testing.T) {
	raw, _, ok := ExtractJSON(`[{"name":"狼","hp":5}] 结束`)
	if !ok || !strings.HasPrefix(raw, "[") {
		t.Fatalf("数组载荷提取失败: %q ok=%v", raw, ok)
	}
}

func TestExtractJSONUnbalanced(t *testing.T) {
	if _, _, ok := ExtractJSON(`{"a": {"b": 1}`); ok {
		t.Error("不配平的JSON不应提取成功")
	}
	if _, _, ok := ExtractJSON(`没有任何JSON`); ok {
		t.Error("无JSON文本不应提取成功")
	}
}

func TestSanitizeJSONNewlineInString(t *testing.T) {
	raw := "{\"desc\":\"第一行\n第二行\"}"
	clean := SanitizeJSON(raw)
	m, err := DecodeObject(clean)
	if err != nil {
		t.Fatalf("净化后仍无法解析: %v", err)
	}
	if m["desc"] != "第一行\n第二行" {
		t.Errorf("换行转义后的值不对: %q", m["desc"])
	}
}

func TestSanitizeJSONTrailingComma(t *testing.T) {
	for _, raw := range []string{
		`{"a":1,}`,
		`{"a":[1,2,],}`,
		"{\"a\":1,\n}",
	} {
		if _, err := DecodeObject(raw); err != nil {
			t.Errorf("尾逗号未被清除: %q -> %v", raw, err)
		}
	}
}

func TestSanitizeJSONCarriageReturn(t *testing.T) {
	clean := SanitizeJSON("{\"a\":\r\n1}")
	if strings.Contains(clean, "\r") {
		t.Error("回车符应被移除")
	}
}

func TestParseGameActionStartCombat(t *testing.T) {
	// 裸数组
	a, err := ParseGameAction("START_COMBAT", `[{"name":"哥布林","hp":7,"xpValue":25},{"name":"狼","hp":0}]`)
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	sc, ok := a.(models.StartCombatAction)
	if !ok {
		t.Fatalf("类型不对: %T", a)
	}
	if len(sc.Enemies) != 2 {
		t.Fatalf("敌人数量不对: %d", len(sc.Enemies))
	}
	if sc.Enemies[0].XPValue != 25 {
		t.Errorf("经验值不对: %d", sc.Enemies[0].XPValue)
	}
	if sc.Enemies[1].HP != 1 {
		t.Errorf("非法HP应回退为1: %d", sc.Enemies[1].HP)
	}

	// 对象包装
	a, err = ParseGameAction("start_combat", `{"enemies":[{"name":"骷髅","hp":13}]}`)
	if err != nil {
		t.Fatalf("包装形式解析失败: %v", err)
	}
	if sc := a.(models.StartCombatAction); len(sc.Enemies) != 1 || sc.Enemies[0].Name != "骷髅" {
		t.Errorf("包装形式结果不对: %+v", sc)
	}
}

func TestParseGameActionVariants(t *testing.T) {
	cases := []struct {
		typ, payload string
		check        func(t *testing.T, a models.GameAction)
	}{
		{"MODIFY_HEALTH", `{"amount":-5,"source":"陷阱"}`, func(t *testing.T, a models.GameAction) {
			mh := a.(models.ModifyHealthAction)
			if mh.Amount != -5 || mh.Source != "陷阱" {
				t.Errorf("%+v", mh)
			}
		}},
		{"GAIN_REWARD", `{"xp":50,"money":10}`, func(t *testing.T, a models.GameAction) {
			gr := a.(models.GainRewardAction)
			if gr.XP != 50 || gr.Money != 10 {
				t.Errorf("%+v", gr)
			}
		}},
		{"NPC_ATTACK_INTENT", `{"attackerName":"强盗","weaponName":"Shortsword","targetName":"player"}`, func(t *testing.T, a models.GameAction) {
			na := a.(models.NPCAttackIntentAction)
			if na.AttackerName != "强盗" || na.WeaponName != "Shortsword" {
				t.Errorf("%+v", na)
			}
		}},
		{"APPLY_CONDITION", `{"name":"中毒","duration":3}`, func(t *testing.T, a models.GameAction) {
			ac := a.(models.ApplyConditionAction)
			if ac.Name != "中毒" || ac.Duration != 3 {
				t.Errorf("%+v", ac)
			}
		}},
		{"ENEMY_DEFEATED", `{"name":"哥布林"}`, func(t *testing.T, a models.GameAction) {
			if a.(models.EnemyDefeatedAction).Name != "哥布林" {
				t.Errorf("%+v", a)
			}
		}},
		{"UPDATE_NPC_STATE", `{"name":"艾拉","patch":{"attitude":"friendly"}}`, func(t *testing.T, a models.GameAction) {
			un := a.(models.UpdateNPCStateAction)
			if un.Name != "艾拉" || un.Patch["attitude"] != "friendly" {
				t.Errorf("%+v", un)
			}
		}},
	}
	for _, c := range cases {
		a, err := ParseGameAction(c.typ, c.payload)
		if err != nil {
			t.Errorf("%s 解析失败: %v", c.typ, err)
			continue
		}
		c.check(t, a)
	}
}

func TestParseGameActionNumericTolerance(t *testing.T) {
	// 模型偶尔把数字写成字符串或浮点
	a, err := ParseGameAction("GAIN_REWARD", `{"xp":"50","money":10.0}`)
	if err != nil {
		t.Fatalf("宽容解析失败: %v", err)
	}
	gr := a.(models.GainRewardAction)
	if gr.XP != 50 || gr.Money != 10 {
		t.Errorf("%+v", gr)
	}
}

func TestParseGameActionUnknownType(t *testing.T) {
	if _, err := ParseGameAction("SUMMON_DRAGON", `{}`); err == nil {
		t.Error("未知类型必须失败关闭")
	}
}
