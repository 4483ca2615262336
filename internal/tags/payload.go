package tags

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aiwuxian/project-mythos/internal/models"
)

// ExtractJSON 从文本中提取第一段完整的JSON。
// 定位第一个 '{' 或 '['，随后做括号配平扫描：进入字符串后忽略括号，
// 反斜杠转义按单字符跳过；深度归零处即载荷结束。
// 深度始终未归零时视为不完整载荷，返回 ok=false，绝不猜测补全。
func ExtractJSON(s string) (raw string, end int, ok bool) {
	start := -1
	for i := 0; i < len(s); i++ {
		if s[i] == '{' || s[i] == '[' {
			start = i
			break
		}
	}
	if start < 0 {
		return "", 0, false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case inString:
			if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
		case c == '"':
			inString = true
		case c == '{' || c == '[':
			depth++
		case c == '}' || c == ']':
			depth--
			if depth == 0 {
				return s[start : i+1], i + 1, true
			}
		}
	}
	return "", 0, false
}

// SanitizeJSON 对LLM产出的JSON做修复性清洗：
// 字符串内的裸换行转义为\n，回车全部剔除，闭合括号前的尾随逗号丢弃。
func SanitizeJSON(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))

	inString := false
	escaped := false
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c == '\r' {
			continue
		}
		if escaped {
			b.WriteByte(c)
			escaped = false
			continue
		}
		if inString {
			switch c {
			case '\\':
				b.WriteByte(c)
				escaped = true
			case '"':
				inString = false
				b.WriteByte(c)
			case '\n':
				b.WriteString(`\n`)
			default:
				b.WriteByte(c)
			}
			continue
		}
		switch c {
		case '"':
			inString = true
			b.WriteByte(c)
		case ',':
			// 向前看：逗号后只剩空白且紧跟闭合括号时丢弃
			j := i + 1
			for j < len(raw) && (raw[j] == ' ' || raw[j] == '\t' || raw[j] == '\n' || raw[j] == '\r') {
				j++
			}
			if j < len(raw) && (raw[j] == '}' || raw[j] == ']') {
				continue
			}
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// DecodeObject 清洗后解析为通用对象
func DecodeObject(raw string) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal([]byte(SanitizeJSON(raw)), &m); err != nil {
		return nil, err
	}
	return m, nil
}

// DecodeInto 清洗后解析到目标结构
func DecodeInto(raw string, dst any) error {
	return json.Unmarshal([]byte(SanitizeJSON(raw)), dst)
}

// ParseGameAction 把原始类型串+JSON载荷映射为强类型的动作变体。
// 未知类型或载荷不合法时返回错误，由调用方跳过该标签（失败关闭）。
func ParseGameAction(typ string, raw string) (models.GameAction, error) {
	clean := SanitizeJSON(raw)
	switch models.GameActionType(strings.ToUpper(strings.TrimSpace(typ))) {
	case models.ActionStartCombat:
		return parseStartCombat(clean)
	case models.ActionNPCAttackIntent:
		m, err := DecodeObject(raw)
		if err != nil {
			return nil, err
		}
		return models.NPCAttackIntentAction{
			AttackerName: asString(m["attackerName"]),
			WeaponName:   asString(m["weaponName"]),
			TargetName:   asString(m["targetName"]),
		}, nil
	case models.ActionNPCSkillIntent:
		m, err := DecodeObject(raw)
		if err != nil {
			return nil, err
		}
		return models.NPCSkillIntentAction{
			NPCName:     asString(m["npcName"]),
			Skill:       asString(m["skill"]),
			Description: asString(m["description"]),
		}, nil
	case models.ActionEnemyDefeated:
		m, err := DecodeObject(raw)
		if err != nil {
			return nil, err
		}
		name := asString(m["name"])
		if name == "" {
			return nil, fmt.Errorf("ENEMY_DEFEATED 缺少name字段")
		}
		return models.EnemyDefeatedAction{Name: name}, nil
	case models.ActionModifyHealth:
		m, err := DecodeObject(raw)
		if err != nil {
			return nil, err
		}
		amount, ok := asInt(m["amount"])
		if !ok {
			return nil, fmt.Errorf("MODIFY_HEALTH 缺少amount字段")
		}
		return models.ModifyHealthAction{Amount: amount, Source: asString(m["source"])}, nil
	case models.ActionGainReward:
		m, err := DecodeObject(raw)
		if err != nil {
			return nil, err
		}
		xp, _ := asInt(m["xp"])
		money, _ := asInt(m["money"])
		return models.GainRewardAction{XP: xp, Money: money}, nil
	case models.ActionUpdateWorldState:
		// 载荷本身即为补丁
		m, err := DecodeObject(raw)
		if err != nil {
			return nil, err
		}
		return models.UpdateWorldStateAction{Patch: m}, nil
	case models.ActionUpdateNPCState:
		m, err := DecodeObject(raw)
		if err != nil {
			return nil, err
		}
		name := asString(m["name"])
		if name == "" {
			return nil, fmt.Errorf("UPDATE_NPC_STATE 缺少name字段")
		}
		patch, _ := m["patch"].(map[string]any)
		if patch == nil {
			// 兼容把补丁平铺在顶层的写法
			delete(m, "name")
			patch = m
		}
		return models.UpdateNPCStateAction{Name: name, Patch: patch}, nil
	case models.ActionApplyCondition:
		m, err := DecodeObject(raw)
		if err != nil {
			return nil, err
		}
		name := asString(m["name"])
		if name == "" {
			return nil, fmt.Errorf("APPLY_CONDITION 缺少name字段")
		}
		duration, _ := asInt(m["duration"])
		return models.ApplyConditionAction{Name: name, Duration: duration}, nil
	case models.ActionRemoveCondition:
		m, err := DecodeObject(raw)
		if err != nil {
			return nil, err
		}
		name := asString(m["name"])
		if name == "" {
			return nil, fmt.Errorf("REMOVE_CONDITION 缺少name字段")
		}
		return models.RemoveConditionAction{Name: name}, nil
	default:
		return nil, fmt.Errorf("未知的GAME_ACTION类型: %s", typ)
	}
}

func parseStartCombat(clean string) (models.GameAction, error) {
	clean = strings.TrimSpace(clean)
	var specs []map[string]any
	if strings.HasPrefix(clean, "[") {
		if err := json.Unmarshal([]byte(clean), &specs); err != nil {
			return nil, err
		}
	} else {
		// 兼容 {"enemies":[...]} 包装
		var wrap struct {
			Enemies []map[string]any `json:"enemies"`
		}
		if err := json.Unmarshal([]byte(clean), &wrap); err != nil {
			return nil, err
		}
		specs = wrap.Enemies
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("START_COMBAT 没有声明任何敌人")
	}

	action := models.StartCombatAction{}
	for _, m := range specs {
		name := asString(m["name"])
		if name == "" {
			continue
		}
		hp, ok := asInt(m["hp"])
		if !ok || hp <= 0 {
			hp = 1
		}
		xp, _ := asInt(m["xpValue"])
		action.Enemies = append(action.Enemies, models.EnemySpec{Name: name, HP: hp, XPValue: xp})
	}
	if len(action.Enemies) == 0 {
		return nil, fmt.Errorf("START_COMBAT 敌人列表全部缺少name")
	}
	return action, nil
}

// LLM产出的数字经常带小数点或写成字符串，这里统一收敛
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case string:
		var f float64
		if _, err := fmt.Sscanf(strings.TrimSpace(n), "%f", &f); err == nil {
			return int(f), true
		}
	}
	return 0, false
}

func asString(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}
