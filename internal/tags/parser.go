package tags

import (
	"log"
	"strings"

	"github.com/aiwuxian/project-mythos/internal/models"
)

// Kind 标签族
type Kind string

const (
	KindRoll              Kind = "ROLL"
	KindAttack            Kind = "ATTACK"
	KindGameAction        Kind = "GAME_ACTION"
	KindEvent             Kind = "EVENT"
	KindStateUpdate       Kind = "STATE_UPDATE"
	KindPivSex            Kind = "PIV_SEX"
	KindPregnancyRevealed Kind = "PREGNANCY_REVEALED"
)

// Tag 从LLM文本中提取出的一个结构化标签
type Tag struct {
	Kind Kind

	// ROLL: [ROLL|SKILL|DESC|MODIFIER?]
	Skill       string
	Description string
	Modifier    string // ADVANTAGE / DISADVANTAGE / NONE

	// ATTACK: [ATTACK|WEAPON|TARGET_DESC|MODIFIER?]
	Weapon string
	Target string

	// GAME_ACTION: 已解析的强类型动作
	Action models.GameAction

	// EVENT: [EVENT|TYPE|DETAILS]，TYPE ∈ {ITEM, XP, MONEY}
	EventType    string
	EventDetails string

	// STATE_UPDATE: 局部状态JSON补丁
	Patch map[string]any

	// PIV_SEX / PREGNANCY_REVEALED 涉及的角色名
	Names []string

	Raw        string
	start, end int
}

// Extract 扫描整段文本，提取全部可识别的标签。
// 单个标签畸形（括号不配平、JSON解析失败、类型未知）只跳过它本身，
// 绝不中断对同一段文本里其余标签的处理。
func Extract(text string) []Tag {
	var out []Tag
	for i := 0; i < len(text); i++ {
		if text[i] != '[' && !isBareStateUpdate(text, i) {
			continue
		}
		if t, end, ok := matchAt(text, i); ok {
			out = append(out, t)
			i = end - 1
		}
	}
	return out
}

// Strip 去掉文本中所有可识别的标签，得到适合展示/朗读的干净叙事
func Strip(text string) string {
	matched := Extract(text)
	if len(matched) == 0 {
		return text
	}
	var b strings.Builder
	last := 0
	for _, t := range matched {
		if t.start > last {
			b.WriteString(text[last:t.start])
		}
		last = t.end
	}
	if last < len(text) {
		b.WriteString(text[last:])
	}
	return collapseBlankLines(b.String())
}

func collapseBlankLines(s string) string {
	for strings.Contains(s, "\n\n\n") {
		s = strings.ReplaceAll(s, "\n\n\n", "\n\n")
	}
	return s
}

// 容忍模型漏写方括号的 STATE_UPDATE 写法
func isBareStateUpdate(text string, i int) bool {
	if !strings.HasPrefix(text[i:], string(KindStateUpdate)) {
		return false
	}
	// 排除闭合标签 [/STATE_UPDATE] 里的出现
	return i == 0 || text[i-1] != '/'
}

func matchAt(text string, i int) (Tag, int, bool) {
	if isBareStateUpdate(text, i) {
		return matchStateUpdate(text, i, i)
	}

	// text[i] == '['，读出标签名
	j := i + 1
	for j < len(text) && (isTagNameChar(text[j])) {
		j++
	}
	name := strings.ToUpper(text[i+1 : j])

	switch Kind(name) {
	case KindStateUpdate:
		body := j
		if body < len(text) && text[body] == ']' {
			body++
		}
		return matchStateUpdate(text, i, body)
	case KindGameAction:
		return matchGameAction(text, i, j)
	case KindRoll, KindAttack, KindEvent, KindPivSex, KindPregnancyRevealed:
		return matchPipeTag(Kind(name), text, i, j)
	default:
		return Tag{}, 0, false
	}
}

func isTagNameChar(c byte) bool {
	return c == '_' || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

// 简单管道分隔标签：整个标签在一对方括号内，不含嵌套括号
func matchPipeTag(kind Kind, text string, start, nameEnd int) (Tag, int, bool) {
	if nameEnd >= len(text) || text[nameEnd] != '|' {
		return Tag{}, 0, false
	}
	close := strings.IndexByte(text[nameEnd:], ']')
	if close < 0 {
		return Tag{}, 0, false
	}
	end := nameEnd + close + 1
	parts := strings.Split(text[nameEnd+1:end-1], "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	t := Tag{Kind: kind, Raw: text[start:end], start: start, end: end}
	switch kind {
	case KindRoll:
		if len(parts) < 2 || parts[0] == "" {
			return Tag{}, 0, false
		}
		t.Skill = parts[0]
		t.Description = parts[1]
		if len(parts) >= 3 {
			t.Modifier = strings.ToUpper(parts[2])
		}
	case KindAttack:
		if len(parts) < 2 || parts[0] == "" {
			return Tag{}, 0, false
		}
		t.Weapon = parts[0]
		t.Target = parts[1]
		if len(parts) >= 3 {
			t.Modifier = strings.ToUpper(parts[2])
		}
	case KindEvent:
		if len(parts) < 2 {
			return Tag{}, 0, false
		}
		t.EventType = strings.ToUpper(parts[0])
		t.EventDetails = strings.Join(parts[1:], "|")
		switch t.EventType {
		case "ITEM", "XP", "MONEY":
		default:
			return Tag{}, 0, false
		}
	case KindPivSex:
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			return Tag{}, 0, false
		}
		t.Names = []string{parts[0], parts[1]}
	case KindPregnancyRevealed:
		if len(parts) < 1 || parts[0] == "" {
			return Tag{}, 0, false
		}
		t.Names = []string{parts[0]}
	}
	return t, end, true
}

// [GAME_ACTION|TYPE|jsonPayload]，载荷内可能出现方括号和管道符，
// 必须用配平扫描定位载荷边界，不能按']'截断
func matchGameAction(text string, start, nameEnd int) (Tag, int, bool) {
	if nameEnd >= len(text) || text[nameEnd] != '|' {
		return Tag{}, 0, false
	}
	typeStart := nameEnd + 1
	pipe := strings.IndexByte(text[typeStart:], '|')
	if pipe < 0 {
		return Tag{}, 0, false
	}
	typ := strings.TrimSpace(text[typeStart : typeStart+pipe])
	payloadStart := typeStart + pipe + 1

	raw, consumed, ok := ExtractJSON(text[payloadStart:])
	if !ok {
		log.Printf("⚠️ [标签] GAME_ACTION|%s 载荷JSON不完整，跳过", typ)
		return Tag{}, 0, false
	}
	end := payloadStart + consumed
	// 闭合方括号可有可无
	for end < len(text) && (text[end] == ' ' || text[end] == '\t') {
		end++
	}
	if end < len(text) && text[end] == ']' {
		end++
	}

	action, err := ParseGameAction(typ, raw)
	if err != nil {
		log.Printf("⚠️ [标签] GAME_ACTION|%s 解析失败，跳过: %v", typ, err)
		return Tag{}, 0, false
	}
	return Tag{
		Kind:   KindGameAction,
		Action: action,
		Raw:    text[start:end],
		start:  start,
		end:    end,
	}, end, true
}

// [STATE_UPDATE]{json}[/STATE_UPDATE]，方括号与闭合标签都按可选处理
func matchStateUpdate(text string, start, body int) (Tag, int, bool) {
	raw, consumed, ok := ExtractJSON(text[body:])
	if !ok {
		return Tag{}, 0, false
	}
	end := body + consumed
	patch, err := DecodeObject(raw)
	if err != nil {
		log.Printf("⚠️ [标签] STATE_UPDATE 补丁JSON解析失败，跳过: %v", err)
		return Tag{}, 0, false
	}

	rest := text[end:]
	trimmed := strings.TrimLeft(rest, " \t\n")
	if strings.HasPrefix(trimmed, "[/STATE_UPDATE]") {
		end += len(rest) - len(trimmed) + len("[/STATE_UPDATE]")
	}
	return Tag{
		Kind:  KindStateUpdate,
		Patch: patch,
		Raw:   text[start:end],
		start: start,
		end:   end,
	}, end, true
}
