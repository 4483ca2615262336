package services

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Weapon 武器条目
type Weapon struct {
	Name       string   `json:"name"`
	Damage     string   `json:"damage"` // NdM 记法
	Category   string   `json:"category"`
	Properties []string `json:"properties"` // finesse, light, two-handed...
}

// Finesse 是否灵巧武器（可用敏捷代替力量）
func (w *Weapon) Finesse() bool {
	for _, p := range w.Properties {
		if strings.EqualFold(p, "finesse") {
			return true
		}
	}
	return false
}

// Armor 护甲条目
type Armor struct {
	Name     string `json:"name"`
	BaseAC   int    `json:"base_ac"`
	Category string `json:"category"` // light / medium / heavy / shield
}

// Subrace 亚种族
type Subrace struct {
	Name         string `json:"name"`
	AbilityBonus string `json:"ability_bonus"` // 自然语言描述，启动时解析
}

// Race 种族条目
type Race struct {
	Name         string    `json:"name"`
	Speed        int       `json:"speed"`
	AbilityBonus string    `json:"ability_bonus"`
	Traits       []string  `json:"traits"`
	Subraces     []Subrace `json:"subraces,omitempty"`
}

// Class 职业条目
type Class struct {
	Name         string   `json:"name"`
	HitDie       int      `json:"hit_die"`
	SavingThrows []string `json:"saving_throws"`
	SkillChoices []string `json:"skill_choices"`
	Features     []string `json:"features"`
}

// Background 背景条目
type Background struct {
	Name   string   `json:"name"`
	Skills []string `json:"skills"`
	Feat   string   `json:"feat,omitempty"`
}

// RuleTables 静态规则表，启动时从数据目录加载一次，之后只读
type RuleTables struct {
	Weapons     []Weapon
	Armors      []Armor
	Races       []Race
	Classes     []Class
	Backgrounds []Background
}

// LoadRuleTables 加载规则数据目录下的全部表
func LoadRuleTables(dir string) (*RuleTables, error) {
	t := &RuleTables{}
	for name, target := range map[string]any{
		"weapons.json":     &t.Weapons,
		"armor.json":       &t.Armors,
		"races.json":       &t.Races,
		"classes.json":     &t.Classes,
		"backgrounds.json": &t.Backgrounds,
	} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("读取规则表 %s 失败: %w", name, err)
		}
		if err := json.Unmarshal(data, target); err != nil {
			return nil, fmt.Errorf("解析规则表 %s 失败: %w", name, err)
		}
	}
	if len(t.Weapons) == 0 || len(t.Races) == 0 || len(t.Classes) == 0 {
		return nil, fmt.Errorf("规则表不完整: weapons=%d races=%d classes=%d",
			len(t.Weapons), len(t.Races), len(t.Classes))
	}
	return t, nil
}

// FindWeapon 大小写不敏感的子串匹配，最长的表项键胜出，
// 以容忍模型不精确的叫法（"my trusty shortsword" 仍命中 shortsword）。
func (t *RuleTables) FindWeapon(name string) *Weapon {
	lower := strings.ToLower(name)
	var best *Weapon
	for i := range t.Weapons {
		key := strings.ToLower(t.Weapons[i].Name)
		if key == lower {
			return &t.Weapons[i]
		}
		if !strings.Contains(lower, key) && !strings.Contains(key, lower) {
			continue
		}
		if best == nil || len(t.Weapons[i].Name) > len(best.Name) {
			best = &t.Weapons[i]
		}
	}
	return best
}

// FindArmor 同 FindWeapon 的匹配策略
func (t *RuleTables) FindArmor(name string) *Armor {
	lower := strings.ToLower(name)
	var best *Armor
	for i := range t.Armors {
		key := strings.ToLower(t.Armors[i].Name)
		if key == lower {
			return &t.Armors[i]
		}
		if !strings.Contains(lower, key) && !strings.Contains(key, lower) {
			continue
		}
		if best == nil || len(t.Armors[i].Name) > len(best.Name) {
			best = &t.Armors[i]
		}
	}
	return best
}

// FindRace 精确名称匹配（大小写不敏感）
func (t *RuleTables) FindRace(name string) *Race {
	for i := range t.Races {
		if strings.EqualFold(t.Races[i].Name, name) {
			return &t.Races[i]
		}
	}
	return nil
}

// FindClass 精确名称匹配（大小写不敏感）
func (t *RuleTables) FindClass(name string) *Class {
	for i := range t.Classes {
		if strings.EqualFold(t.Classes[i].Name, name) {
			return &t.Classes[i]
		}
	}
	return nil
}

// FindBackground 精确名称匹配（大小写不敏感）
func (t *RuleTables) FindBackground(name string) *Background {
	for i := range t.Backgrounds {
		if strings.EqualFold(t.Backgrounds[i].Name, name) {
			return &t.Backgrounds[i]
		}
	}
	return nil
}

var (
	// "Your Strength score increases by 2" / "Dexterity score increases by 1"
	bonusPhraseRe = regexp.MustCompile(`(?i)(Strength|Dexterity|Constitution|Intelligence|Wisdom|Charisma)\s+score\s+increases\s+by\s+(\d+)`)
	// "Your ability scores each increase by 1"
	eachPhraseRe = regexp.MustCompile(`(?i)each\s+increase\s+by\s+(\d+)`)
)

// ParseAbilityBonusText 把种族加值的自然语言描述解析为数值表
func ParseAbilityBonusText(text string) map[string]int {
	bonuses := make(map[string]int)
	for _, m := range bonusPhraseRe.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		bonuses[strings.ToLower(m[1])] += n
	}
	if m := eachPhraseRe.FindStringSubmatch(text); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil {
			for _, ability := range []string{"strength", "dexterity", "constitution", "intelligence", "wisdom", "charisma"} {
				bonuses[ability] += n
			}
		}
	}
	return bonuses
}

// RaceBonuses 种族加值，亚种族加值在父种族之上累加
func (t *RuleTables) RaceBonuses(race, subrace string) map[string]int {
	bonuses := make(map[string]int)
	r := t.FindRace(race)
	if r == nil {
		return bonuses
	}
	for k, v := range ParseAbilityBonusText(r.AbilityBonus) {
		bonuses[k] += v
	}
	if subrace != "" {
		for _, sr := range r.Subraces {
			if strings.EqualFold(sr.Name, subrace) {
				for k, v := range ParseAbilityBonusText(sr.AbilityBonus) {
					bonuses[k] += v
				}
				break
			}
		}
	}
	return bonuses
}
