package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/aiwuxian/project-mythos/internal/models"
	_ "modernc.org/sqlite"
)

type Storage struct {
	db *sql.DB
}

func New(dbPath string) (*Storage, error) {
	// 确保目录存在
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}

	s := &Storage{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("初始化数据库结构失败: %w", err)
	}

	return s, nil
}

func (s *Storage) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS save_slots (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		character_info TEXT NOT NULL,      -- JSON object
		player_state TEXT NOT NULL,        -- JSON object
		chat_history TEXT NOT NULL,        -- JSON array
		current_model_index INTEGER DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_save_updated ON save_slots(updated_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *Storage) Close() error {
	return s.db.Close()
}

// SavePatch 部分更新：nil 字段保持原值
type SavePatch struct {
	Name              *string
	PlayerState       *models.PlayerState
	ChatHistory       []models.ChatTurn
	CurrentModelIndex *int
}

// AddSave 写入一个新存档槽位
func (s *Storage) AddSave(slot *models.SaveSlot) error {
	infoJSON, _ := json.Marshal(slot.CharacterInfo)
	stateJSON, _ := json.Marshal(slot.PlayerState)
	historyJSON, _ := json.Marshal(slot.ChatHistory)

	_, err := s.db.Exec(`
		INSERT INTO save_slots (id, name, character_info, player_state, chat_history, current_model_index, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, slot.ID, slot.Name, infoJSON, stateJSON, historyJSON,
		slot.CurrentModelIndex, slot.CreatedAt, slot.UpdatedAt)
	if err != nil {
		return fmt.Errorf("写入存档失败: %w", err)
	}
	return nil
}

// GetSave 读取单个存档
func (s *Storage) GetSave(id string) (*models.SaveSlot, error) {
	row := s.db.QueryRow(`
		SELECT id, name, character_info, player_state, chat_history, current_model_index, created_at, updated_at
		FROM save_slots WHERE id = ?
	`, id)

	slot, err := scanSlot(row)
	if err != nil {
		return nil, fmt.Errorf("读取存档失败: %w", err)
	}
	return slot, nil
}

// ListSaves 按更新时间倒序列出全部存档。
// 结构损坏的槽位（缺少等级或属性值的存档）跳过并告警，不让单个坏档拖垮整个列表。
func (s *Storage) ListSaves() ([]models.SaveSlot, error) {
	rows, err := s.db.Query(`
		SELECT id, name, character_info, player_state, chat_history, current_model_index, created_at, updated_at
		FROM save_slots
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("查询存档列表失败: %w", err)
	}
	defer rows.Close()

	var slots []models.SaveSlot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			log.Printf("⚠️ [存档] 跳过无法解析的槽位: %v", err)
			continue
		}
		if !slotValid(slot) {
			log.Printf("⚠️ [存档] 跳过结构损坏的槽位 %s（%s）", slot.ID, slot.Name)
			continue
		}
		slots = append(slots, *slot)
	}
	return slots, rows.Err()
}

// UpdateSave 部分更新存档，并刷新更新时间
func (s *Storage) UpdateSave(id string, patch SavePatch) error {
	set := "updated_at = ?"
	args := []any{time.Now()}

	if patch.Name != nil {
		set += ", name = ?"
		args = append(args, *patch.Name)
	}
	if patch.PlayerState != nil {
		stateJSON, _ := json.Marshal(patch.PlayerState)
		set += ", player_state = ?"
		args = append(args, string(stateJSON))
	}
	if patch.ChatHistory != nil {
		historyJSON, _ := json.Marshal(patch.ChatHistory)
		set += ", chat_history = ?"
		args = append(args, string(historyJSON))
	}
	if patch.CurrentModelIndex != nil {
		set += ", current_model_index = ?"
		args = append(args, *patch.CurrentModelIndex)
	}
	args = append(args, id)

	res, err := s.db.Exec(`UPDATE save_slots SET `+set+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("更新存档失败: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("存档不存在: %s", id)
	}
	return nil
}

func (s *Storage) DeleteSave(id string) error {
	_, err := s.db.Exec(`DELETE FROM save_slots WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("删除存档失败: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSlot(row rowScanner) (*models.SaveSlot, error) {
	var slot models.SaveSlot
	var infoJSON, stateJSON, historyJSON string

	err := row.Scan(&slot.ID, &slot.Name, &infoJSON, &stateJSON, &historyJSON,
		&slot.CurrentModelIndex, &slot.CreatedAt, &slot.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(infoJSON), &slot.CharacterInfo); err != nil {
		return nil, fmt.Errorf("解析角色信息失败: %w", err)
	}
	if err := json.Unmarshal([]byte(stateJSON), &slot.PlayerState); err != nil {
		return nil, fmt.Errorf("解析玩家状态失败: %w", err)
	}
	if err := json.Unmarshal([]byte(historyJSON), &slot.ChatHistory); err != nil {
		return nil, fmt.Errorf("解析对话历史失败: %w", err)
	}
	return &slot, nil
}

// slotValid 最低结构要求：有等级、有六维属性的存档才可恢复游戏
func slotValid(slot *models.SaveSlot) bool {
	if slot.PlayerState.Level < 1 {
		return false
	}
	if len(slot.PlayerState.AbilityScores) == 0 {
		return false
	}
	return true
}
