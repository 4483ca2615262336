package api

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/aiwuxian/project-mythos/internal/models"
	"github.com/aiwuxian/project-mythos/internal/services"
)

// SessionRegistry 进程内活动会话表。会话是纯内存对象，
// 权威进度始终在存档里，进程重启后从存档重建。
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*services.GameSession
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]*services.GameSession)}
}

// Create 从存档槽位建立一个新会话
func (r *SessionRegistry) Create(slot *models.SaveSlot, mature bool) *services.GameSession {
	s := &services.GameSession{
		ID:         uuid.New().String(),
		SaveID:     slot.ID,
		Info:       slot.CharacterInfo,
		State:      &slot.PlayerState,
		History:    slot.ChatHistory,
		ModelIndex: slot.CurrentModelIndex,
		MatureMode: mature,
	}
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	return s
}

func (r *SessionRegistry) Get(id string) (*services.GameSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("会话不存在或已过期: %s", id)
	}
	return s, nil
}

func (r *SessionRegistry) Remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}
