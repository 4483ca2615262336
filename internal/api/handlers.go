package api

import (
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aiwuxian/project-mythos/internal/models"
	"github.com/aiwuxian/project-mythos/internal/services"
)

type Handler struct {
	meta      *services.MetaService
	turns     *services.TurnService
	export    *services.ExportService
	prompts   *services.PromptService
	scenarios *services.ScenarioService
	sessions  *SessionRegistry
	game      models.GameConfig
}

func NewHandler(meta *services.MetaService, turns *services.TurnService,
	export *services.ExportService, prompts *services.PromptService,
	scenarios *services.ScenarioService, sessions *SessionRegistry,
	game models.GameConfig) *Handler {
	return &Handler{
		meta:      meta,
		turns:     turns,
		export:    export,
		prompts:   prompts,
		scenarios: scenarios,
		sessions:  sessions,
		game:      game,
	}
}

// CreateCharacter 手动建卡（购点法）
func (h *Handler) CreateCharacter(c *gin.Context) {
	var req struct {
		Info          models.CharacterInfo `json:"characterInfo" binding:"required"`
		AbilityScores map[string]int       `json:"abilityScores" binding:"required"`
		Skills        []string             `json:"skills"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "参数错误"})
		return
	}

	state, err := h.meta.BuildCharacter(&req.Info, req.AbilityScores, req.Skills)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"characterInfo": req.Info,
		"playerState":   state,
	})
}

// GenerateCharacter AI自动建卡
func (h *Handler) GenerateCharacter(c *gin.Context) {
	var req struct {
		Name        string `json:"name" binding:"required"`
		Gender      string `json:"gender" binding:"required"`
		Description string `json:"description"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "参数错误"})
		return
	}

	info, state, err := h.meta.GenerateCharacter(c.Request.Context(), req.Name, req.Gender, req.Description)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"characterInfo": info,
		"playerState":   state,
	})
}

// ClassSkills 职业可选技能列表
func (h *Handler) ClassSkills(c *gin.Context) {
	skills := h.meta.SkillChoicesFor(c.Param("name"))
	if skills == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "职业不存在"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"skills": skills})
}

// GenerateScenario 按题材生成开局剧本
func (h *Handler) GenerateScenario(c *gin.Context) {
	var req struct {
		Theme string `json:"theme" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "参数错误"})
		return
	}

	scenario, err := h.scenarios.GenerateScenario(c.Request.Context(), req.Theme)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, scenario)
}

// StartGame 新开一局：落存档、建会话，可选剧本播种初始状态
func (h *Handler) StartGame(c *gin.Context) {
	var req struct {
		SaveName   string               `json:"saveName" binding:"required"`
		Info       models.CharacterInfo `json:"characterInfo" binding:"required"`
		State      models.PlayerState   `json:"playerState" binding:"required"`
		Scenario   *models.Scenario     `json:"scenario"`
		MatureMode bool                 `json:"matureMode"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "参数错误"})
		return
	}

	h.scenarios.Seed(req.Scenario, &req.State)
	slot, err := h.meta.NewSave(req.SaveName, &req.Info, &req.State)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	session := h.sessions.Create(slot, h.matureAllowed(req.MatureMode))
	log.Printf("🎮 [会话] 新冒险开始：%s（存档 %s）", req.Info.Name, slot.ID)

	c.JSON(http.StatusOK, gin.H{
		"sessionId": session.ID,
		"saveId":    slot.ID,
		"state":     session.State,
	})
}

// LoadGame 从存档恢复一局
func (h *Handler) LoadGame(c *gin.Context) {
	var req struct {
		SaveID     string `json:"saveId" binding:"required"`
		MatureMode bool   `json:"matureMode"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "参数错误"})
		return
	}

	slot, err := h.meta.GetSave(req.SaveID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "存档不存在"})
		return
	}

	session := h.sessions.Create(slot, h.matureAllowed(req.MatureMode))
	c.JSON(http.StatusOK, gin.H{
		"sessionId": session.ID,
		"saveId":    slot.ID,
		"state":     session.State,
		"history":   session.History,
	})
}

// matureAllowed 成人模式需要玩家勾选且服务端全局开关允许，二者缺一不可
func (h *Handler) matureAllowed(requested bool) bool {
	return requested && h.game.EnableAdultMode
}

// GetSession 查询会话当前状态
func (h *Handler) GetSession(c *gin.Context) {
	session, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessionId": session.ID,
		"state":     session.State,
		"history":   session.History,
	})
}

// TakeTurn 非流式回合（REST兜底；流式路径走WebSocket）
func (h *Handler) TakeTurn(c *gin.Context) {
	var req struct {
		Message string `json:"message"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "参数错误"})
		return
	}

	session, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	// 空消息且无历史 = 开场回合
	message := req.Message
	if message == "" {
		if len(session.History) > 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "行动内容不能为空"})
			return
		}
		message = h.prompts.BuildOpening(&session.Info)
	}

	result, err := h.turns.RunTurn(c.Request.Context(), session, message, nil)
	if err != nil {
		h.turnError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ResolveChoice 玩家从多个待定检定中选定一个
func (h *Handler) ResolveChoice(c *gin.Context) {
	var req struct {
		Choice services.PendingRoll `json:"choice" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "参数错误"})
		return
	}

	session, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	result, err := h.turns.ResolveChoice(c.Request.Context(), session, req.Choice, nil)
	if err != nil {
		h.turnError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// LevelUp 玩家确认升级
func (h *Handler) LevelUp(c *gin.Context) {
	session, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	if !h.meta.LevelUp(&session.Info, session.State) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "经验未达到下一级门槛"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": session.State})
}

// turnError 把编排器的语义错误映射到合适的HTTP状态码
func (h *Handler) turnError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrTurnInFlight):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrModelsExhausted):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrTimeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// ListSaves 存档列表
func (h *Handler) ListSaves(c *gin.Context) {
	saves, err := h.meta.ListSaves()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"saves": saves})
}

// RenameSave 重命名存档
func (h *Handler) RenameSave(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "参数错误"})
		return
	}
	if err := h.meta.RenameSave(c.Param("id"), req.Name); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// DeleteSave 删除存档
func (h *Handler) DeleteSave(c *gin.Context) {
	if err := h.meta.DeleteSave(c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ExportSave 导出存档为PDF战报
func (h *Handler) ExportSave(c *gin.Context) {
	slot, err := h.meta.GetSave(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "存档不存在"})
		return
	}

	data, err := h.export.TranscriptPDF(slot)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	filename := fmt.Sprintf("%s.pdf", slot.Name)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "application/pdf", data)
}
