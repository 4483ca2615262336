package main

import (
	"fmt"
	"log"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/aiwuxian/project-mythos/internal/api"
	"github.com/aiwuxian/project-mythos/internal/models"
	"github.com/aiwuxian/project-mythos/internal/services"
	"github.com/aiwuxian/project-mythos/internal/storage"
)

func main() {
	// .env 仅本地开发使用，缺失不算错误
	_ = godotenv.Load()

	config, err := loadConfig("config.yml")
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	// 初始化数据库
	store, err := storage.New(config.Database.Path)
	if err != nil {
		log.Fatalf("初始化数据库失败: %v", err)
	}
	defer store.Close()

	// 加载静态规则表
	tables, err := services.LoadRuleTables(config.Data.RulesDir)
	if err != nil {
		log.Fatalf("加载规则数据失败: %v", err)
	}
	log.Printf("📚 [规则] 已加载 %d 种武器 / %d 种护甲 / %d 个种族 / %d 个职业",
		len(tables.Weapons), len(tables.Armors), len(tables.Races), len(tables.Classes))

	// 初始化服务
	llmService := services.NewLLMService(config.LLM)
	ruleEngine := services.NewRuleEngine(tables)
	processor := services.NewActionProcessor(ruleEngine)
	prompts := services.NewPromptService()
	metaService := services.NewMetaService(store, ruleEngine, llmService, prompts, config.LLM)
	turnService := services.NewTurnService(llmService, prompts, processor, store, config.Game, config.LLM)
	exportService := services.NewExportService(config.Data.FontPath)
	scenarioService := services.NewScenarioService(llmService, config.LLM)

	// 初始化API处理器
	sessions := api.NewSessionRegistry()
	handler := api.NewHandler(metaService, turnService, exportService, prompts,
		scenarioService, sessions, config.Game)

	// 设置Gin路由
	r := gin.Default()

	// 静态文件
	r.Static("/web", "./web")
	r.GET("/", func(c *gin.Context) {
		c.Redirect(302, "/web/index.html")
	})

	// API路由
	apiGroup := r.Group("/api")
	{
		// 建卡相关
		apiGroup.POST("/characters", handler.CreateCharacter)
		apiGroup.POST("/characters/generate", handler.GenerateCharacter)
		apiGroup.GET("/classes/:name/skills", handler.ClassSkills)
		apiGroup.POST("/scenarios/generate", handler.GenerateScenario)

		// 对局相关
		apiGroup.POST("/games", handler.StartGame)
		apiGroup.POST("/games/load", handler.LoadGame)
		apiGroup.GET("/sessions/:id", handler.GetSession)
		apiGroup.POST("/sessions/:id/turn", handler.TakeTurn)
		apiGroup.POST("/sessions/:id/choice", handler.ResolveChoice)
		apiGroup.POST("/sessions/:id/levelup", handler.LevelUp)

		// 存档相关
		apiGroup.GET("/saves", handler.ListSaves)
		apiGroup.POST("/saves/:id/rename", handler.RenameSave)
		apiGroup.DELETE("/saves/:id", handler.DeleteSave)
		apiGroup.GET("/saves/:id/export", handler.ExportSave)
	}

	// WebSocket流式回合
	r.GET("/ws/sessions/:id", handler.StreamSession)

	// 启动服务器
	addr := fmt.Sprintf("%s:%s", config.Server.Host, config.Server.Port)
	log.Printf("🎲 Project Mythos 启动成功！访问 http://localhost:%s", config.Server.Port)
	log.Printf("📖 你的冒险正等待着开始...")

	if err := r.Run(addr); err != nil {
		log.Fatalf("启动服务器失败: %v", err)
	}
}

// loadConfig 读取yaml配置，再用环境变量覆盖（部署时免改文件）
func loadConfig(path string) (*models.Config, error) {
	var config models.Config

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	if err := env.Parse(&config); err != nil {
		return nil, fmt.Errorf("解析环境变量失败: %w", err)
	}

	if config.Server.Port == "" {
		config.Server.Port = "8080"
	}
	if config.Database.Path == "" {
		config.Database.Path = "data/mythos.db"
	}
	if config.Data.RulesDir == "" {
		config.Data.RulesDir = "data/rules"
	}
	return &config, nil
}
