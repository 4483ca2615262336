package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/aiwuxian/project-mythos/internal/services"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// 单机自托管应用，与前端同源部署
	CheckOrigin: func(r *http.Request) bool { return true },
}

// clientFrame 客户端指令帧
type clientFrame struct {
	Type    string                `json:"type"` // turn 或 choice
	Message string                `json:"message,omitempty"`
	Choice  *services.PendingRoll `json:"choice,omitempty"`
}

// serverFrame 服务端响应帧。delta按到达顺序推送，done携带完整结果。
type serverFrame struct {
	Type   string               `json:"type"` // delta / done / error
	Text   string               `json:"text,omitempty"`
	Result *services.TurnResult `json:"result,omitempty"`
	Error  string               `json:"error,omitempty"`
}

// StreamSession WebSocket流式回合端点。
// 所有帧都在读循环的单协程里写出，避免并发写连接。
func (h *Handler) StreamSession(c *gin.Context) {
	session, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("⚠️ [WS] 升级连接失败: %v", err)
		return
	}
	defer conn.Close()

	for {
		var frame clientFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("⚠️ [WS] 连接异常断开: %v", err)
			}
			return
		}

		onDelta := func(text string) {
			conn.WriteJSON(serverFrame{Type: "delta", Text: text})
		}

		var result *services.TurnResult
		switch frame.Type {
		case "turn":
			message := frame.Message
			if message == "" {
				if len(session.History) > 0 {
					conn.WriteJSON(serverFrame{Type: "error", Error: "行动内容不能为空"})
					continue
				}
				message = h.prompts.BuildOpening(&session.Info)
			}
			result, err = h.turns.RunTurn(c.Request.Context(), session, message, onDelta)
		case "choice":
			if frame.Choice == nil {
				conn.WriteJSON(serverFrame{Type: "error", Error: "缺少choice字段"})
				continue
			}
			result, err = h.turns.ResolveChoice(c.Request.Context(), session, *frame.Choice, onDelta)
		default:
			conn.WriteJSON(serverFrame{Type: "error", Error: "未知指令类型: " + frame.Type})
			continue
		}

		if err != nil {
			conn.WriteJSON(serverFrame{Type: "error", Error: err.Error()})
			continue
		}
		conn.WriteJSON(serverFrame{Type: "done", Result: result})
	}
}
