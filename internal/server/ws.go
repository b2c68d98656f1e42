package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"k4ai/pkg/contract"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16 * 1024,
	// 浏览器前端可能与 API 不同源
	CheckOrigin: func(r *http.Request) bool { return true },
}

// clientMessage: 客户端可发送的控制消息。
type clientMessage struct {
	Action string `json:"action"`
}

// handleEvents 以 WebSocket 推送运行事件：先按序重放已有 result/failure，
// 再实时推送；progress 按连接限速，只发送最新一条；终态事件后正常关闭。
func (s *Server) handleEvents(c *gin.Context) {
	id := c.Param("id")
	e, err := s.lookup(id)
	if err != nil {
		s.fail(c, statusOf(err), err, id)
		return
	}
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已写出错误响应
		s.opts.Logger.WarnKV("server", "websocket upgrade failed", id, map[string]string{"error": err.Error()})
		return
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go s.readControl(ctx, cancel, ws, e)

	limiter := rate.NewLimiter(rate.Limit(s.opts.EventRate), s.opts.EventBurst)
	interval := time.Duration(float64(time.Second) / s.opts.EventRate)
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	next := 0
	var sentProg uint64
	for {
		v := e.hub.since(next)
		for i := range v.events {
			if err := write(ws, v.events[i]); err != nil {
				return
			}
		}
		next += len(v.events)
		// 被限速的 progress 在下一个令牌周期重试，保证最终送达最新值
		var retry <-chan time.Time
		if v.prog != nil && v.progSeq != sentProg && !v.done {
			if limiter.Allow() {
				if err := write(ws, *v.prog); err != nil {
					return
				}
				sentProg = v.progSeq
			} else {
				retry = time.After(interval)
			}
		}
		if v.done {
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"),
				time.Now().Add(writeWait))
			return
		}
		select {
		case <-v.wait:
		case <-ping.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-retry:
		case <-ctx.Done():
			return
		}
	}
}

func write(ws *websocket.Conn, ev contract.Event) error {
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteJSON(ev)
}

// readControl 读取客户端消息：{"action":"stop"} 停止运行；读错误（含关闭帧）结束连接。
func (s *Server) readControl(ctx context.Context, cancel context.CancelFunc, ws *websocket.Conn, e *entry) {
	defer cancel()
	ws.SetReadLimit(4096)
	for {
		var msg clientMessage
		if err := ws.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Action {
		case "stop":
			go e.run.Stop()
		}
		if ctx.Err() != nil {
			return
		}
	}
}
