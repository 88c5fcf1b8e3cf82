package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/opencli/daemon/pkg/auth"
)

// Session is one WebSocket connection. Before authentication it is anonymous
// and only the auth message is honored; after authentication it is bound to
// its device id in the manager's map.
type Session struct {
	deviceID string
	conn     *websocket.Conn
	ctx      context.Context
	cancel   context.CancelFunc

	// Serializes writes: task goroutines, broadcasts, and the read loop all
	// send on the same socket.
	writeMu      sync.Mutex
	writeTimeout time.Duration

	authed bool
}

// clientMessage is the union of all inbound frame shapes.
type clientMessage struct {
	Type      string         `json:"type"`
	DeviceID  string         `json:"device_id"`
	Timestamp int64          `json:"timestamp"`
	Token     string         `json:"token"`
	TaskID    string         `json:"task_id"`
	TaskType  string         `json:"task_type"`
	TaskData  map[string]any `json:"task_data"`
	Message   string         `json:"message"`
}

// HandleConnection runs the read loop for one connection. Blocks until the
// connection closes.
func (m *Manager) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(parentCtx)
	s := &Session{
		conn:         conn,
		ctx:          ctx,
		cancel:       cancel,
		writeTimeout: m.writeTimeout,
	}
	defer func() {
		if s.authed {
			m.evict(s)
		} else {
			s.close(websocket.StatusNormalClosure, "")
		}
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.sendJSON(m, map[string]any{"type": "error", "message": "Invalid JSON"})
			continue
		}
		m.handleMessage(ctx, s, &msg)
	}
}

func (m *Manager) handleMessage(ctx context.Context, s *Session, msg *clientMessage) {
	if msg.Type == "auth" {
		m.handleAuth(s, msg)
		return
	}
	if !s.authed {
		s.sendJSON(m, map[string]any{"type": "error", "message": "Not authenticated"})
		return
	}

	switch msg.Type {
	case "heartbeat":
		s.sendJSON(m, map[string]any{
			"type":      "heartbeat_ack",
			"timestamp": time.Now().UnixMilli(),
		})
	case "submit_task":
		m.handleSubmitTask(ctx, s, msg)
	case "cancel_task":
		m.MarkCancelled(msg.TaskID)
		s.sendJSON(m, map[string]any{"type": "task_cancelled", "task_id": msg.TaskID})
	case "chat":
		// Placeholder conversational echo; real model routing is a future
		// extension.
		s.sendJSON(m, map[string]any{"type": "chunk", "content": "Echo: " + msg.Message})
		s.sendJSON(m, map[string]any{"type": "done"})
	default:
		s.sendJSON(m, map[string]any{"type": "error", "message": "Unknown type: " + msg.Type})
	}
}

func (m *Manager) handleAuth(s *Session, msg *clientMessage) {
	if msg.DeviceID == "" || msg.Timestamp == 0 || msg.Token == "" {
		s.sendJSON(m, map[string]any{"type": "error", "message": "Missing authentication fields"})
		return
	}
	if !auth.VerifyToken(msg.DeviceID, msg.Timestamp, msg.Token, m.secret) {
		m.logger.Warn("authentication failed", "device_id", msg.DeviceID)
		s.sendJSON(m, map[string]any{"type": "auth_failed", "message": "Invalid authentication token"})
		return
	}

	s.deviceID = msg.DeviceID
	s.authed = true
	m.register(s)
	m.logger.Info("session authenticated", "device_id", msg.DeviceID)

	s.sendJSON(m, map[string]any{
		"type":        "auth_success",
		"device_id":   msg.DeviceID,
		"server_time": time.Now().UnixMilli(),
	})
}

func (m *Manager) handleSubmitTask(ctx context.Context, s *Session, msg *clientMessage) {
	taskID := msg.TaskID
	if taskID == "" {
		taskID = fmt.Sprintf("task_%d", time.Now().UnixMilli())
	}
	taskType := msg.TaskType
	data := msg.TaskData
	if data == nil {
		data = map[string]any{}
	}

	// Every device sees activity from every other device.
	m.Broadcast(map[string]any{
		"type":      "task_submitted",
		"task_type": taskType,
		"task_data": data,
		"device_id": s.deviceID,
		"task_id":   taskID,
	})
	m.recordEvent(ctx, "task_submitted", map[string]any{
		"task_id": taskID, "task_type": taskType, "device_id": s.deviceID,
	})

	s.sendJSON(m, map[string]any{
		"type":      "task_update",
		"task_id":   taskID,
		"task_type": taskType,
		"status":    "running",
	})

	// Execution happens off the read loop so the session keeps serving
	// heartbeats and cancellations while the task runs.
	go m.runTask(s, taskID, taskType, data)
}

func (m *Manager) runTask(s *Session, taskID, taskType string, data map[string]any) {
	// The task outlives the request frame but not the connection.
	ctx := s.ctx

	started := time.Now()
	result := m.registry.ExecuteTaskWithProgress(ctx, taskType, data, func(update map[string]any) {
		progress := map[string]any{
			"type":      "task_update",
			"task_id":   taskID,
			"task_type": taskType,
			"status":    "running",
		}
		for k, v := range update {
			progress[k] = v
		}
		s.sendJSON(m, progress)
	})

	// Terminal status follows the result alone; a cancel request only stops
	// the pipeline engine, it does not relabel a finished task.
	status := "completed"
	if !result.OK() {
		status = "failed"
	}
	s.sendJSON(m, map[string]any{
		"type":      "task_update",
		"task_id":   taskID,
		"task_type": taskType,
		"status":    status,
		"result":    map[string]any(result),
	})
	m.recordEvent(ctx, "task_"+status, map[string]any{
		"task_id": taskID, "task_type": taskType,
		"device_id": s.deviceID, "duration_ms": time.Since(started).Milliseconds(),
	})
	m.ClearCancelled(taskID)
}

func (s *Session) sendJSON(m *Manager, v map[string]any) {
	data, err := json.Marshal(v)
	if err != nil {
		m.logger.Warn("failed to marshal message", "device_id", s.deviceID, "error", err)
		return
	}
	if err := s.sendRaw(data); err != nil {
		m.logger.Warn("failed to send message", "device_id", s.deviceID, "error", err)
	}
}

func (s *Session) sendRaw(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	writeCtx, cancel := context.WithTimeout(s.ctx, s.writeTimeout)
	defer cancel()
	return s.conn.Write(writeCtx, websocket.MessageText, data)
}

func (s *Session) close(code websocket.StatusCode, reason string) {
	s.cancel()
	_ = s.conn.Close(code, reason)
}
