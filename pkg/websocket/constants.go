package websocket

// 消息类型
const (
	MessageTypeSpeaker    = "speaker"     // 声明说话人信息
	MessageTypeVoiceState = "voice_state" // 语音状态变化
	MessageTypeNote       = "note"        // 文字笔记
	MessageTypePing       = "ping"
	MessageTypePong       = "pong"
	MessageTypeAck        = "ack"
	MessageTypeError      = "error"
)

// 默认配置值
const (
	DefaultReadBufferSize  = 16 * 1024
	DefaultWriteBufferSize = 4 * 1024
	DefaultMaxMessageSize  = 64 * 1024
	DefaultSendBufferSize  = 64
	DefaultPongWait        = 60 // 秒
	DefaultWriteWait       = 10 // 秒
)

// 环境变量配置键
const (
	EnvWebSocketReadBufferSize  = "WEBSOCKET_READ_BUFFER_SIZE"
	EnvWebSocketWriteBufferSize = "WEBSOCKET_WRITE_BUFFER_SIZE"
	EnvWebSocketMaxMessageSize  = "WEBSOCKET_MAX_MESSAGE_SIZE"
	EnvWebSocketSendBufferSize  = "WEBSOCKET_SEND_BUFFER_SIZE"
	EnvWebSocketPongWait        = "WEBSOCKET_PONG_WAIT"
	EnvWebSocketAllowedOrigins  = "WEBSOCKET_ALLOWED_ORIGINS"
)
