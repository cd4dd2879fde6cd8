package i18n

import (
	"reflect"
	"sync"
)

// Language type
type Language string

const (
	LangEN Language = "en"
	LangZH Language = "zh"
)

// Messages holds all translatable strings
type Messages struct {
	// System
	Starting          string
	ConfigLoaded      string
	ConfigInvalid     string
	ConfigLoadFailed  string
	UsingDBPath       string
	DBInitFailed      string
	ServerListening   string
	APIServerError    string
	ShuttingDown      string
	ShutdownComplete  string
	SystemMetricsInit string
	LogFileEnabled    string

	// Exchange
	DryRunMode           string
	TestnetGateway       string
	ProductionEnabled    string
	ProductionDisabled   string
	PriceCacheRedis      string
	PriceCacheRedisError string
	PriceCacheMemory     string

	// Loops
	TrailingStarted       string
	FillMonitorStarted    string
	FillMonitorProduction string

	// Notifications
	WebhookEnabled  string
	WebhookDisabled string
	AuditLogStarted string
}

var (
	currentLang Language = LangEN
	mu          sync.RWMutex
	messages    *Messages
)

// English messages
var messagesEN = Messages{
	// System
	Starting:          "Starting BTC grid core...",
	ConfigLoaded:      "Config loaded (Port: %s, Symbol: %s)",
	ConfigInvalid:     "Invalid configuration: %v",
	ConfigLoadFailed:  "Failed to load config: %v",
	UsingDBPath:       "Using DB path: %s",
	DBInitFailed:      "Failed to init database: %v",
	ServerListening:   "Server listening on :%s",
	APIServerError:    "API server error: %v",
	ShuttingDown:      "Shutting down gracefully...",
	ShutdownComplete:  "Shutdown complete",
	SystemMetricsInit: "System metrics initialized",
	LogFileEnabled:    "Logging to %s",

	// Exchange
	DryRunMode:           "Running in DRY-RUN mode (orders will NOT hit exchange)",
	TestnetGateway:       "Testnet gateway ready (%s)",
	ProductionEnabled:    "Production gateway enabled",
	ProductionDisabled:   "Production keys not set; production requests will be rejected",
	PriceCacheRedis:      "Price cache: redis at %s (ttl %s)",
	PriceCacheRedisError: "Redis unreachable (%v); using in-memory price cache",
	PriceCacheMemory:     "Price cache: in-memory (ttl %s)",

	// Loops
	TrailingStarted:       "Trailing monitor started (interval %s)",
	FillMonitorStarted:    "Fill monitor started (interval %s)",
	FillMonitorProduction: "Fill monitor watching the production account",

	// Notifications
	WebhookEnabled:  "Push webhook enabled: %s",
	WebhookDisabled: "NOTIFY_WEBHOOK_URL not set; notifications go to log and websocket only",
	AuditLogStarted: "Audit log started",
}

// Chinese messages
var messagesZH = Messages{
	// System
	Starting:          "啟動 BTC 網格核心...",
	ConfigLoaded:      "設定已載入（埠號：%s，交易對：%s）",
	ConfigInvalid:     "設定無效：%v",
	ConfigLoadFailed:  "讀取設定失敗：%v",
	UsingDBPath:       "使用資料庫路徑：%s",
	DBInitFailed:      "初始化資料庫失敗：%v",
	ServerListening:   "服務監聽於 :%s",
	APIServerError:    "API 伺服器錯誤：%v",
	ShuttingDown:      "正在優雅關閉...",
	ShutdownComplete:  "關閉完成",
	SystemMetricsInit: "系統指標初始化完成",
	LogFileEnabled:    "日誌寫入 %s",

	// Exchange
	DryRunMode:           "DRY-RUN 模式（不會送出真實委託）",
	TestnetGateway:       "測試網通道就緒（%s）",
	ProductionEnabled:    "正式環境通道已啟用",
	ProductionDisabled:   "未設定正式環境金鑰，正式環境請求將被拒絕",
	PriceCacheRedis:      "價格快取：redis %s（有效 %s）",
	PriceCacheRedisError: "無法連線 Redis（%v），改用記憶體價格快取",
	PriceCacheMemory:     "價格快取：記憶體（有效 %s）",

	// Loops
	TrailingStarted:       "追蹤委託監控已啟動（間隔 %s）",
	FillMonitorStarted:    "成交監控已啟動（間隔 %s）",
	FillMonitorProduction: "成交監控使用正式環境帳戶",

	// Notifications
	WebhookEnabled:  "推播 webhook 已啟用：%s",
	WebhookDisabled: "未設定 NOTIFY_WEBHOOK_URL，通知僅寫入日誌與 websocket",
	AuditLogStarted: "稽核紀錄已啟動",
}

func init() {
	messages = &messagesEN
}

// SetLanguage sets the current language
func SetLanguage(lang Language) {
	mu.Lock()
	defer mu.Unlock()

	currentLang = lang
	switch lang {
	case LangZH:
		messages = &messagesZH
	default:
		messages = &messagesEN
	}
}

// GetLanguage returns the current language
func GetLanguage() Language {
	mu.RLock()
	defer mu.RUnlock()
	return currentLang
}

// M returns the current messages
func M() *Messages {
	mu.RLock()
	defer mu.RUnlock()
	return messages
}

// Get returns specific message by key dynamically using reflection
func Get(key string) string {
	msg := M()
	v := reflect.ValueOf(msg).Elem()
	f := v.FieldByName(key)
	if f.IsValid() && f.Kind() == reflect.String {
		return f.String()
	}
	return key
}
