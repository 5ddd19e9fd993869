package models

// Config 结构体定义了机器人的所有配置参数
type Config struct {
	IsTestnet  bool      `json:"is_testnet"`  // 是否使用测试网
	DBPath     string    `json:"db_path"`     // 网格注册表数据库路径
	AlertsPath string    `json:"alerts_path"` // 预警定义文件路径
	WSBaseURL  string    `json:"ws_base_url"` // 行情WebSocket基础地址
	LogConfig  LogConfig `json:"log"`

	UpdateIntervalSec int `json:"update_interval_sec"` // 网格对账周期（秒）
	DriftIntervalSec  int `json:"drift_interval_sec"`  // 区间漂移检查周期（秒）
	AlertIntervalSec  int `json:"alert_interval_sec"`  // 预警检查周期（秒）
	CallTimeoutSec    int `json:"call_timeout_sec"`    // 单次交易所调用超时（秒）

	DeadBandRate      float64 `json:"dead_band_rate"`      // 当前价两侧不挂单的死区比例
	ReplacementMargin float64 `json:"replacement_margin"`  // 成交后反向补单的价格偏移比例
	ProfitMarginRate  float64 `json:"profit_margin_rate"`  // 卖单成交时的估算利润率
	DriftThreshold    float64 `json:"drift_threshold"`     // 区间漂移通知阈值
	RangeWindowHours  int     `json:"range_window_hours"`  // 自动区间推导的K线窗口（小时）
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level      string `json:"level"`       // 日志级别, e.g., "debug", "info", "warn", "error"
	Output     string `json:"output"`      // 输出模式: "console", "file", "both"
	File       string `json:"file"`        // 日志文件路径
	MaxSize    int    `json:"max_size"`    // 单个日志文件的最大大小 (MB)
	MaxBackups int    `json:"max_backups"` // 保留的旧日志文件最大数量
	MaxAge     int    `json:"max_age"`     // 旧日志文件的最大保留天数
	Compress   bool   `json:"compress"`    // 是否压缩旧日志文件
}
