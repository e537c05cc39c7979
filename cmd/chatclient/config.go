package main

import "time"

type Config struct {
	HubAddr         string        `env:"CHAT_HUB_ADDR,default=localhost:50051"`
	ApiURL          string        `env:"CHAT_API_URL,default=http://localhost:8080"`
	Token           string        `env:"CHAT_TOKEN,required=true"`
	LogLevel        string        `env:"LOG_LEVEL,default=WARN"`
	ConnectTimeout  time.Duration `env:"CONNECT_TIMEOUT,default=10s"`
	HistoryTimeout  time.Duration `env:"HISTORY_TIMEOUT,default=10s"`
	RefreshTimeout  time.Duration `env:"REFRESH_TIMEOUT,default=10s"`
	ReconnectWindow time.Duration `env:"RECONNECT_WINDOW,default=2m"`
	DebugHubCalls   bool          `env:"DEBUG_HUB_CALLS,default=false"`
}
