package configuration

import (
	"encoding/json"
	"os"
)

type MongoConfig struct {
	Uri                     string `json:"uri"`
	Database                string `json:"database"`
	SessionsCollection      string `json:"sessionsCollection"`
	ConversationsCollection string `json:"conversationsCollection"`
	SocketRoute             string `json:"socketRoute"`
}

type ServerConfig struct {
	AppPort    int `json:"app_port"`
	SocketPort int `json:"socket_port"`
}

type LiveKitConfig struct {
	ApiKey          string `json:"api_key"`
	ApiSecret       string `json:"api_secret"`
	WsUrl           string `json:"ws_url"`
	TokenTTLMinutes int    `json:"token_ttl_minutes"`
}

type Config struct {
	CallDatabase MongoConfig   `json:"mongo"`
	Server       ServerConfig  `json:"server"`
	LiveKit      LiveKitConfig `json:"livekit"`
}

func LoadConfig(config_path string) (*Config, error) {
	file, err := os.ReadFile(config_path)
	if err != nil {
		return nil, err
	}

	var config Config
	err = json.Unmarshal(file, &config)
	if err != nil {
		return nil, err
	}

	return &config, nil
}
