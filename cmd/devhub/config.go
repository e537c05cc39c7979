package main

import (
	"clinic-chat/domain"
	"clinic-chat/internal"
	"clinic-chat/repositories"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Host                 string        `env:"HOST,default=localhost"`
	GrpcPort             int           `env:"GRPC_PORT,default=50051"`
	HttpPort             int           `env:"HTTP_PORT,default=8080"`
	BadgerFilepath       string        `env:"BADGER_FILEPATH,required=true"`
	JwtSecret            string        `env:"JWT_SECRET,required=true"`
	AuthTokenDuration    time.Duration `env:"AUTH_TOKEN_DURATION,default=24h"`
	LogLevel             string        `env:"LOG_LEVEL,default=INFO"`
	ConnectionBufferSize int           `env:"CONNECTION_BUFFER_SIZE,default=64"`
	DeliveryTimeout      time.Duration `env:"DELIVERY_TIMEOUT,default=2s"`
	CharReplacement      string        `env:"CHARACTER_REPLACEMENT,default=*"`
	CensoredWords        string        `env:"CENSORED_WORDS"`
	DemoUsers            string        `env:"DEMO_USERS"`
	LimitMessages        *int          `env:"LIMIT_MESSAGES"`
}

// DemoProfiles parses DEMO_USERS, a comma separated list of
// "id:Role:Display Name[:email]" entries.
func (c Config) DemoProfiles() ([]repositories.Profile, error) {
	var profiles []repositories.Profile
	for _, entry := range internal.SplitList(c.DemoUsers) {
		parts := strings.SplitN(entry, ":", 4)
		if len(parts) < 3 {
			return nil, fmt.Errorf("DEMO_USERS entry %q must be id:Role:Name[:email]", entry)
		}
		profile := repositories.Profile{
			UserID: strings.TrimSpace(parts[0]),
			Role:   domain.Role(strings.TrimSpace(parts[1])),
			Name:   strings.TrimSpace(parts[2]),
		}
		if len(parts) == 4 {
			profile.Email = strings.TrimSpace(parts[3])
		}
		if profile.UserID == "" || !profile.Role.Valid() {
			return nil, fmt.Errorf("DEMO_USERS entry %q has no id or an unknown role", entry)
		}
		profiles = append(profiles, profile)
	}
	return profiles, nil
}
