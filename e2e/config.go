package e2e

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// E2E_HUB_ADDR and E2E_API_URL target a running dev hub; when empty an
	// in-process hub is started for the suite.
	HubAddr string `envconfig:"E2E_HUB_ADDR"`
	ApiURL  string `envconfig:"E2E_API_URL"`
	// E2E_JWT_SECRET must match the JWT_SECRET of the targeted hub
	JwtSecret string `envconfig:"E2E_JWT_SECRET" default:"e2e-secret"`
	// E2E_DEBUG_JSON dumps every unary hub call as JSON
	DebugJSON bool `envconfig:"E2E_DEBUG_JSON" default:"false"`
	// E2E_COLOURS enables colorized output for better log readability
	Colours bool `envconfig:"E2E_COLOURS" default:"true"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
