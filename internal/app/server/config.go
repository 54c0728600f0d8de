package server

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/livechess-gg/livechess/internal/session"
)

type Config struct {
	Port        string
	IdleTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// AuthSecret signs player tokens. Empty enables the insecure
	// playerId query parameter, for local development only.
	AuthSecret string

	CleanupInterval time.Duration
	PollInterval    time.Duration

	Policy session.Policy
}

func NewConfig() Config {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs/server")
	viper.AddConfigPath(".")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			panic(fmt.Errorf("fatal error config file: %s", err))
		}
	}

	return Config{
		Port:            viper.GetString("Server.Port"),
		IdleTimeout:     viper.GetDuration("Server.IdleTimeout"),
		RedisAddr:       viper.GetString("Redis.Addr"),
		RedisPassword:   viper.GetString("Redis.Password"),
		RedisDB:         viper.GetInt("Redis.DB"),
		AuthSecret:      viper.GetString("Auth.Secret"),
		CleanupInterval: viper.GetDuration("Server.CleanupInterval"),
		PollInterval:    viper.GetDuration("Server.PollInterval"),
		Policy: session.Policy{
			ResumeRequestTTL:   viper.GetDuration("Policy.ResumeRequestTTL"),
			SameRequesterRetry: viper.GetDuration("Policy.SameRequesterRetry"),
			OpponentOverride:   viper.GetDuration("Policy.OpponentOverride"),
			StalenessCeiling:   viper.GetDuration("Policy.StalenessCeiling"),
			ResumeGrace:        viper.GetDuration("Policy.ResumeGrace"),
			OnlineWindow:       viper.GetDuration("Policy.OnlineWindow"),
			CancelTimeout:      viper.GetDuration("Policy.CancelTimeout"),
			SessionTTL:         viper.GetDuration("Policy.SessionTTL"),
		},
	}
}

func setDefaults() {
	viper.SetDefault("Server.Port", "8080")
	viper.SetDefault("Server.IdleTimeout", "5m")
	viper.SetDefault("Server.CleanupInterval", "1m")
	viper.SetDefault("Server.PollInterval", "5s")
	viper.SetDefault("Redis.Addr", "localhost:6379")
	viper.SetDefault("Redis.Password", "")
	viper.SetDefault("Redis.DB", 0)
	viper.SetDefault("Auth.Secret", "")

	def := session.DefaultPolicy()
	viper.SetDefault("Policy.ResumeRequestTTL", def.ResumeRequestTTL)
	viper.SetDefault("Policy.SameRequesterRetry", def.SameRequesterRetry)
	viper.SetDefault("Policy.OpponentOverride", def.OpponentOverride)
	viper.SetDefault("Policy.StalenessCeiling", def.StalenessCeiling)
	viper.SetDefault("Policy.ResumeGrace", def.ResumeGrace)
	viper.SetDefault("Policy.OnlineWindow", def.OnlineWindow)
	viper.SetDefault("Policy.CancelTimeout", def.CancelTimeout)
	viper.SetDefault("Policy.SessionTTL", def.SessionTTL)
}
