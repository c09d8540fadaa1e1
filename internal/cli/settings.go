package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Setting keys. Environment overrides use the WASTELCA_ prefix with dots
// replaced by underscores, e.g. WASTELCA_SERVER_URL.
const (
	keyServerURL    = "server.url"
	keyTimeout      = "server.timeout"
	keyToken        = "auth.token"
	keyTokenURL     = "auth.token_url"
	keyClientID     = "auth.client_id"
	keyClientSecret = "auth.client_secret"
	keyScopes       = "auth.scopes"
	keyOutput       = "output"
	keyActor        = "actor"
	keyLogLevel     = "log.level"
	keyLogFormat    = "log.format"
)

const (
	outputTable = "table"
	outputJSON  = "json"
)

// Settings are the resolved CLI options.
type Settings struct {
	ServerURL    string
	Timeout      time.Duration
	Token        string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	Output       string
	Actor        string
	LogLevel     string
	LogFormat    string
}

// newViper returns a viper instance with defaults and env binding. The config
// file is read later, once flags are parsed.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault(keyServerURL, "http://localhost:8080")
	v.SetDefault(keyTimeout, 30*time.Second)
	v.SetDefault(keyOutput, outputTable)
	v.SetDefault(keyLogLevel, "warn")
	v.SetDefault(keyLogFormat, "text")

	v.SetEnvPrefix("WASTELCA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// readConfigFile loads path, or ~/.config/wastelca/config.yaml when path is
// empty. A missing default file is not an error.
func readConfigFile(v *viper.Viper, path string) error {
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
		return nil
	}

	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "wastelca"))
	}
	v.SetConfigName("config")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func loadSettings(v *viper.Viper) (Settings, error) {
	s := Settings{
		ServerURL:    strings.TrimSpace(v.GetString(keyServerURL)),
		Timeout:      v.GetDuration(keyTimeout),
		Token:        strings.TrimSpace(v.GetString(keyToken)),
		TokenURL:     strings.TrimSpace(v.GetString(keyTokenURL)),
		ClientID:     v.GetString(keyClientID),
		ClientSecret: v.GetString(keyClientSecret),
		Scopes:       v.GetStringSlice(keyScopes),
		Output:       strings.ToLower(strings.TrimSpace(v.GetString(keyOutput))),
		Actor:        v.GetString(keyActor),
		LogLevel:     v.GetString(keyLogLevel),
		LogFormat:    v.GetString(keyLogFormat),
	}
	if s.ServerURL == "" {
		return Settings{}, errors.New("server url is required")
	}
	switch s.Output {
	case outputTable, outputJSON:
	default:
		return Settings{}, fmt.Errorf("unknown output format %q (want table or json)", s.Output)
	}
	if s.TokenURL != "" && s.ClientID == "" {
		return Settings{}, errors.New("auth.client_id is required with auth.token_url")
	}
	if s.Actor == "" {
		s.Actor = os.Getenv("USER")
	}
	return s, nil
}
