package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"

	defaultServerAddress = "localhost:8080"
	defaultChatAddress   = "localhost:8080"
	defaultLogLevel      = "info"
	defaultEnv           = EnvLocal
	defaultConfigDir     = ".unicampus"
)

type Config struct {
	Env           string `mapstructure:"app_env"`
	ServerAddress string `mapstructure:"server_address"`
	ChatAddress   string `mapstructure:"chat_address"`
	LogLevel      string `mapstructure:"log_level"`
	ConfigDir     string `mapstructure:"config_dir"`
	TokenPath     string `mapstructure:"token_path"`
	DataPath      string `mapstructure:"data_path"`
	EnableTLS     bool   `mapstructure:"enable_tls"`
	CACertPath    string `mapstructure:"ca_cert_path"`

	// Параметры офлайн-сервиса.
	ProbeIntervalSeconds int `mapstructure:"probe_interval_seconds"`
	MaxReplayAttempts    int `mapstructure:"max_replay_attempts"`

	// Параметры чат-транспорта.
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds"`
	SendTimeoutSeconds  int `mapstructure:"send_timeout_seconds"`
}

// MustLoad загружает конфигурацию клиента
func MustLoad() *Config {
	// Определяем путь к .env файлу (относительно места запуска)
	envPath := ".env"
	if _, err := os.Stat(envPath); os.IsNotExist(err) {
		// Пробуем найти .env в родительской директории
		envPath = "../.env"
	}

	// Загружаем .env файл если существует
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			fmt.Printf("Ошибка загрузки .env файла: %v\n", err)
		}
	}

	viper.AutomaticEnv()

	// Устанавливаем значения по умолчанию
	viper.SetDefault("APP_ENV", defaultEnv)
	viper.SetDefault("SERVER_ADDRESS", defaultServerAddress)
	viper.SetDefault("CHAT_ADDRESS", defaultChatAddress)
	viper.SetDefault("LOG_LEVEL", defaultLogLevel)
	viper.SetDefault("CONFIG_DIR", defaultConfigDir)
	viper.SetDefault("ENABLE_TLS", false)
	viper.SetDefault("PROBE_INTERVAL_SECONDS", 15)
	viper.SetDefault("MAX_REPLAY_ATTEMPTS", 3)
	viper.SetDefault("POLL_INTERVAL_SECONDS", 3)
	viper.SetDefault("SEND_TIMEOUT_SECONDS", 10)

	// Получаем домашнюю директорию пользователя
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	// Вычисляем пути для хранения данных
	configDir := viper.GetString("CONFIG_DIR")
	if configDir == defaultConfigDir {
		configDir = filepath.Join(homeDir, configDir)
	}

	// Создаем директории если их нет
	if err := os.MkdirAll(configDir, 0700); err != nil {
		fmt.Printf("Ошибка создания директории конфигурации: %v\n", err)
	}

	config := &Config{
		Env:                  viper.GetString("APP_ENV"),
		ServerAddress:        viper.GetString("SERVER_ADDRESS"),
		ChatAddress:          viper.GetString("CHAT_ADDRESS"),
		LogLevel:             viper.GetString("LOG_LEVEL"),
		ConfigDir:            configDir,
		TokenPath:            filepath.Join(configDir, "session.enc"),
		DataPath:             filepath.Join(configDir, "offline.db"),
		EnableTLS:            viper.GetBool("ENABLE_TLS"),
		CACertPath:           viper.GetString("CA_CERT_PATH"),
		ProbeIntervalSeconds: viper.GetInt("PROBE_INTERVAL_SECONDS"),
		MaxReplayAttempts:    viper.GetInt("MAX_REPLAY_ATTEMPTS"),
		PollIntervalSeconds:  viper.GetInt("POLL_INTERVAL_SECONDS"),
		SendTimeoutSeconds:   viper.GetInt("SEND_TIMEOUT_SECONDS"),
	}

	// Валидация конфигурации
	if err := config.validate(); err != nil {
		panic(fmt.Sprintf("Ошибка конфигурации: %v", err))
	}

	return config
}

func (c *Config) validate() error {
	if c.ServerAddress == "" {
		return fmt.Errorf("server_address не может быть пустым")
	}
	if c.ChatAddress == "" {
		return fmt.Errorf("chat_address не может быть пустым")
	}
	if c.MaxReplayAttempts < 1 {
		return fmt.Errorf("max_replay_attempts должен быть не меньше 1")
	}
	if c.PollIntervalSeconds < 1 {
		return fmt.Errorf("poll_interval_seconds должен быть не меньше 1")
	}
	return nil
}

// ProbeInterval возвращает интервал проверки доступности сети
func (c *Config) ProbeInterval() time.Duration {
	return time.Duration(c.ProbeIntervalSeconds) * time.Second
}

// PollInterval возвращает интервал HTTP-опроса чата
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// SendTimeout возвращает таймаут подтверждения отправки сообщения
func (c *Config) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutSeconds) * time.Second
}

// IsProd проверяет, prod ли окружение
func (c *Config) IsProd() bool {
	return c.Env == EnvProd
}

// IsDev проверяет, dev ли окружение
func (c *Config) IsDev() bool {
	return c.Env == EnvDev
}

// IsLocal проверяет, local ли окружение
func (c *Config) IsLocal() bool {
	return c.Env == EnvLocal || c.Env == ""
}
