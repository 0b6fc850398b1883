// cmd/client/cmd/root.go
package cmd

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/exp/slog"

	"unicampus/cmd/client/cmd/types"
	"unicampus/internal/app/client"
	"unicampus/internal/app/client/config"
	"unicampus/internal/utils/logger"

	"github.com/spf13/cobra"
)

var (
	cfg       *config.Config
	log       *slog.Logger
	app       *client.App
	debug     bool
	serverURL string
	chatURL   string
)

var rootCmd = &cobra.Command{
	Use:   "unicampus",
	Short: "UniCampus - студенческий клиент университетской платформы",
	Long: `UniCampus — клиентское приложение студента университета:
наборы на курсы, расписание, объявления, поддержка и чат.

Клиент рассчитан на нестабильную сеть: успешные чтения кэшируются
локально, неудавшиеся записи откладываются и повторяются автоматически
при восстановлении соединения.`,
	PersistentPreRunE: setupApp,
	PersistentPostRun: teardownApp,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка: %v\n", err)
		os.Exit(1)
	}
}

func setupApp(cmd *cobra.Command, _ []string) error {
	// Загружаем конфигурацию
	cfg = config.MustLoad()

	// Переопределяем настройки из флагов командной строки
	if serverURL != "" {
		cfg.ServerAddress = serverURL
	}
	if chatURL != "" {
		cfg.ChatAddress = chatURL
	}
	if debug {
		cfg.Env = config.EnvLocal
	}

	// Настраиваем логгер
	log = logger.New(cfg.Env)

	// Создаем приложение
	var err error
	app, err = client.New(cfg, log)
	if err != nil {
		return fmt.Errorf("ошибка инициализации приложения: %w", err)
	}

	app.Start()

	cmd.SetContext(context.WithValue(cmd.Context(), types.ClientAppKey, app))
	return nil
}

func teardownApp(_ *cobra.Command, _ []string) {
	if app != nil {
		app.Shutdown()
	}
}

func init() {
	cobra.OnInitialize()

	// Глобальные флаги
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "включить отладочный режим")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "адрес сервера UniCampus")
	rootCmd.PersistentFlags().StringVar(&chatURL, "chat", "", "адрес чат-сервера")

	// Команды добавляются в init() соответствующих файлов
}
