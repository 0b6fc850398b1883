// cmd/client/cmd/init.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"unicampus/cmd/client/cmd/announce"
	"unicampus/cmd/client/cmd/auth"
	"unicampus/cmd/client/cmd/chat"
	"unicampus/cmd/client/cmd/intake"
	"unicampus/cmd/client/cmd/offline"
	"unicampus/cmd/client/cmd/support"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Состояние клиента",
	RunE: func(cmd *cobra.Command, _ []string) error {
		fmt.Printf("Сервер: %s\n", cfg.ServerAddress)
		fmt.Printf("Чат:    %s\n", cfg.ChatAddress)

		if app.IsAuthenticated() {
			fmt.Printf("Пользователь: %s\n", app.UserLogin())
		} else {
			fmt.Println("Пользователь: не выполнен вход")
		}

		if err := app.CheckConnection(); err != nil {
			fmt.Printf("Соединение: недоступно (%v)\n", err)
		} else {
			fmt.Println("Соединение: установлено")
		}

		return nil
	},
}

func init() {
	// Команды учетной записи
	rootCmd.AddCommand(auth.AuthCmd)
	auth.AuthCmd.AddCommand(auth.RegisterCmd)
	auth.AuthCmd.AddCommand(auth.LoginCmd)
	auth.AuthCmd.AddCommand(auth.LogoutCmd)

	// Наборы и расписание
	rootCmd.AddCommand(intake.IntakeCmd)
	intake.IntakeCmd.AddCommand(intake.ListCmd)
	intake.IntakeCmd.AddCommand(intake.ClassesCmd)

	// Объявления
	rootCmd.AddCommand(announce.AnnounceCmd)

	// Поддержка
	rootCmd.AddCommand(support.SupportCmd)
	support.SupportCmd.AddCommand(support.CreateCmd)
	support.SupportCmd.AddCommand(support.ListCmd)

	// Офлайн-очередь
	rootCmd.AddCommand(offline.OfflineCmd)
	offline.OfflineCmd.AddCommand(offline.StatusCmd)
	offline.OfflineCmd.AddCommand(offline.QueueCmd)
	offline.OfflineCmd.AddCommand(offline.ReplayCmd)

	// Чат
	rootCmd.AddCommand(chat.ChatCmd)
	chat.ChatCmd.AddCommand(chat.RoomsCmd)
	chat.ChatCmd.AddCommand(chat.JoinCmd)
	chat.ChatCmd.AddCommand(chat.SendCmd)

	rootCmd.AddCommand(statusCmd)
}
