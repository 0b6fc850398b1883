// cmd/client/cmd/auth/register.go
package auth

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"unicampus/cmd/client/cmd/types"
	"unicampus/internal/app/client"
)

var (
	firstName string
	lastName  string
)

var RegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Зарегистрировать учетную запись",
	Long:  `Регистрация новой учетной записи студента на сервере UniCampus.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, ok := cmd.Context().Value(types.ClientAppKey).(*client.App)
		if !ok || app == nil {
			return fmt.Errorf("приложение не инициализировано")
		}

		fmt.Println("=== Регистрация ===")
		fmt.Println()

		fmt.Print("Логин: ")
		var login string
		_, _ = fmt.Scanln(&login)

		fmt.Print("Пароль: ")
		password, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return fmt.Errorf("ошибка чтения пароля: %w", err)
		}
		fmt.Println()

		fmt.Print("Повторите пароль: ")
		passwordConfirm, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return fmt.Errorf("ошибка чтения пароля: %w", err)
		}
		fmt.Println()

		if string(password) != string(passwordConfirm) {
			return fmt.Errorf("пароли не совпадают")
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		if err := app.Register(ctx, login, string(password), firstName, lastName); err != nil {
			return fmt.Errorf("ошибка регистрации: %w", err)
		}

		fmt.Println()
		color.Green("Регистрация завершена!")
		fmt.Println("Теперь выполните вход: unicampus auth login")
		return nil
	},
}

func init() {
	RegisterCmd.Flags().StringVar(&firstName, "first-name", "", "имя")
	RegisterCmd.Flags().StringVar(&lastName, "last-name", "", "фамилия")
}
