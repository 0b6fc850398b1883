// cmd/client/cmd/announce/announce.go
package announce

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"unicampus/cmd/client/cmd/types"
	"unicampus/internal/app/client"
)

var AnnounceCmd = &cobra.Command{
	Use:   "announcements",
	Short: "Объявления университета",
	Long:  `Просмотр объявлений университета. Без сети показываются закэшированные объявления.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, ok := cmd.Context().Value(types.ClientAppKey).(*client.App)
		if !ok || app == nil {
			return fmt.Errorf("приложение не инициализировано")
		}

		announcements, err := app.Announcements(cmd.Context())
		if err != nil {
			return fmt.Errorf("ошибка получения объявлений: %w", err)
		}

		if len(announcements) == 0 {
			fmt.Println("Объявлений нет")
			return nil
		}

		for _, a := range announcements {
			color.Cyan("%s", a.Title)
			fmt.Printf("%s | %s\n", a.PublishedAt.Format("02.01.2006 15:04"), a.Author)
			fmt.Println(a.Body)
			fmt.Println()
		}

		return nil
	},
}
