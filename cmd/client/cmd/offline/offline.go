// cmd/client/cmd/offline/offline.go
package offline

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"unicampus/cmd/client/cmd/types"
	"unicampus/internal/app/client"
)

// OfflineCmd - родительская команда для просмотра офлайн-состояния
var OfflineCmd = &cobra.Command{
	Use:   "offline",
	Short: "Офлайн-очередь и состояние сети",
	Long:  `Просмотр состояния сети, отложенных запросов и ручной запуск повтора.`,
}

var StatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Состояние сети и длина очереди",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, ok := cmd.Context().Value(types.ClientAppKey).(*client.App)
		if !ok || app == nil {
			return fmt.Errorf("приложение не инициализировано")
		}

		svc := app.Offline()

		if svc.IsConnected() {
			color.Green("Сеть: доступна")
		} else {
			color.Red("Сеть: недоступна")
		}

		fmt.Printf("Отложенных запросов: %d\n", svc.QueueLength(cmd.Context()))
		return nil
	},
}

var QueueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Список отложенных запросов",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, ok := cmd.Context().Value(types.ClientAppKey).(*client.App)
		if !ok || app == nil {
			return fmt.Errorf("приложение не инициализировано")
		}

		pending := app.Offline().PendingRequests(cmd.Context())
		if len(pending) == 0 {
			fmt.Println("Очередь пуста")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "Метод\tURL\tОтложен\tПопыток\t\n")
		fmt.Fprintf(w, "---\t---\t---\t---\t\n")

		for _, req := range pending {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t\n",
				req.Method,
				req.URL,
				req.EnqueuedAt.Format("02.01 15:04:05"),
				req.Attempts,
			)
		}

		return w.Flush()
	},
}

var ReplayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Повторить отложенные запросы сейчас",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, ok := cmd.Context().Value(types.ClientAppKey).(*client.App)
		if !ok || app == nil {
			return fmt.Errorf("приложение не инициализировано")
		}

		svc := app.Offline()

		before := svc.QueueLength(cmd.Context())
		if before == 0 {
			fmt.Println("Очередь пуста")
			return nil
		}

		svc.ProcessQueue(cmd.Context())

		after := svc.QueueLength(cmd.Context())
		fmt.Printf("Повторено запросов: %d, осталось в очереди: %d\n", before-after, after)
		return nil
	},
}
