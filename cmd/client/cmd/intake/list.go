// cmd/client/cmd/intake/list.go
package intake

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"unicampus/cmd/client/cmd/types"
	"unicampus/internal/app/client"
)

var (
	listCourse string
	listYear   string
	listPage   string
	listFormat string
)

var ListCmd = &cobra.Command{
	Use:   "list",
	Short: "Список наборов на курсы",
	Long: `Просмотр наборов на курсы с фильтрацией по курсу и году.

Последний успешный ответ сервера кэшируется: без сети команда
показывает закэшированные данные.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, ok := cmd.Context().Value(types.ClientAppKey).(*client.App)
		if !ok || app == nil {
			return fmt.Errorf("приложение не инициализировано")
		}

		filters := map[string]string{}
		if listCourse != "" {
			filters["course"] = listCourse
		}
		if listYear != "" {
			filters["year"] = listYear
		}
		if listPage != "" {
			filters["page"] = listPage
		}

		intakes, err := app.Intakes(cmd.Context(), filters)
		if err != nil {
			return fmt.Errorf("ошибка получения наборов: %w", err)
		}

		switch listFormat {
		case "json":
			return printJSON(intakes)
		default:
			return printIntakesTable(intakes)
		}
	},
}

func printIntakesTable(intakes []client.Intake) error {
	if len(intakes) == 0 {
		fmt.Println("Наборы не найдены")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID\tКурс\tНазвание\tГод\tМест\tЗаписано\tНачало\t\n")
	fmt.Fprintf(w, "---\t---\t---\t---\t---\t---\t---\t\n")

	for _, in := range intakes {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%d\t%s\t\n",
			in.ID,
			in.Course,
			in.Title,
			in.Year,
			in.Capacity,
			in.Enrolled,
			in.StartsAt.Format("2006-01-02"),
		)
	}

	return w.Flush()
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func init() {
	ListCmd.Flags().StringVar(&listCourse, "course", "", "фильтр по коду курса")
	ListCmd.Flags().StringVar(&listYear, "year", "", "фильтр по году")
	ListCmd.Flags().StringVar(&listPage, "page", "", "страница результатов")
	ListCmd.Flags().StringVar(&listFormat, "format", "table", "формат вывода (table, json)")
}
