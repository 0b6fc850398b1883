// cmd/client/cmd/intake/classes.go
package intake

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"unicampus/cmd/client/cmd/types"
	"unicampus/internal/app/client"
)

var ClassesCmd = &cobra.Command{
	Use:   "classes <intake-id>",
	Short: "Расписание занятий набора",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, ok := cmd.Context().Value(types.ClientAppKey).(*client.App)
		if !ok || app == nil {
			return fmt.Errorf("приложение не инициализировано")
		}

		intakeID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("неверный идентификатор набора: %s", args[0])
		}

		classes, err := app.IntakeClasses(cmd.Context(), intakeID)
		if err != nil {
			return fmt.Errorf("ошибка получения расписания: %w", err)
		}

		if len(classes) == 0 {
			fmt.Println("Занятия не найдены")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "Название\tПреподаватель\tАудитория\tНачало\tКонец\t\n")
		fmt.Fprintf(w, "---\t---\t---\t---\t---\t\n")

		for _, c := range classes {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t\n",
				c.Title,
				c.Lecturer,
				c.Room,
				c.StartsAt.Format("02.01 15:04"),
				c.EndsAt.Format("15:04"),
			)
		}

		return w.Flush()
	},
}
