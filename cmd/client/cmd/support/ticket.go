// cmd/client/cmd/support/ticket.go
package support

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"unicampus/cmd/client/cmd/types"
	"unicampus/internal/app/client"
)

var (
	ticketSubject  string
	ticketBody     string
	ticketCategory string
)

var CreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Создать заявку",
	Long: `Создание заявки в службу поддержки.

Без сети заявка откладывается в локальную очередь и отправляется
автоматически при восстановлении соединения.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, ok := cmd.Context().Value(types.ClientAppKey).(*client.App)
		if !ok || app == nil {
			return fmt.Errorf("приложение не инициализировано")
		}

		req := client.TicketRequest{
			Subject:  ticketSubject,
			Body:     ticketBody,
			Category: ticketCategory,
		}

		err := app.CreateTicket(cmd.Context(), req)
		if errors.Is(err, client.ErrQueued) {
			color.Yellow("Нет сети: заявка отложена и будет отправлена автоматически")
			return nil
		}
		if err != nil {
			return fmt.Errorf("ошибка создания заявки: %w", err)
		}

		color.Green("Заявка отправлена")
		return nil
	},
}

var ListCmd = &cobra.Command{
	Use:   "list",
	Short: "Мои заявки",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, ok := cmd.Context().Value(types.ClientAppKey).(*client.App)
		if !ok || app == nil {
			return fmt.Errorf("приложение не инициализировано")
		}

		tickets, err := app.MyTickets(cmd.Context())
		if err != nil {
			return fmt.Errorf("ошибка получения заявок: %w", err)
		}

		if len(tickets) == 0 {
			fmt.Println("Заявок нет")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "ID\tТема\tСтатус\tСоздана\t\n")
		fmt.Fprintf(w, "---\t---\t---\t---\t\n")

		for _, t := range tickets {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t\n",
				t.ID,
				t.Subject,
				t.Status,
				t.CreatedAt.Format("02.01.2006"),
			)
		}

		return w.Flush()
	},
}

func init() {
	CreateCmd.Flags().StringVar(&ticketSubject, "subject", "", "тема заявки")
	CreateCmd.Flags().StringVar(&ticketBody, "body", "", "текст заявки")
	CreateCmd.Flags().StringVar(&ticketCategory, "category", "", "категория заявки")
	_ = CreateCmd.MarkFlagRequired("subject")
	_ = CreateCmd.MarkFlagRequired("body")
}
