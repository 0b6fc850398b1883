package intake

import (
	"github.com/spf13/cobra"
)

// IntakeCmd - родительская команда для просмотра наборов и расписания
var IntakeCmd = &cobra.Command{
	Use:   "intake",
	Short: "Наборы на курсы и расписание",
	Long:  `Просмотр наборов на курсы и расписания занятий. Результаты кэшируются для работы без сети.`,
}
