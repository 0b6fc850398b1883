// cmd/client/cmd/support/support.go
package support

import (
	"github.com/spf13/cobra"
)

// SupportCmd - родительская команда службы поддержки
var SupportCmd = &cobra.Command{
	Use:   "support",
	Short: "Служба поддержки",
	Long:  `Создание и просмотр заявок в службу поддержки университета.`,
}
