// cmd/client/cmd/chat/chat.go
package chat

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"unicampus/cmd/client/cmd/types"
	"unicampus/internal/app/client"
	chatclient "unicampus/internal/app/client/chat"
)

// ChatCmd - родительская команда чата
var ChatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Чат с группами и преподавателями",
	Long: `Realtime-чат университетской платформы.

Команда join держит живое websocket-соединение с комнатой и при его
потере сама переходит на периодический HTTP-опрос.`,
}

var RoomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "Список комнат",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, ok := cmd.Context().Value(types.ClientAppKey).(*client.App)
		if !ok || app == nil {
			return fmt.Errorf("приложение не инициализировано")
		}

		rooms, err := app.Rooms(cmd.Context())
		if err != nil {
			return fmt.Errorf("ошибка получения комнат: %w", err)
		}

		if len(rooms) == 0 {
			fmt.Println("Комнат нет")
			return nil
		}

		for _, r := range rooms {
			kind := "группа"
			if r.Direct {
				kind = "личная"
			}
			fmt.Printf("%s\t%s\t(%s)\n", r.ID, r.Name, kind)
		}
		return nil
	},
}

var JoinCmd = &cobra.Command{
	Use:   "join <room-id>",
	Short: "Войти в комнату",
	Long: `Интерактивный режим: входящие сообщения печатаются на экран,
введенные строки отправляются в комнату. Выход - /quit.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, ok := cmd.Context().Value(types.ClientAppKey).(*client.App)
		if !ok || app == nil {
			return fmt.Errorf("приложение не инициализировано")
		}

		roomID := args[0]
		socket := app.RoomSocket()

		socket.OnMessage(func(msg chatclient.Message) {
			name := msg.Sender.Username
			if name == "" {
				name = "я"
			}
			fmt.Printf("%s %s: %s\n",
				msg.CreatedAt.Format("15:04"),
				color.CyanString(name),
				msg.Content,
			)
		})
		socket.OnTyping(func(ev chatclient.TypingEvent) {
			if ev.Typing {
				color.Yellow("%s печатает...", ev.Username)
			}
		})
		socket.OnMembership(func(ev chatclient.MembershipEvent) {
			if ev.Joined {
				color.Yellow("%s вошел в комнату", ev.Username)
			} else {
				color.Yellow("%s покинул комнату", ev.Username)
			}
		})
		socket.OnConnectionChange(func(connected bool) {
			if connected {
				color.Green("— подключено —")
			} else {
				color.Red("— соединение потеряно —")
			}
		})
		socket.OnError(func(err error) {
			log := cmd.ErrOrStderr()
			fmt.Fprintf(log, "ошибка чата: %v\n", err)
		})

		if err := socket.Connect(cmd.Context(), roomID); err != nil {
			return fmt.Errorf("ошибка подключения к комнате: %w", err)
		}
		defer socket.Disconnect()

		fmt.Printf("Комната %s. Введите сообщение, /quit для выхода.\n", roomID)

		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if line == "/quit" {
				break
			}

			if err := socket.SendMessage(cmd.Context(), line); err != nil {
				color.Red("не отправлено: %v", err)
			}
		}

		return scanner.Err()
	},
}

var SendCmd = &cobra.Command{
	Use:   "send <room-id> <text>",
	Short: "Отправить сообщение с подтверждением",
	Long:  `Отправляет одно сообщение через мультиплексированное соединение и ждет подтверждения сервера.`,
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, ok := cmd.Context().Value(types.ClientAppKey).(*client.App)
		if !ok || app == nil {
			return fmt.Errorf("приложение не инициализировано")
		}

		roomID := args[0]
		content := strings.Join(args[1:], " ")

		manager := app.ChatManager()
		if err := app.ConnectChat(cmd.Context()); err != nil {
			return fmt.Errorf("ошибка подключения к чату: %w", err)
		}
		defer manager.Disconnect()

		if err := manager.JoinRoom(cmd.Context(), roomID); err != nil {
			return fmt.Errorf("ошибка входа в комнату: %w", err)
		}

		msg, err := manager.SendMessage(cmd.Context(), roomID, content)
		if err != nil {
			return fmt.Errorf("ошибка отправки: %w", err)
		}

		color.Green("Доставлено (id=%d)", msg.ID)
		return nil
	},
}
