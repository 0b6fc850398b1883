// cmd/client/cmd/types/types.go
package types

// ContextKey - тип ключей контекста команд
type ContextKey string

// ClientAppKey - ключ, по которому команды достают приложение из контекста
const ClientAppKey ContextKey = "app"
