// internal/app/client/crypto/session.go
package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

const sessionFilePermissions = 0600

// ErrNoSession - сохраненной сессии нет
var ErrNoSession = errors.New("сохраненная сессия не найдена")

// sessionContainer - формат файла сессии на диске
type sessionContainer struct {
	Version   int       `json:"version"`
	Salt      string    `json:"salt"` // hex encoded salt
	Data      string    `json:"data"` // hex encoded encrypted token
	CreatedAt time.Time `json:"created_at"`
}

// SessionStore хранит токен сессии зашифрованным на диске.
// Ключ шифрования выводится из секрета устройства: токен не читается
// простым копированием файла на другую машину.
type SessionStore struct {
	path   string
	secret string
}

// NewSessionStore создает хранилище сессии
func NewSessionStore(path, deviceSecret string) *SessionStore {
	return &SessionStore{
		path:   path,
		secret: deviceSecret,
	}
}

// Save шифрует и сохраняет токен
func (s *SessionStore) Save(token string) error {
	salt := make([]byte, saltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("ошибка генерации соли: %w", err)
	}

	key := deriveKey(s.secret, salt)

	encrypted, err := encryptWithKey(key, []byte(token))
	if err != nil {
		return fmt.Errorf("ошибка шифрования токена: %w", err)
	}

	container := sessionContainer{
		Version:   1,
		Salt:      hex.EncodeToString(salt),
		Data:      hex.EncodeToString(encrypted),
		CreatedAt: time.Now(),
	}

	data, err := json.MarshalIndent(container, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации: %w", err)
	}

	if err := os.WriteFile(s.path, data, sessionFilePermissions); err != nil {
		return fmt.Errorf("ошибка записи файла сессии: %w", err)
	}

	return nil
}

// Load читает и расшифровывает сохраненный токен
func (s *SessionStore) Load() (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoSession
		}
		return "", fmt.Errorf("ошибка чтения файла сессии: %w", err)
	}

	var container sessionContainer
	if err := json.Unmarshal(data, &container); err != nil {
		return "", fmt.Errorf("ошибка декодирования файла сессии: %w", err)
	}

	salt, err := hex.DecodeString(container.Salt)
	if err != nil {
		return "", fmt.Errorf("ошибка декодирования соли: %w", err)
	}

	encrypted, err := hex.DecodeString(container.Data)
	if err != nil {
		return "", fmt.Errorf("ошибка декодирования токена: %w", err)
	}

	key := deriveKey(s.secret, salt)

	token, err := decryptWithKey(key, encrypted)
	if err != nil {
		return "", fmt.Errorf("ошибка расшифровки токена: %w", err)
	}

	return string(token), nil
}

// Clear удаляет сохраненную сессию
func (s *SessionStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления файла сессии: %w", err)
	}
	return nil
}
