package crypto

import (
	"crypto/subtle"
	"errors"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Ошибки хеширования
var (
	ErrEmptyKey    = errors.New("api key cannot be empty")
	ErrKeyMismatch = errors.New("api key does not match hash")
	ErrInvalidHash = errors.New("invalid api key hash format")
	ErrKeyTooLong  = errors.New("api key exceeds maximum length of 72 bytes")
)

// DefaultCost - стоимость хеширования по умолчанию
const DefaultCost = 12

// MaxKeyLength - максимальная длина ключа для bcrypt (72 байта)
const MaxKeyLength = 72

// HashAPIKey хеширует API ключ с использованием bcrypt
func HashAPIKey(key string) (string, error) {
	return HashAPIKeyWithCost(key, DefaultCost)
}

// HashAPIKeyWithCost хеширует ключ с указанной стоимостью
// cost приводится к диапазону [bcrypt.MinCost, bcrypt.MaxCost]
func HashAPIKeyWithCost(key string, cost int) (string, error) {
	if key == "" {
		return "", ErrEmptyKey
	}

	// bcrypt ограничен 72 байтами
	if len(key) > MaxKeyLength {
		return "", ErrKeyTooLong
	}

	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(key), cost)
	if err != nil {
		return "", err
	}

	return string(hash), nil
}

// VerifyAPIKey проверяет соответствие ключа хешу
func VerifyAPIKey(key, hash string) error {
	if key == "" {
		return ErrEmptyKey
	}

	if hash == "" {
		return ErrInvalidHash
	}

	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrKeyMismatch
		}
		return ErrInvalidHash
	}

	return nil
}

// GetHashCost извлекает cost из существующего хеша
func GetHashCost(hash string) (int, error) {
	if hash == "" {
		return 0, ErrInvalidHash
	}

	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return 0, ErrInvalidHash
	}

	return cost, nil
}

// KeyVerifier проверяет API ключ запроса против bcrypt хеша
//
// bcrypt выполняется один раз на ключ: принятый ключ запоминается и
// дальше сравнивается за постоянное время.
type KeyVerifier struct {
	hash string

	mu       sync.RWMutex
	accepted []byte
}

// NewKeyVerifier создаёт проверку. Пустой hash означает, что
// аутентификация выключена.
func NewKeyVerifier(hash string) (*KeyVerifier, error) {
	if hash != "" {
		if _, err := GetHashCost(hash); err != nil {
			return nil, err
		}
	}
	return &KeyVerifier{hash: hash}, nil
}

// Enabled сообщает, требуется ли ключ
func (v *KeyVerifier) Enabled() bool {
	return v.hash != ""
}

// Verify проверяет ключ
func (v *KeyVerifier) Verify(key string) bool {
	if !v.Enabled() {
		return true
	}
	if key == "" {
		return false
	}

	v.mu.RLock()
	accepted := v.accepted
	v.mu.RUnlock()
	if accepted != nil {
		return subtle.ConstantTimeCompare(accepted, []byte(key)) == 1
	}

	if VerifyAPIKey(key, v.hash) != nil {
		return false
	}

	v.mu.Lock()
	v.accepted = []byte(key)
	v.mu.Unlock()
	return true
}
