package infra

import "fmt"

const (
	// RedisNamespace Базовый префикс для изоляции данных гейта в Redis
	RedisNamespace = "gate"
)

// Ключи состояния
const (
	// RedisKeyAdmissionPrefix: хеши окон допуска: gate:admission:<scope>:<id>
	RedisKeyAdmissionPrefix = RedisNamespace + ":admission:"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanPolicyUpdate: консоль сообщает гейтам, что политики репозиториев изменились.
	RedisChanPolicyUpdate = RedisNamespace + ":policies:update"
)

// GetAdmissionKey Генератор ключа окна допуска
func GetAdmissionKey(scope, id string) string {
	return fmt.Sprintf("%s%s:%s", RedisKeyAdmissionPrefix, scope, id)
}
