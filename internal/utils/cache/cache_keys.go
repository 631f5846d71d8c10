package cache

import (
	"fmt"
	"strings"
)

type EntityType string

const (
	EntityPayment   EntityType = "payment"
	EntityProviders EntityType = "providers"
	EntityWebhook   EntityType = "webhook"
)

type KeyType string

const (
	KeyID     KeyType = "id"
	KeyStatus KeyType = "status"
	KeyList   KeyType = "list"
	KeyEvent  KeyType = "event"
)

// GenerateKey creates a standardized cache key
func GenerateKey(entity EntityType, keyType KeyType, value interface{}) string {
	return fmt.Sprintf("%s:%s:%v", entity, keyType, value)
}

// EventKey identifies one provider delivery, e.g. "stripe:evt_1".
func EventKey(provider, eventID string) string {
	return strings.Join([]string{provider, eventID}, ":")
}
