package execution

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/kirillm/trade-guard/internal/domain"
)

// IdempotencyKey детерминированный ключ операции:
// sha256(account | operation | канонический JSON payload).
// encoding/json сортирует ключи map, поэтому порядок ключей payload не важен.
func IdempotencyKey(account string, op domain.Operation, payload map[string]interface{}) (string, error) {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: payload is not serializable: %v", domain.ErrInvalidInput, err)
	}

	h := sha256.New()
	h.Write([]byte(account))
	h.Write([]byte{'|'})
	h.Write([]byte(op))
	h.Write([]byte{'|'})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil)), nil
}
