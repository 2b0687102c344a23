package utils

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	idMu    sync.Mutex
	entropy io.Reader
)

func init() {
	// ulid.Monotonic держит порядок ID внутри одной миллисекунды
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	entropy = ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)
}

// NewEventID возвращает ULID, сортируемый по времени события
func NewEventID(at time.Time) string {
	idMu.Lock()
	defer idMu.Unlock()

	id, err := ulid.New(ulid.Timestamp(at.UTC()), entropy)
	if err != nil {
		// время пошло назад относительно monotonic entropy
		return ulid.Make().String()
	}
	return id.String()
}

// NewExecutionID возвращает случайный UUID для записи исполнения
func NewExecutionID() string {
	return uuid.NewString()
}
