package journal

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// NewConsumerID names this process in the Redis consumer group. The
// hostname prefix keeps pending entries attributable to a machine; the
// UUID keeps restarts and replicas from colliding.
func NewConsumerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString())
}
