package common

import (
	"strings"

	"github.com/google/uuid"
)

// NewRunID generates a short unique identifier for a test run.
// Used to make created resource names (collections, subscriptions)
// distinguishable across runs.
func NewRunID() string {
	id := uuid.New().String()
	return strings.Split(id, "-")[0]
}
