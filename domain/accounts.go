package domain

import (
	"fmt"
	"github.com/google/uuid"
	"time"
)

// Account represents a local actor that can publish and receive activities
type Account struct {
	Id          uuid.UUID
	Username    string
	Domain      string
	DisplayName string
	Summary     string
	CreatedAt   time.Time
}

// Handle returns the federation handle in user@domain form
func (acc *Account) Handle() string {
	return fmt.Sprintf("%s@%s", acc.Username, acc.Domain)
}

func (acc *Account) ToString() string {
	return fmt.Sprintf("\n\tId: %s \n\tUsername: %s \n\tDomain: %s \n\tCREATED_AT: %s)", acc.Id, acc.Username, acc.Domain, acc.CreatedAt)
}
