package accounts

import (
	"github.com/calodon/calodon/db"
	"github.com/calodon/calodon/domain"
	"github.com/google/uuid"
)

// Directory resolves local actor identities for the federation pipeline. Both
// lookups return nil without an error when no local account matches, so
// callers can treat "unknown actor" as a routine outcome.
type Directory struct {
	database *db.DB
	domain   string
}

func NewDirectory(database *db.DB, localDomain string) *Directory {
	return &Directory{database: database, domain: localDomain}
}

// Domain returns the local federation domain
func (d *Directory) Domain() string {
	return d.domain
}

// GetAccount returns the local account with the given id, or nil
func (d *Directory) GetAccount(id uuid.UUID) (*domain.Account, error) {
	err, acc := d.database.ReadAccById(id)
	if acc == nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return acc, nil
}

// GetAccountByUsername resolves (username, domain) to a local account. A
// domain other than the local one never resolves here.
func (d *Directory) GetAccountByUsername(username string, accountDomain string) (*domain.Account, error) {
	if accountDomain != "" && accountDomain != d.domain {
		return nil, nil
	}
	err, acc := d.database.ReadAccByUsername(username, d.domain)
	if acc == nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return acc, nil
}
