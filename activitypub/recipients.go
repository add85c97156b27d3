package activitypub

import (
	"github.com/calodon/calodon/db"
	"github.com/calodon/calodon/domain"
)

// RecipientResolver computes the delivery audience for an outbound activity:
// the actor's followers plus every remote actor that previously engaged with
// the target object. Duplicates are allowed here; delivery idempotency is the
// dispatcher's concern.
type RecipientResolver struct {
	database *db.DB
}

func NewRecipientResolver(database *db.DB) *RecipientResolver {
	return &RecipientResolver{database: database}
}

// Resolve returns remote actor handles for the given local actor and target
// object. The object may be a bare id reference or an embedded object.
func (r *RecipientResolver) Resolve(account *domain.Account, object Object) ([]string, error) {
	var recipients []string

	err, followers := r.database.ReadFollowersByAccountId(account.Id)
	if err != nil {
		return nil, err
	}
	for _, follower := range *followers {
		recipients = append(recipients, follower.RemoteAccountId)
	}

	err, observers := r.database.ReadEventActivityByEventId(object.Id)
	if err != nil {
		return nil, err
	}
	for _, observer := range *observers {
		recipients = append(recipients, observer.RemoteAccountId)
	}

	return recipients, nil
}
