package web

import (
	"encoding/json"
	"fmt"
	"log"
)

// GetOutbox returns an ActivityPub OrderedCollection over an account's
// published activities, newest first. Remote servers read this to catch up on
// activities they missed through push delivery.
func (s *Server) GetOutbox(actor string) (error, string) {
	acc, err := s.directory.GetAccountByUsername(actor, s.directory.Domain())
	if err != nil || acc == nil {
		log.Printf("GetOutbox: User %s not found: %v", actor, err)
		return fmt.Errorf("no local account %q", actor), "{}"
	}

	activities, err := s.service.ReadOutbox(acc)
	if err != nil {
		log.Printf("GetOutbox: Failed to read outbox for %s: %v", actor, err)
		return err, "{}"
	}

	outboxURL := getIRI(acc.Domain, acc.Username, outbox)

	items := make([]interface{}, 0, len(activities))
	for _, activity := range activities {
		items = append(items, activity.ToWireObject())
	}

	collection := map[string]interface{}{
		"@context":     "https://www.w3.org/ns/activitystreams",
		"id":           outboxURL,
		"type":         "OrderedCollection",
		"totalItems":   len(items),
		"orderedItems": items,
	}

	jsonData, err := json.Marshal(collection)
	if err != nil {
		log.Printf("GetOutbox: Failed to marshal collection: %v", err)
		return err, "{}"
	}
	return nil, string(jsonData)
}
