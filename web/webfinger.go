package web

import (
	"encoding/json"
	"fmt"

	"github.com/calodon/calodon/activitypub"
)

// GetWebfinger answers a local webfinger lookup for user@domain with a single
// rel "self" link pointing at the actor profile, mirroring the document shape
// the discovery client consumes on the outbound side.
func (s *Server) GetWebfinger(username string) (error, string) {

	acc, err := s.directory.GetAccountByUsername(username, s.directory.Domain())
	if err != nil || acc == nil {
		return fmt.Errorf("no local account %q", username), GetWebFingerNotFound()
	}

	resp := activitypub.WebFingerResponse{
		Subject: fmt.Sprintf("acct:%s@%s", acc.Username, acc.Domain),
		Links: []activitypub.WebFingerLink{
			{
				Rel:  "self",
				Type: "application/activity+json",
				Href: getIRI(acc.Domain, acc.Username, id),
			},
		},
	}

	buf, err := json.Marshal(resp)
	if err != nil {
		return err, GetWebFingerNotFound()
	}
	return nil, string(buf)
}

func GetWebFingerNotFound() string {
	return `{"detail":"Not Found"}`
}
