package web

import (
	"encoding/json"
	"fmt"
)

type action uint

const (
	id action = iota
	inbox
	outbox
	followers
	following
)

// GetActor renders the profile document for a local account. The inbox and
// outbox IRIs in here are what remote discovery chains resolve against, so the
// paths must line up with the routes in Router.
func (s *Server) GetActor(actor string) (error, string) {
	acc, err := s.directory.GetAccountByUsername(actor, s.directory.Domain())
	if err != nil || acc == nil {
		return fmt.Errorf("no local account %q", actor), "{}"
	}

	displayName := acc.DisplayName
	if displayName == "" {
		displayName = acc.Username
	}

	profile := map[string]interface{}{
		"@context": []string{
			"https://www.w3.org/ns/activitystreams",
		},
		"id":                getIRI(acc.Domain, acc.Username, id),
		"type":              "Person",
		"preferredUsername": acc.Username,
		"name":              displayName,
		"summary":           acc.Summary,
		"inbox":             getIRI(acc.Domain, acc.Username, inbox),
		"outbox":            getIRI(acc.Domain, acc.Username, outbox),
		"followers":         getIRI(acc.Domain, acc.Username, followers),
		"following":         getIRI(acc.Domain, acc.Username, following),
		"url":               getIRI(acc.Domain, acc.Username, id),
		"discoverable":      true,
	}

	buf, err := json.Marshal(profile)
	if err != nil {
		return err, "{}"
	}
	return nil, string(buf)
}

func getIRI(domain string, username string, action action) string {

	prefix := fmt.Sprintf("https://%s/users/%s", domain, username)
	switch action {
	case inbox:
		return fmt.Sprintf("%s/inbox", prefix)
	case outbox:
		return fmt.Sprintf("%s/outbox", prefix)
	case followers:
		return fmt.Sprintf("%s/followers", prefix)
	case following:
		return fmt.Sprintf("%s/following", prefix)
	case id:
		return prefix
	default:
		return ""
	}
}
