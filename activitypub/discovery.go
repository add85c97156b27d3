package activitypub

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// WebFingerLink is one entry of a webfinger links array
type WebFingerLink struct {
	Rel  string `json:"rel"`
	Type string `json:"type,omitempty"`
	Href string `json:"href"`
}

// WebFingerResponse is the wire format of a webfinger lookup, shared by the
// discovery client and the local webfinger endpoint
type WebFingerResponse struct {
	Subject string          `json:"subject"`
	Links   []WebFingerLink `json:"links"`
}

// RemoteProfile is the subset of a remote actor profile the pipeline needs
type RemoteProfile struct {
	Id                string `json:"id"`
	Type              string `json:"type"`
	PreferredUsername string `json:"preferredUsername"`
	Inbox             string `json:"inbox"`
	Outbox            string `json:"outbox"`
}

// Discovery resolves remote handles (user@domain) to delivery endpoints via
// the two-stage webfinger chain. Both stages are pure lookups: no side
// effects, no retries, and every failure resolves to "" so that one
// unreachable recipient never aborts processing of its siblings.
type Discovery struct {
	client *http.Client
	scheme string
}

func NewDiscovery() *Discovery {
	return &Discovery{
		client: &http.Client{Timeout: 10 * time.Second},
		scheme: "https",
	}
}

// FetchProfileURL resolves a handle to its profile URL through the well-known
// webfinger endpoint, picking the first link with rel "self". Returns "" on a
// malformed handle, an unreachable domain, or a response without a self link.
func (d *Discovery) FetchProfileURL(handle string) string {
	username, domain, ok := splitHandle(handle)
	if !ok {
		log.Printf("Discovery: malformed handle %q", handle)
		return ""
	}

	url := fmt.Sprintf("%s://%s/.well-known/webfinger?resource=acct:%s", d.scheme, domain, username)
	body, err := d.get(url)
	if err != nil {
		log.Printf("Discovery: webfinger lookup for %s failed: %v", handle, err)
		return ""
	}

	var webfinger WebFingerResponse
	if err := json.Unmarshal(body, &webfinger); err != nil {
		log.Printf("Discovery: failed to parse webfinger response for %s: %v", handle, err)
		return ""
	}

	for _, link := range webfinger.Links {
		if link.Rel == "self" {
			return link.Href
		}
	}
	return ""
}

// ResolveInbox resolves a handle all the way to its inbox endpoint. Same
// ""-on-failure contract as FetchProfileURL.
func (d *Discovery) ResolveInbox(handle string) string {
	profileURL := d.FetchProfileURL(handle)
	if profileURL == "" {
		return ""
	}

	body, err := d.get(profileURL)
	if err != nil {
		log.Printf("Discovery: profile fetch for %s failed: %v", handle, err)
		return ""
	}

	var profile RemoteProfile
	if err := json.Unmarshal(body, &profile); err != nil {
		log.Printf("Discovery: failed to parse profile for %s: %v", handle, err)
		return ""
	}

	return profile.Inbox
}

func (d *Discovery) get(url string) ([]byte, error) {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", "calodon/1.0 ActivityPub")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request failed with status: %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

// splitHandle parses user@domain; both parts must be non-empty
func splitHandle(handle string) (string, string, bool) {
	parts := strings.Split(handle, "@")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
