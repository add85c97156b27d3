package activitypub

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const activityStreamsContext = "https://www.w3.org/ns/activitystreams"

// The six activity types understood by the pipeline
const (
	TypeCreate   = "Create"
	TypeUpdate   = "Update"
	TypeDelete   = "Delete"
	TypeFollow   = "Follow"
	TypeAnnounce = "Announce"
	TypeUndo     = "Undo"
)

// UnsupportedActivityTypeError reports an activity type outside the supported
// set. Inbound payloads come from untrusted servers, so this is always a
// recoverable error, never fatal.
type UnsupportedActivityTypeError struct {
	Type string
}

func (e *UnsupportedActivityTypeError) Error() string {
	return fmt.Sprintf("invalid message type: %q", e.Type)
}

// Object is the target of an activity: either a bare object id reference or a
// full embedded object carrying its own id
type Object struct {
	Id       string
	Embedded map[string]interface{}
}

// IsEmbedded reports whether the object carries a full payload rather than a
// bare id reference
func (o Object) IsEmbedded() bool {
	return o.Embedded != nil
}

// ObjectFromWire accepts both wire forms of the object field
func ObjectFromWire(v interface{}) Object {
	switch obj := v.(type) {
	case string:
		return Object{Id: obj}
	case map[string]interface{}:
		object := Object{Embedded: obj}
		if id, ok := obj["id"].(string); ok {
			object.Id = id
		}
		return object
	}
	return Object{}
}

// ToWire returns the canonical wire form: the embedded payload when present,
// otherwise the bare id
func (o Object) ToWire() interface{} {
	if o.Embedded != nil {
		return o.Embedded
	}
	return o.Id
}

// Activity is one typed, addressed statement of an action exchanged between
// servers. Immutable once constructed; the id is the sole deduplication key
// on both the inbound and outbound paths.
type Activity struct {
	Id        string
	Type      string
	Actor     string
	Object    Object
	To        []string
	Cc        []string
	Published time.Time
}

// newActivity derives the activity id from the object address plus a suffix
// denoting the action, so that redelivery of the same logical action collapses
// to the same dedup key
func newActivity(activityType string, actorURI string, object Object) *Activity {
	return &Activity{
		Id:        fmt.Sprintf("%s/%s", object.Id, strings.ToLower(activityType)),
		Type:      activityType,
		Actor:     actorURI,
		Object:    object,
		Published: time.Now().UTC(),
	}
}

func NewCreateActivity(actorURI string, object Object) *Activity {
	return newActivity(TypeCreate, actorURI, object)
}

func NewUpdateActivity(actorURI string, object Object) *Activity {
	return newActivity(TypeUpdate, actorURI, object)
}

func NewDeleteActivity(actorURI string, object Object) *Activity {
	return newActivity(TypeDelete, actorURI, object)
}

func NewFollowActivity(actorURI string, object Object) *Activity {
	return newActivity(TypeFollow, actorURI, object)
}

func NewAnnounceActivity(actorURI string, object Object) *Activity {
	return newActivity(TypeAnnounce, actorURI, object)
}

func NewUndoActivity(actorURI string, object Object) *Activity {
	return newActivity(TypeUndo, actorURI, object)
}

// ToWireObject produces the canonical JSON-compatible structure
func (a *Activity) ToWireObject() map[string]interface{} {
	wire := map[string]interface{}{
		"@context": activityStreamsContext,
		"id":       a.Id,
		"type":     a.Type,
		"actor":    a.Actor,
		"object":   a.Object.ToWire(),
	}
	if !a.Published.IsZero() {
		wire["published"] = a.Published.Format(time.RFC3339)
	}
	if a.To != nil {
		wire["to"] = a.To
	}
	if a.Cc != nil {
		wire["cc"] = a.Cc
	}
	return wire
}

// ToJSON marshals the wire form of the activity
func (a *Activity) ToJSON() ([]byte, error) {
	return json.Marshal(a.ToWireObject())
}

// ActivityFromWireObject is the inverse of ToWireObject. An unrecognized type
// yields an UnsupportedActivityTypeError carrying the offending type string.
func ActivityFromWireObject(wire map[string]interface{}) (*Activity, error) {
	activityType, _ := wire["type"].(string)
	if !SupportedType(activityType) {
		return nil, &UnsupportedActivityTypeError{Type: activityType}
	}

	activity := &Activity{
		Type:   activityType,
		Object: ObjectFromWire(wire["object"]),
	}

	if id, ok := wire["id"].(string); ok {
		activity.Id = id
	} else if activity.Type == TypeCreate && activity.Object.Id != "" {
		// Create derives its id from the object when none is supplied
		activity.Id = activity.Object.Id + "/create"
	}

	if actor, ok := wire["actor"].(string); ok {
		activity.Actor = actor
	}
	if published, ok := wire["published"].(string); ok {
		if t, err := time.Parse(time.RFC3339, published); err == nil {
			activity.Published = t
		}
	}
	activity.To = stringList(wire["to"])
	activity.Cc = stringList(wire["cc"])

	return activity, nil
}

// ActivityFromJSON parses a raw wire payload
func ActivityFromJSON(data []byte) (*Activity, error) {
	var wire map[string]interface{}
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("failed to parse activity JSON: %w", err)
	}
	return ActivityFromWireObject(wire)
}

// ActivityFromMessage reconstructs a typed activity from a stored message
// payload, dispatching on the stored type discriminator
func ActivityFromMessage(messageType string, payload []byte) (*Activity, error) {
	switch messageType {
	case TypeCreate, TypeUpdate, TypeDelete, TypeFollow, TypeAnnounce, TypeUndo:
		activity, err := ActivityFromJSON(payload)
		if err != nil {
			return nil, err
		}
		// The stored discriminator is authoritative for reconstruction
		activity.Type = messageType
		return activity, nil
	default:
		return nil, &UnsupportedActivityTypeError{Type: messageType}
	}
}

// SupportedType reports whether the pipeline understands the given type
func SupportedType(activityType string) bool {
	switch activityType {
	case TypeCreate, TypeUpdate, TypeDelete, TypeFollow, TypeAnnounce, TypeUndo:
		return true
	}
	return false
}

func stringList(v interface{}) []string {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	list := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			list = append(list, s)
		}
	}
	return list
}
