package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// wireEvent is the JSON form of an Event shared by every backend and by
// exports, so an event round-trips byte-identically between them.
type wireEvent struct {
	Sequence         int64           `json:"sequence"`
	ID               string          `json:"id"`
	Kind             string          `json:"kind"`
	Timestamp        time.Time       `json:"timestamp"`
	DeveloperGroupID string          `json:"developerGroupId,omitempty"`
	Relevance        string          `json:"relevance"`
	Payload          json.RawMessage `json:"payload"`
}

// MarshalJSON encodes the event with its kind as a string tag.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Payload == nil {
		return nil, fmt.Errorf("%w: event %s has no payload", ErrInvalidEvent, e.ID)
	}
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", e.Kind(), err)
	}
	return json.Marshal(wireEvent{
		Sequence:         e.Sequence,
		ID:               e.ID,
		Kind:             e.Kind().String(),
		Timestamp:        e.Timestamp.UTC(),
		DeveloperGroupID: e.DeveloperGroupID,
		Relevance:        e.Relevance.String(),
		Payload:          payload,
	})
}

// UnmarshalJSON decodes an event, choosing the payload type from its kind.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	kind, err := ParseKind(w.Kind)
	if err != nil {
		return err
	}
	relevance, err := ParseRelevance(w.Relevance)
	if err != nil {
		return err
	}
	payload, err := DecodePayload(kind, w.Payload)
	if err != nil {
		return err
	}
	*e = Event{
		Sequence:         w.Sequence,
		ID:               w.ID,
		Timestamp:        w.Timestamp,
		DeveloperGroupID: w.DeveloperGroupID,
		Relevance:        relevance,
		Payload:          payload,
	}
	return nil
}

// DecodePayload decodes the JSON payload of an event of the given kind.
func DecodePayload(kind Kind, data []byte) (Payload, error) {
	var (
		p   Payload
		err error
	)
	switch kind {
	case KindInsert:
		p, err = decodeAs[Insert](data)
	case KindDelete:
		p, err = decodeAs[Delete](data)
	case KindCreateFile:
		p, err = decodeAs[CreateFile](data)
	case KindCreateDirectory:
		p, err = decodeAs[CreateDirectory](data)
	case KindDeleteFile:
		p, err = decodeAs[DeleteFile](data)
	case KindDeleteDirectory:
		p, err = decodeAs[DeleteDirectory](data)
	case KindMoveFile:
		p, err = decodeAs[MoveFile](data)
	case KindMoveDirectory:
		p, err = decodeAs[MoveDirectory](data)
	case KindRenameFile:
		p, err = decodeAs[RenameFile](data)
	case KindRenameDirectory:
		p, err = decodeAs[RenameDirectory](data)
	case KindSaveMarker:
		p, err = decodeAs[SaveMarker](data)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return p, nil
}

func decodeAs[T Payload](data []byte) (Payload, error) {
	var v T
	if len(data) == 0 || string(data) == "null" {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
