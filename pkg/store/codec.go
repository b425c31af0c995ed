package store

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/Mindburn-Labs/intake/pkg/contracts"
)

// deliverable reports whether a submission in st waits for the delivery
// collaborator.
func deliverable(st contracts.State) bool {
	return st == contracts.StateSubmitted || st == contracts.StateApproved
}

// encodeSubmission serialises sub for the durable stores. The whole entity
// is stored as one JSON document; the columns or keys next to it exist only
// for lookup.
func encodeSubmission(sub *contracts.Submission) ([]byte, error) {
	data, err := json.Marshal(sub)
	if err != nil {
		return nil, fmt.Errorf("encode submission %s: %w", sub.ID, err)
	}
	return data, nil
}

// decodeSubmission keeps numbers as json.Number so that field values read
// back exactly as the manager normalised them.
func decodeSubmission(data []byte) (*contracts.Submission, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var sub contracts.Submission
	if err := dec.Decode(&sub); err != nil {
		return nil, fmt.Errorf("corrupt submission document: %w", err)
	}
	if sub.Fields == nil {
		sub.Fields = map[string]any{}
	}
	if sub.FieldAttribution == nil {
		sub.FieldAttribution = map[string]contracts.Actor{}
	}
	return &sub, nil
}

func decodeEvent(data []byte) (contracts.Event, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var ev contracts.Event
	if err := dec.Decode(&ev); err != nil {
		return contracts.Event{}, fmt.Errorf("corrupt event document: %w", err)
	}
	return ev, nil
}
