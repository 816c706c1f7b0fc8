// Package graphapi holds the jq queries and helpers shared by the
// Instagram and WhatsApp adapters, both of which receive Meta Graph API
// webhook payloads shaped as a nested entry[]/messaging[] or
// entry[]/changes[] array.
package graphapi

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/itchyny/gojq"
)

// Query parses a jq expression on every call and evaluates it against a
// decoded JSON document, returning the first result. Parsing per-call is cheap
// enough here: webhook volume is low relative to the Orchestrator's own
// request rate, and compiling fresh avoids any shared-state surprise
// across concurrent webhook deliveries.
func Query(doc any, expr string) (any, bool, error) {
	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, false, fmt.Errorf("parse jq query %q: %w", expr, err)
	}
	iter := query.RunWithContext(context.Background(), doc)
	v, ok := iter.Next()
	if !ok {
		return nil, false, nil
	}
	if err, isErr := v.(error); isErr {
		return nil, false, fmt.Errorf("evaluate jq query %q: %w", expr, err)
	}
	return v, true, nil
}

// QueryString is Query narrowed to a string result.
func QueryString(doc any, expr string) (string, bool, error) {
	v, ok, err := Query(doc, expr)
	if err != nil || !ok {
		return "", ok, err
	}
	s, ok := v.(string)
	return s, ok, nil
}

// Decode unmarshals a raw webhook body into a generic JSON document
// suitable for jq evaluation.
func Decode(body []byte) (any, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode webhook body: %w", err)
	}
	return doc, nil
}
