package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mikey/workauth-assistant/internal/core"
	"github.com/spf13/cast"
)

// ErrNoJSONObject is returned when a model reply contains no JSON object
var ErrNoJSONObject = errors.New("no JSON object found in reply")

// FieldSystemPrompt is the instruction given to every field assistant
const FieldSystemPrompt = `You extract structured data from work authorization emails sent to a home healthcare provider.
Respond with a single JSON object with exactly these keys:
- patient_name: string, the patient or client receiving the service, or "" if absent
- service_location_address: string, the full street address where the service takes place, or "" if absent
- mileage: number of miles to bill, or null if absent
Never guess. Respond only with the JSON object and nothing else.`

const fieldPromptFormat = `Email:
From: %s
Subject: %s
Body:
%s`

// BuildFieldPrompt renders the user prompt for an already processed body
func BuildFieldPrompt(env *core.Envelope, body string) string {
	return fmt.Sprintf(fieldPromptFormat, env.From, env.Subject, body)
}

// PromptBody picks the text an assistant should read: the plain body, or
// the HTML body when there is no plain part
func PromptBody(env *core.Envelope) string {
	if strings.TrimSpace(env.BodyText) != "" {
		return env.BodyText
	}
	return env.BodyHTML
}

// ExtractJSONObject returns the outermost {...} span of a model reply,
// which is often wrapped in prose or a code fence
func ExtractJSONObject(reply string) (string, error) {
	start := strings.IndexByte(reply, '{')
	end := strings.LastIndexByte(reply, '}')
	if start < 0 || end < start {
		return "", ErrNoJSONObject
	}
	return reply[start : end+1], nil
}

// ParseFieldHints decodes a model reply into hints. Mileage may come back
// as a number or a numeric string; anything else is dropped.
func ParseFieldHints(reply string) (*core.FieldHints, error) {
	obj, err := ExtractJSONObject(reply)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse reply as JSON: %w", err)
	}

	hints := &core.FieldHints{
		PatientName:            strings.TrimSpace(cast.ToString(raw["patient_name"])),
		ServiceLocationAddress: strings.TrimSpace(cast.ToString(raw["service_location_address"])),
	}
	if v, ok := raw["mileage"]; ok && v != nil {
		if miles, err := cast.ToFloat64E(v); err == nil && miles > 0 {
			hints.Mileage = &miles
		}
	}
	return hints, nil
}
