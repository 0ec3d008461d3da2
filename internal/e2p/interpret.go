package e2p

import (
	"encoding/json"
	"strings"
)

// Outcome classifies a payment response body.
type Outcome int

const (
	// OutcomeAmbiguous means the result is unknown: non-JSON body, timeout or transport failure.
	OutcomeAmbiguous Outcome = iota
	// OutcomeSuccess means the gateway confirmed the charge.
	OutcomeSuccess
	// OutcomeDeclined means the gateway answered and did not confirm the charge.
	OutcomeDeclined
)

const successMarker = "sucesso"

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeDeclined:
		return "declined"
	default:
		return "ambiguous"
	}
}

// Interpret decides the outcome from the body alone. A charge succeeded only
// when the body is a JSON object whose "success" string contains "sucesso"
// in lower case.
// The HTTP status is deliberately not consulted.
func Interpret(body []byte) Outcome {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || !json.Valid([]byte(trimmed)) {
		return OutcomeAmbiguous
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &fields); err != nil {
		// Valid JSON that is not an object (array, number, string).
		return OutcomeDeclined
	}
	raw, ok := fields["success"]
	if !ok {
		return OutcomeDeclined
	}
	var marker string
	if err := json.Unmarshal(raw, &marker); err != nil {
		return OutcomeDeclined
	}
	if strings.Contains(marker, successMarker) {
		return OutcomeSuccess
	}
	return OutcomeDeclined
}
