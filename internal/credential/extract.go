// Package credential turns opaque zkTLS proof bundles into a normalized
// VerifiedCredential and produces the PII-free summary that is the only
// credential-derived text allowed into a model prompt.
package credential

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"sovereign-journalist/internal/apperr"
	"sovereign-journalist/internal/model"
)

// UnknownProvider is reported when no proof carries a provider name.
const UnknownProvider = "unknown"

var ErrInvalidProof = fmt.Errorf("%w: no proofs provided", apperr.ErrValidation)

type proof map[string]any

// strategy is one known proof layout. It reports ok only when it produced a
// non-empty parameter set.
type strategy struct {
	name    string
	extract func(p proof) (map[string]string, bool)
}

// strategies are tried in this order; the first match wins.
var strategies = []strategy{
	{name: "extractedParameterValues", extract: fromExtractedParameterValues},
	{name: "claimData.context", extract: fromClaimContext},
	{name: "claimData.parameters", extract: fromClaimParameters},
	{name: "publicData", extract: fromPublicData},
}

// Extract builds a credential from a JSON array of proofs. Only an empty or
// non-array input is an error; unrecognized layouts yield empty parameters
// and an unidentified provider becomes UnknownProvider.
func Extract(raw json.RawMessage, now time.Time) (model.VerifiedCredential, error) {
	var proofs []json.RawMessage
	if len(bytes.TrimSpace(raw)) == 0 || json.Unmarshal(raw, &proofs) != nil || len(proofs) == 0 {
		return model.VerifiedCredential{}, ErrInvalidProof
	}

	var first proof
	if err := json.Unmarshal(proofs[0], &first); err != nil {
		first = proof{}
	}

	params := map[string]string{}
	for _, s := range strategies {
		if found, ok := s.extract(first); ok {
			params = found
			break
		}
	}

	return model.VerifiedCredential{
		Provider:   providerOf(first),
		Parameters: params,
		VerifiedAt: now.UTC(),
	}, nil
}

func providerOf(p proof) string {
	if claim, ok := asObject(p["claimData"]); ok {
		if name, ok := claim["provider"].(string); ok && name != "" {
			return name
		}
	}
	if name, ok := p["provider"].(string); ok && name != "" {
		return name
	}
	return UnknownProvider
}

func fromExtractedParameterValues(p proof) (map[string]string, bool) {
	return flatten(p["extractedParameterValues"])
}

func fromClaimContext(p proof) (map[string]string, bool) {
	claim, ok := asObject(p["claimData"])
	if !ok {
		return nil, false
	}
	ctx, ok := asObject(claim["context"])
	if !ok {
		return nil, false
	}
	if nested, ok := flatten(ctx["extractedParameters"]); ok {
		return nested, true
	}
	return flatten(ctx)
}

func fromClaimParameters(p proof) (map[string]string, bool) {
	claim, ok := asObject(p["claimData"])
	if !ok {
		return nil, false
	}
	return flatten(claim["parameters"])
}

func fromPublicData(p proof) (map[string]string, bool) {
	return flatten(p["publicData"])
}

// asObject accepts either a JSON object or a string holding one. The SDK
// sometimes encodes the claim context twice, so strings are unwrapped until
// an object appears.
func asObject(v any) (map[string]any, bool) {
	for depth := 0; depth < 3; depth++ {
		switch t := v.(type) {
		case map[string]any:
			return t, true
		case string:
			var next any
			if err := json.Unmarshal([]byte(t), &next); err != nil {
				return nil, false
			}
			v = next
		default:
			return nil, false
		}
	}
	return nil, false
}

func flatten(v any) (map[string]string, bool) {
	obj, ok := asObject(v)
	if !ok || len(obj) == 0 {
		return nil, false
	}
	out := make(map[string]string, len(obj))
	for k, val := range obj {
		out[k] = scalarString(val)
	}
	return out, true
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
