// Package extract recovers typed stage payloads from the untyped, arbitrarily
// nested response trees returned by the agent service. A payload may sit at
// the top level, under one of a fixed set of wrapper keys, or stringified as
// JSON inside any of those, recursively. Absence is never an error.
package extract

import (
	"encoding/json"

	"digest-agent/internal/domain"
)

// Wrapper keys under which the agent service is known to nest payloads.
// Order matters: it is the tie-break priority when a response contains
// candidates under multiple keys.
var (
	digestWrapperKeys   = []string{"result", "response", "data", "output", "content", "message"}
	deliveryWrapperKeys = []string{"result", "response", "data"}
)

// find runs a depth-first search over raw for the first object satisfying
// match. A direct hit on the current node takes precedence over any nested
// candidate. When parseStrings is set, string values under wrapper keys are
// tried as JSON; non-JSON strings are skipped, not errors. Termination is
// guaranteed because every recursive call strictly descends into a child.
func find(raw any, keys []string, parseStrings bool, match func(map[string]any) bool) (map[string]any, bool) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, false
	}
	if match(obj) {
		return obj, true
	}
	for _, key := range keys {
		switch v := obj[key].(type) {
		case map[string]any:
			if found, ok := find(v, keys, parseStrings, match); ok {
				return found, true
			}
		case string:
			if !parseStrings || v == "" {
				continue
			}
			var parsed any
			if err := json.Unmarshal([]byte(v), &parsed); err != nil {
				continue
			}
			if found, ok := find(parsed, keys, parseStrings, match); ok {
				return found, true
			}
		}
	}
	return nil, false
}

// truthy reports whether a JSON value certifies a discriminator field:
// present, non-null, and not an empty/zero scalar.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case bool:
		return t
	case float64:
		return t != 0
	default:
		return true
	}
}

func isDigest(m map[string]any) bool {
	return truthy(m["research_digest"]) || truthy(m["linkedin_post"])
}

func isDelivery(m map[string]any) bool {
	return truthy(m["delivery_status"])
}

// decode converts a matched generic object into a typed payload via a JSON
// round trip.
func decode(m map[string]any, out any) bool {
	buf, err := json.Marshal(m)
	if err != nil {
		return false
	}
	return json.Unmarshal(buf, out) == nil
}

// Digest locates a certified digest payload anywhere under raw.
func Digest(raw any) (*domain.DigestPayload, bool) {
	m, ok := find(raw, digestWrapperKeys, true, isDigest)
	if !ok {
		return nil, false
	}
	var d domain.DigestPayload
	if !decode(m, &d) {
		return nil, false
	}
	return &d, true
}

// Delivery locates a certified delivery confirmation anywhere under raw.
// The delivery contract uses the narrower wrapper-key set and never arrives
// stringified.
func Delivery(raw any) (*domain.DeliveryPayload, bool) {
	m, ok := find(raw, deliveryWrapperKeys, false, isDelivery)
	if !ok {
		return nil, false
	}
	var d domain.DeliveryPayload
	if !decode(m, &d) {
		return nil, false
	}
	return &d, true
}

// Image decodes the descriptive image fields from a result object. Unlike
// the digest and delivery shapes this is a direct decode of the given node;
// the caller picks the node.
func Image(raw any) (*domain.ImagePayload, bool) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, false
	}
	var p domain.ImagePayload
	if !decode(m, &p) {
		return nil, false
	}
	return &p, true
}

// ArtifactFiles locates the generated-file list at its two fixed candidate
// paths: module_outputs.artifact_files at the top level, or the same path one
// level under a response wrapper. First non-empty list wins, else empty.
// No deep search happens here: the artifact-file contract is fixed upstream,
// unlike the free-form digest and delivery shapes.
func ArtifactFiles(raw any) []domain.ArtifactFile {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	if files := artifactFilesAt(obj); len(files) > 0 {
		return files
	}
	if nested, ok := obj["response"].(map[string]any); ok {
		return artifactFilesAt(nested)
	}
	return nil
}

func artifactFilesAt(obj map[string]any) []domain.ArtifactFile {
	outputs, ok := obj["module_outputs"].(map[string]any)
	if !ok {
		return nil
	}
	list, ok := outputs["artifact_files"].([]any)
	if !ok || len(list) == 0 {
		return nil
	}
	buf, err := json.Marshal(list)
	if err != nil {
		return nil
	}
	var files []domain.ArtifactFile
	if err := json.Unmarshal(buf, &files); err != nil {
		return nil
	}
	return files
}
