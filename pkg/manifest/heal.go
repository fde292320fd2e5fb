package manifest

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/s3db-io/s3db/internal/version"
)

// Healing step names, stable for the metadataHealed event payload.
const (
	StepSyntactic  = "syntactic-repair"
	StepStructural = "structural-repair"
	StepResource   = "resource-repair"
	StepHooks      = "hook-sanitation"
	StepPanic      = "panic-mode"
)

// HealStep records one applied repair.
type HealStep struct {
	Step   string `json:"step"`
	Detail string `json:"detail"`
}

// trailingComma matches a comma directly before a closing brace or
// bracket, the most common hand-edit corruption.
var trailingComma = regexp.MustCompile(`,\s*([}\]])`)

// Heal parses a manifest body, repairing what it can. Returns the healed
// manifest and the log of applied steps; a non-nil error means even
// syntactic repair could not produce valid JSON and the caller must enter
// panic mode. Every step is idempotent: healing a healthy manifest
// returns it unchanged with an empty log.
func Heal(raw []byte) (*Manifest, []HealStep, error) {
	var steps []HealStep

	// Step 1: syntactic repair.
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		repaired := repairSyntax(raw)
		if err := json.Unmarshal(repaired, &generic); err != nil {
			return nil, steps, fmt.Errorf("manifest unparseable after syntactic repair: %w", err)
		}
		steps = append(steps, HealStep{Step: StepSyntactic, Detail: "repaired trailing commas or unbalanced braces"})
	}

	// Step 2: structural repair of required top-level keys.
	if _, ok := generic["version"].(string); !ok {
		generic["version"] = FormatVersion
		steps = append(steps, HealStep{Step: StepStructural, Detail: "restored missing version"})
	}
	if _, ok := generic["s3dbVersion"].(string); !ok {
		generic["s3dbVersion"] = version.Version
		steps = append(steps, HealStep{Step: StepStructural, Detail: "restored missing s3dbVersion"})
	}
	if _, ok := generic["lastUpdated"].(string); !ok {
		generic["lastUpdated"] = time.Now().UTC().Format(time.RFC3339)
		steps = append(steps, HealStep{Step: StepStructural, Detail: "restored missing lastUpdated"})
	}
	resources, ok := generic["resources"].(map[string]any)
	if !ok {
		resources = make(map[string]any)
		generic["resources"] = resources
		steps = append(steps, HealStep{Step: StepStructural, Detail: "restored missing resources"})
	}

	// Steps 3 and 4: per-resource repair and hook sanitation.
	for name, rawRes := range resources {
		res, ok := rawRes.(map[string]any)
		if !ok {
			delete(resources, name)
			steps = append(steps, HealStep{Step: StepResource, Detail: "dropped non-object resource " + name})
			continue
		}

		versions, ok := res["versions"].(map[string]any)
		if !ok {
			versions = make(map[string]any)
			res["versions"] = versions
			steps = append(steps, HealStep{Step: StepResource, Detail: "restored versions for " + name})
		}

		current, _ := res["currentVersion"].(string)
		if _, exists := versions[current]; !exists {
			if latest := latestVersionID(versions); latest != "" {
				res["currentVersion"] = latest
				steps = append(steps, HealStep{Step: StepResource,
					Detail: fmt.Sprintf("repointed %s currentVersion to %s", name, latest)})
			}
		}

		for _, rawVer := range versions {
			ver, ok := rawVer.(map[string]any)
			if !ok {
				continue
			}
			if healed := sanitizeHooks(ver); healed {
				steps = append(steps, HealStep{Step: StepHooks, Detail: "sanitized hooks for " + name})
			}
		}
	}

	// Remarshal through the typed shape.
	repaired, err := json.Marshal(generic)
	if err != nil {
		return nil, steps, fmt.Errorf("remarshal healed manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(repaired, &m); err != nil {
		return nil, steps, fmt.Errorf("healed manifest does not fit schema: %w", err)
	}
	if m.Resources == nil {
		m.Resources = make(map[string]*Resource)
	}

	return &m, steps, nil
}

// repairSyntax strips trailing commas and closes unbalanced braces and
// brackets. The scanner is string-aware so braces inside values do not
// confuse the balance.
func repairSyntax(raw []byte) []byte {
	out := trailingComma.ReplaceAll(raw, []byte("$1"))

	var stack []byte
	inString := false
	escaped := false
	for _, ch := range out {
		if escaped {
			escaped = false
			continue
		}
		switch ch {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				stack = append(stack, '}')
			}
		case '[':
			if !inString {
				stack = append(stack, ']')
			}
		case '}', ']':
			if !inString && len(stack) > 0 && stack[len(stack)-1] == ch {
				stack = stack[:len(stack)-1]
			}
		}
	}

	if inString {
		out = append(out, '"')
	}
	for i := len(stack) - 1; i >= 0; i-- {
		out = append(out, stack[i])
	}
	return out
}

// latestVersionID returns the lexicographically latest version id with
// natural ordering for vN names (v10 after v9).
func latestVersionID(versions map[string]any) string {
	ids := make([]string, 0, len(versions))
	for id := range versions {
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return ""
	}
	sort.Slice(ids, func(i, j int) bool {
		// Natural comparison for same-prefix numeric suffixes: shorter
		// ids sort earlier, so v9 < v10.
		if len(ids[i]) != len(ids[j]) {
			return len(ids[i]) < len(ids[j])
		}
		return ids[i] < ids[j]
	})
	return ids[len(ids)-1]
}

// sanitizeHooks normalizes a version's hooks map: arrays keep only string
// entries, scalars mistyped as arrays become empty arrays. Returns true
// when anything changed.
func sanitizeHooks(ver map[string]any) bool {
	rawHooks, present := ver["hooks"]
	if !present || rawHooks == nil {
		return false
	}

	hooks, ok := rawHooks.(map[string]any)
	if !ok {
		ver["hooks"] = map[string]any{}
		return true
	}

	changed := false
	for event, rawList := range hooks {
		list, ok := rawList.([]any)
		if !ok {
			hooks[event] = []any{}
			changed = true
			continue
		}
		cleaned := make([]any, 0, len(list))
		for _, entry := range list {
			if s, ok := entry.(string); ok {
				cleaned = append(cleaned, s)
			} else {
				changed = true
			}
		}
		hooks[event] = cleaned
	}
	return changed
}
