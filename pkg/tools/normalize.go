package tools

import (
	"errors"
	"fmt"
	"strings"

	"github.com/parallax-research/parallax/pkg/research"
	"github.com/parallax-research/parallax/pkg/store"
)

// aliases is the closed substitution table applied before validation.
var aliases = map[string]string{
	"q":    "query",
	"cost": "costPreference",
	"aud":  "audienceLevel",
	"fmt":  "outputFormat",
	"src":  "includeSources",
	"imgs": "images",
	"docs": "textDocuments",
	"data": "structuredData",
}

// canonical value substitutions applied after aliasing.
var outputFormatAliases = map[string]string{
	"briefing": "summary",
}

// normalizeArgs applies the alias table. An alias colliding with its
// canonical field already present is a caller error.
func normalizeArgs(args Args) (Args, error) {
	out := make(Args, len(args))
	for key, value := range args {
		canonical := key
		if mapped, ok := aliases[key]; ok {
			canonical = mapped
		}
		if _, dup := out[canonical]; dup {
			return nil, research.NewValidationError(key, "duplicates "+canonical)
		}
		out[canonical] = value
	}
	if f, ok := out["outputFormat"].(string); ok {
		if mapped, found := outputFormatAliases[f]; found {
			out["outputFormat"] = mapped
		}
	}
	return out, nil
}

// validateFields rejects arguments outside the tool's closed field set.
func validateFields(tool string, args Args, fields []string) error {
	allowed := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		allowed[f] = struct{}{}
	}
	for key := range args {
		if _, ok := allowed[key]; !ok {
			return research.NewValidationError(key, "unknown argument for "+tool)
		}
	}
	return nil
}

// --- typed extraction helpers ---

func stringArg(args Args, key string) string {
	v, _ := args[key].(string)
	return v
}

func requiredString(args Args, key string) (string, error) {
	v := strings.TrimSpace(stringArg(args, key))
	if v == "" {
		return "", research.NewValidationError(key, "required")
	}
	return v, nil
}

// intArg accepts JSON numbers and integer strings.
func intArg(args Args, key string, def int) (int, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return int(n), nil
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case string:
		var parsed int
		if _, err := fmt.Sscanf(strings.TrimSpace(n), "%d", &parsed); err != nil {
			return 0, research.NewValidationError(key, "must be an integer")
		}
		return parsed, nil
	default:
		return 0, research.NewValidationError(key, "must be an integer")
	}
}

func int64Arg(args Args, key string, def int64) (int64, error) {
	n, err := intArg(args, key, int(def))
	return int64(n), err
}

func boolArg(args Args, key string, def bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return def
}

// attachmentsArg decodes a docs/data argument. String elements are promoted
// to structured entries with synthetic names.
func attachmentsArg(args Args, key, namePrefix string) ([]research.Attachment, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, research.NewValidationError(key, "must be an array")
	}

	out := make([]research.Attachment, 0, len(list))
	for i, elem := range list {
		switch v := elem.(type) {
		case string:
			out = append(out, research.Attachment{
				Name:    fmt.Sprintf("%s-%d", namePrefix, i+1),
				Content: v,
				Kind:    namePrefix,
			})
		case map[string]any:
			name, _ := v["name"].(string)
			content, _ := v["content"].(string)
			if name == "" {
				name = fmt.Sprintf("%s-%d", namePrefix, i+1)
			}
			if content == "" {
				return nil, research.NewValidationError(key,
					fmt.Sprintf("element %d has no content", i+1))
			}
			out = append(out, research.Attachment{Name: name, Content: content, Kind: namePrefix})
		default:
			return nil, research.NewValidationError(key,
				fmt.Sprintf("element %d must be a string or object", i+1))
		}
	}
	return out, nil
}

// clientContextArg decodes the optional clientContext string map.
func clientContextArg(args Args) map[string]string {
	raw, ok := args["clientContext"].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
