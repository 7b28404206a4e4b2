package apiconfig

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/infradash/infradash/pkg/types"
)

// urlPattern matches scheme, host, optional port and optional colon-free path.
// Group 2 holds whatever follows (":label[:token]" when well-formed).
var urlPattern = regexp.MustCompile(`^(https?://[^:]+(?::[0-9]+)?(?:/[^:]*)?)(.*)`)

var (
	trailingSlashes = regexp.MustCompile(`/+$`)
	nonAlnum        = regexp.MustCompile(`[^a-zA-Z0-9]`)
)

// Parse converts s into descriptors in config order. See the package doc for
// the grammar and error policy.
func Parse(s string) []types.APIDescriptor {
	out := make([]types.APIDescriptor, 0)
	if strings.TrimSpace(s) == "" {
		return out
	}

	seen := make(map[string]string) // id -> baseURL
	for _, raw := range strings.Split(s, ",") {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}

		d, ok := parseEntry(entry)
		if !ok {
			continue
		}

		if prev, dup := seen[d.ID]; dup {
			if prev == d.BaseURL {
				slog.Warn("apiconfig: duplicate entry dropped", "name", d.Name, "base_url", d.BaseURL)
				continue
			}
			d.ID = uniqueID(d.ID, seen)
		}
		seen[d.ID] = d.BaseURL
		out = append(out, d)
	}
	return out
}

// parseEntry parses one trimmed, non-empty entry.
func parseEntry(entry string) (types.APIDescriptor, bool) {
	colon := strings.Index(entry, ":")
	if colon == -1 {
		slog.Warn("apiconfig: invalid entry, expected at least name:url", "entry", entry)
		return types.APIDescriptor{}, false
	}

	name := strings.TrimSpace(entry[:colon])
	remainder := strings.TrimLeft(entry[colon+1:], " \t")

	var baseURL, label, token string
	if m := urlPattern.FindStringSubmatch(remainder); m != nil {
		baseURL = strings.TrimSpace(m[1])
		if extra := m[2]; strings.HasPrefix(extra, ":") {
			parts := strings.Split(extra[1:], ":")
			label = partAt(parts, 0)
			token = partAt(parts, 1)
		}
	} else {
		parts := strings.Split(remainder, ":")
		baseURL = partAt(parts, 0)
		label = partAt(parts, 1)
		token = partAt(parts, 2)
	}
	baseURL = strings.TrimSpace(trailingSlashes.ReplaceAllString(baseURL, ""))

	if name == "" || baseURL == "" {
		slog.Warn("apiconfig: invalid entry, empty name or url", "entry", entry)
		return types.APIDescriptor{}, false
	}

	return types.APIDescriptor{
		ID:           DescriptorID(name, baseURL),
		Name:         name,
		BaseURL:      baseURL,
		Label:        label,
		RequiresAuth: token != "",
	}, true
}

// DescriptorID derives the unique key of a descriptor.
func DescriptorID(name, baseURL string) string {
	return name + "-" + nonAlnum.ReplaceAllString(baseURL, "-")
}

func partAt(parts []string, i int) string {
	if i >= len(parts) {
		return ""
	}
	return strings.TrimSpace(parts[i])
}

// uniqueID appends the smallest numeric suffix that makes id unused.
func uniqueID(id string, seen map[string]string) string {
	for n := 2; ; n++ {
		candidate := id + "-" + strconv.Itoa(n)
		if _, taken := seen[candidate]; !taken {
			return candidate
		}
	}
}
