package external

import (
	"net/url"
	"strings"
)

var conventionalSuffixes = []string{"/predict", "/invoke", "/api/predict"}

// alternateURLs derives fallback endpoints for primary: the direct *.hf.space
// host for a Hugging Face Space page, then conventional inference suffixes.
// The primary URL itself is never included. Malformed URLs yield no candidates.
func alternateURLs(primary string) []string {
	u, err := url.Parse(strings.TrimSpace(primary))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil
	}

	seen := map[string]struct{}{normalizeURL(u.String()): {}}
	var candidates []string

	add := func(candidate string) {
		key := normalizeURL(candidate)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		candidates = append(candidates, candidate)
	}

	if space, ok := huggingFaceSpaceHost(u); ok {
		add(space)
		for _, suffix := range conventionalSuffixes {
			add(space + suffix)
		}
	}

	basePath := strings.TrimRight(u.Path, "/")
	for _, suffix := range conventionalSuffixes {
		if strings.HasSuffix(basePath, suffix) {
			continue
		}
		next := *u
		next.Path = basePath + suffix
		next.RawPath = ""
		add(next.String())
	}

	return candidates
}

// huggingFaceSpaceHost maps huggingface.co/spaces/{owner}/{space} to https://{owner}-{space}.hf.space.
func huggingFaceSpaceHost(u *url.URL) (string, bool) {
	host := strings.ToLower(u.Hostname())
	if host != "huggingface.co" && host != "www.huggingface.co" {
		return "", false
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 3 || parts[0] != "spaces" || parts[1] == "" || parts[2] == "" {
		return "", false
	}

	return "https://" + subdomainLabel(parts[1]) + "-" + subdomainLabel(parts[2]) + ".hf.space", true
}

func subdomainLabel(s string) string {
	return strings.NewReplacer("_", "-", ".", "-").Replace(strings.ToLower(s))
}

func normalizeURL(s string) string {
	return strings.TrimRight(strings.ToLower(s), "/")
}
