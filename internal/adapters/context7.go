package adapters

import (
	"context"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"contextpipe/internal/contextitem"
	"contextpipe/internal/edc"
)

// DocsFetcher resolves a library name to a Context7 library ID and fetches
// documentation snippets for it. It is the seam where a real Context7 MCP
// client is wired in; Context7Adapter degrades to an empty result when no
// fetcher is supplied (spec §4.3/§7, "graceful degradation when external
// docs are unavailable").
type DocsFetcher interface {
	ResolveLibraryID(ctx context.Context, libraryName string) (string, error)
	FetchDocs(ctx context.Context, libraryID, query string) ([]Doc, error)
}

// Doc is one documentation snippet returned by a DocsFetcher.
type Doc struct {
	Title   string
	Summary string
	Content string
	URL     string
	Score   float64
}

// maxLibrariesPerQuery and maxDocsPerLibrary mirror the original adapter's
// "[:3]" / "[:5]" slicing.
const (
	maxLibrariesPerQuery = 3
	maxDocsPerLibrary    = 5
)

// libraryFallbackMap is the hard-coded library-name-to-id table recovered
// from original_source/scripts/smaht/adapters/context7_adapter.py. Per
// spec §9 this is a documented Open Question: the original resolves every
// library this way rather than by any live lookup. It is kept here
// strictly as the last-resort path behind a real DocsFetcher
// (SPEC_FULL supplement 6).
var libraryFallbackMap = map[string]string{
	"react":    "/facebook/react",
	"nextjs":   "/vercel/next.js",
	"next":     "/vercel/next.js",
	"express":  "/expressjs/express",
	"fastapi":  "/tiangolo/fastapi",
	"django":   "/django/django",
	"flask":    "/pallets/flask",
	"vue":      "/vuejs/core",
	"angular":  "/angular/angular",
	"svelte":   "/sveltejs/svelte",
}

var libraryPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(react|vue|angular|svelte|next(?:js)?|nuxt)\b`),
	regexp.MustCompile(`\b(express|fastapi|django|flask|rails|spring)\b`),
	regexp.MustCompile(`\b(mongodb|postgres|mysql|redis|elasticsearch)\b`),
	regexp.MustCompile(`\b(typescript|python|java|rust|go)\b`),
	regexp.MustCompile(`\b(jest|pytest|mocha|cypress|playwright)\b`),
	regexp.MustCompile(`\b(webpack|vite|rollup|esbuild|parcel)\b`),
}

var installPatterns = []*regexp.Regexp{
	regexp.MustCompile(`npm install\s+(@?[\w-]+(?:/[\w-]+)?)`),
	regexp.MustCompile(`pip install\s+([\w-]+)`),
	regexp.MustCompile(`yarn add\s+(@?[\w-]+(?:/[\w-]+)?)`),
}

// extractLibraryNames applies the original adapter's regex heuristics,
// deduplicating while preserving first-seen order.
func extractLibraryNames(prompt string) []string {
	promptLower := strings.ToLower(prompt)
	var found []string
	for _, p := range libraryPatterns {
		for _, m := range p.FindAllStringSubmatch(promptLower, -1) {
			found = append(found, m[1])
		}
	}
	for _, p := range installPatterns {
		for _, m := range p.FindAllStringSubmatch(promptLower, -1) {
			found = append(found, m[1])
		}
	}

	seen := map[string]bool{}
	var out []string
	for _, lib := range found {
		lib = strings.TrimSpace(lib)
		if lib == "" || seen[lib] {
			continue
		}
		seen[lib] = true
		out = append(out, lib)
	}
	return out
}

// fallbackFetcher resolves library IDs via libraryFallbackMap only, and
// never finds any docs (matching _query_docs's permanent empty-list
// placeholder in the original). It exists so Context7Adapter has a usable
// zero-value collaborator even before a real MCP-backed DocsFetcher is
// wired in.
type fallbackFetcher struct{}

func (fallbackFetcher) ResolveLibraryID(_ context.Context, libraryName string) (string, error) {
	normalized := strings.ReplaceAll(strings.ReplaceAll(strings.ToLower(libraryName), ".js", ""), "-", "")
	id, ok := libraryFallbackMap[normalized]
	if !ok {
		return "", nil
	}
	return id, nil
}

func (fallbackFetcher) FetchDocs(_ context.Context, _, _ string) ([]Doc, error) {
	return nil, nil
}

// Context7Adapter is the external-docs Source Adapter (spec §4.4): it
// extracts library names from the prompt, resolves each to a library ID,
// fetches docs (through the External-Docs Cache), and projects them onto
// ContextItems. Grounded on
// original_source/scripts/smaht/adapters/context7_adapter.py::query/
// _query_context7.
type Context7Adapter struct {
	fetcher DocsFetcher
	cache   *edc.Cache
	log     *zap.Logger
}

// NewContext7Adapter builds a Context7Adapter. A nil fetcher falls back to
// libraryFallbackMap-only resolution with no doc content, matching the
// original's permanent degraded mode; a nil cache disables memoization.
func NewContext7Adapter(fetcher DocsFetcher, cache *edc.Cache, log *zap.Logger) *Context7Adapter {
	if fetcher == nil {
		fetcher = fallbackFetcher{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Context7Adapter{fetcher: fetcher, cache: cache, log: log.With(zap.String("adapter", "context7"))}
}

// Label implements Adapter.
func (a *Context7Adapter) Label() string { return "context7" }

// Query implements Adapter.
func (a *Context7Adapter) Query(ctx context.Context, prompt, _ string) (items []contextitem.Item) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("context7 adapter panicked, returning empty result", zap.Any("recover", r))
			items = nil
		}
	}()

	libs := extractLibraryNames(prompt)
	if len(libs) > maxLibrariesPerQuery {
		libs = libs[:maxLibrariesPerQuery]
	}

	for _, lib := range libs {
		libItems, err := a.queryLibrary(ctx, lib, prompt)
		if err != nil {
			a.log.Warn("context7 query failed, skipping library", zap.String("library", lib), zap.Error(err))
			continue
		}
		items = append(items, libItems...)
	}
	return items
}

func (a *Context7Adapter) queryLibrary(ctx context.Context, libraryName, query string) ([]contextitem.Item, error) {
	if a.cache != nil {
		if cached, ok := a.cache.Get(libraryName, query); ok {
			var items []contextitem.Item
			if err := json.Unmarshal(cached, &items); err == nil {
				return items, nil
			}
		}
	}

	libraryID, err := a.fetcher.ResolveLibraryID(ctx, libraryName)
	if err != nil || libraryID == "" {
		// Last resort: the hard-coded name-to-id table.
		fallbackID, _ := fallbackFetcher{}.ResolveLibraryID(ctx, libraryName)
		if fallbackID == "" {
			return nil, err
		}
		libraryID, err = fallbackID, nil
	}

	docs, err := a.fetcher.FetchDocs(ctx, libraryID, query)
	if err != nil {
		return nil, err
	}
	if len(docs) > maxDocsPerLibrary {
		docs = docs[:maxDocsPerLibrary]
	}

	items := make([]contextitem.Item, 0, len(docs))
	for i, doc := range docs {
		title := doc.Title
		if title == "" {
			title = libraryName + " documentation"
		}
		relevance := doc.Score
		if relevance == 0 {
			relevance = 0.7
		}
		items = append(items, contextitem.Item{
			ID:            "context7:" + libraryID + ":" + strconv.Itoa(i),
			Source:        "context7",
			Title:         title,
			Summary:       truncate(doc.Summary, 200),
			Excerpt:       truncate(doc.Content, 500),
			Relevance:     relevance,
			AgeDays:       0,
			SemanticScore: relevance,
			Metadata: map[string]any{
				"library_id":   libraryID,
				"library_name": libraryName,
				"url":          doc.URL,
				"source_type":  "external_docs",
			},
		})
	}

	if a.cache != nil {
		if data, err := json.Marshal(items); err == nil {
			if err := a.cache.Put(libraryName, query, data); err != nil {
				a.log.Warn("failed to persist context7 cache entry", zap.Error(err))
			}
		}
	}

	return items, nil
}

