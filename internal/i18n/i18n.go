// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package i18n

import (
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var localeFS embed.FS

// Fallback is the language used for missing keys and unknown languages.
const Fallback = "en"

// Language is an entry in the language selector.
type Language struct {
	Code  string `json:"code"`
	Label string `json:"label"`
}

var languages = []Language{
	{"en", "English"},
	{"hi", "हिन्दी (Hindi)"},
	{"te", "తెలుగు (Telugu)"},
	{"ta", "தமிழ் (Tamil)"},
	{"kn", "ಕನ್ನಡ (Kannada)"},
	{"ml", "മലയാളം (Malayalam)"},
	{"mr", "मराठी (Marathi)"},
	{"bn", "বাংলা (Bangla)"},
	{"gu", "ગુજરાતી (Gujarati)"},
	{"pa", "ਪੰਜਾਬੀ (Punjabi)"},
	{"or", "ଓଡ଼ିଆ (Odia)"},
}

// Languages returns every selectable language. Languages without a
// dictionary are shown in English.
func Languages() []Language {
	out := make([]Language, len(languages))
	copy(out, languages)
	return out
}

// Supported reports whether code is a selectable language.
func Supported(code string) bool {
	code = strings.ToLower(code)
	for _, l := range languages {
		if l.Code == code {
			return true
		}
	}
	return false
}

// Catalog is a set of loaded dictionaries. It is read-only after Load and
// safe for concurrent use.
type Catalog struct {
	dicts   map[string]map[string]string
	matcher language.Matcher
}

// Load parses the embedded dictionaries.
func Load() (*Catalog, error) {
	entries, err := localeFS.ReadDir("locales")
	if err != nil {
		return nil, err
	}

	c := &Catalog{dicts: make(map[string]map[string]string)}
	for _, e := range entries {
		code := strings.TrimSuffix(e.Name(), path.Ext(e.Name()))
		data, err := localeFS.ReadFile(path.Join("locales", e.Name()))
		if err != nil {
			return nil, err
		}
		var raw map[string]any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("locale %s: %w", code, err)
		}
		dict := make(map[string]string)
		flatten("", raw, dict)
		c.dicts[code] = dict
	}
	if _, ok := c.dicts[Fallback]; !ok {
		return nil, fmt.Errorf("missing %s dictionary", Fallback)
	}

	tags := make([]language.Tag, len(languages))
	for i, l := range languages {
		tags[i] = language.Make(l.Code)
	}
	c.matcher = language.NewMatcher(tags)
	return c, nil
}

func flatten(prefix string, in map[string]any, out map[string]string) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]any:
			flatten(key, val, out)
		case nil:
		default:
			out[key] = strings.TrimSpace(fmt.Sprint(val))
		}
	}
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
)

// Default returns the process-wide catalog. The embedded dictionaries are
// checked by tests, so a load failure is a build defect and panics.
func Default() *Catalog {
	defaultOnce.Do(func() {
		c, err := Load()
		if err != nil {
			panic("i18n: " + err.Error())
		}
		defaultCatalog = c
	})
	return defaultCatalog
}

// Normalize maps a language code or tag ("te-IN") to a supported code,
// or Fallback.
func Normalize(code string) string {
	tag, err := language.Parse(strings.TrimSpace(code))
	if err != nil {
		return Fallback
	}
	base, _ := tag.Base()
	if Supported(base.String()) {
		return base.String()
	}
	return Fallback
}

// Match picks a supported language from an Accept-Language header value.
func (c *Catalog) Match(acceptLanguage string) string {
	prefs, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(prefs) == 0 {
		return Fallback
	}
	_, idx, conf := c.matcher.Match(prefs...)
	if conf == language.No {
		return Fallback
	}
	return languages[idx].Code
}

// HasDictionary reports whether lang has its own dictionary.
func (c *Catalog) HasDictionary(lang string) bool {
	_, ok := c.dicts[Normalize(lang)]
	return ok
}

// T translates key into lang. args are name/value pairs substituted for
// {name} placeholders.
func (c *Catalog) T(lang, key string, args ...any) string {
	text, ok := c.dicts[Normalize(lang)][key]
	if !ok {
		if text, ok = c.dicts[Fallback][key]; !ok {
			text = key
		}
	}
	if len(args) < 2 {
		return text
	}
	pairs := make([]string, 0, len(args))
	for i := 0; i+1 < len(args); i += 2 {
		pairs = append(pairs, "{"+fmt.Sprint(args[i])+"}", fmt.Sprint(args[i+1]))
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

// Dictionary returns the full dictionary for lang with English filled in
// for missing keys.
func (c *Catalog) Dictionary(lang string) map[string]string {
	out := make(map[string]string, len(c.dicts[Fallback]))
	for k, v := range c.dicts[Fallback] {
		out[k] = v
	}
	for k, v := range c.dicts[Normalize(lang)] {
		out[k] = v
	}
	return out
}

// Missing lists the English keys that lang does not translate.
func (c *Catalog) Missing(lang string) []string {
	dict := c.dicts[Normalize(lang)]
	var keys []string
	for k := range c.dicts[Fallback] {
		if _, ok := dict[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Translator is a Catalog bound to one language.
type Translator struct {
	cat  *Catalog
	Lang string
}

// For returns a Translator for lang.
func (c *Catalog) For(lang string) Translator {
	return Translator{cat: c, Lang: Normalize(lang)}
}

// T translates key.
func (t Translator) T(key string, args ...any) string {
	return t.cat.T(t.Lang, key, args...)
}
