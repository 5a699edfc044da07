package domain

import (
	"math"
	"strings"
)

// Language is a recognized language bucket for per-language totals.
type Language string

const (
	LangJavaScript Language = "javascript"
	LangHTML       Language = "html"
	LangCSS        Language = "css"
	LangPython     Language = "python"
	LangC          Language = "c"
	LangCPP        Language = "cpp"
	LangCSharp     Language = "csharp"
	LangDart       Language = "dart"
	LangGo         Language = "go"
	LangJSON       Language = "json"
	LangKotlin     Language = "kotlin"
	LangMatlab     Language = "matlab"
	LangPerl       Language = "perl"
	LangPHP        Language = "php"
	LangR          Language = "r"
	LangRuby       Language = "ruby"
	LangRust       Language = "rust"
	LangScala      Language = "scala"
	LangSQL        Language = "sql"
	LangSwift      Language = "swift"
	LangTypeScript Language = "typescript"
	LangMarkdown   Language = "markdown"
	LangProperties Language = "properties"
	LangYAML       Language = "yaml"
	LangXML        Language = "xml"
	LangOther      Language = "other"
)

var languages = map[Language]struct{}{
	LangJavaScript: {}, LangHTML: {}, LangCSS: {}, LangPython: {}, LangC: {},
	LangCPP: {}, LangCSharp: {}, LangDart: {}, LangGo: {}, LangJSON: {},
	LangKotlin: {}, LangMatlab: {}, LangPerl: {}, LangPHP: {}, LangR: {},
	LangRuby: {}, LangRust: {}, LangScala: {}, LangSQL: {}, LangSwift: {},
	LangTypeScript: {}, LangMarkdown: {}, LangProperties: {}, LangYAML: {},
	LangXML: {}, LangOther: {},
}

// Valid reports whether l is a recognized bucket.
func (l Language) Valid() bool {
	_, ok := languages[l]
	return ok
}

// ParseLanguage normalizes a client-supplied key. ok is false for unrecognized keys.
func ParseLanguage(s string) (Language, bool) {
	l := Language(strings.ToLower(strings.TrimSpace(s)))
	return l, l.Valid()
}

// MaxSessionSeconds bounds a single session's duration and each of its language deltas.
const MaxSessionSeconds = 86400

// LanguageTotals maps a language to seconds.
type LanguageTotals map[Language]int64

// ParseLanguageDeltas keeps recognized keys with finite, strictly positive
// values, rounded to whole seconds and capped at MaxSessionSeconds per
// language. Unrecognized keys are dropped.
func ParseLanguageDeltas(raw map[string]float64) LanguageTotals {
	out := LanguageTotals{}
	for k, v := range raw {
		lang, ok := ParseLanguage(k)
		if !ok || math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			continue
		}
		if v > MaxSessionSeconds {
			v = MaxSessionSeconds
		}
		secs := int64(math.Round(v))
		if secs <= 0 {
			continue
		}
		out[lang] = min(out[lang]+secs, MaxSessionSeconds)
	}
	return out
}

// addSeconds adds b to a, saturating at math.MaxInt64.
func addSeconds(a, b int64) int64 {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}
