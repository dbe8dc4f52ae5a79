package token

import (
	"path/filepath"
	"strings"
)

// Language identifies the language derived from a file's extension.
// The set is closed; unrecognized extensions map to LangText with the
// plain tokenizer as fallback.
type Language string

const (
	LangGo         Language = "go"
	LangRust       Language = "rust"
	LangPython     Language = "python"
	LangJavaScript Language = "javascript"
	LangTypeScript Language = "typescript"
	LangJava       Language = "java"
	LangKotlin     Language = "kotlin"
	LangC          Language = "c"
	LangCPP        Language = "cpp"
	LangCSharp     Language = "csharp"
	LangRuby       Language = "ruby"
	LangPHP        Language = "php"
	LangSwift      Language = "swift"
	LangScala      Language = "scala"
	LangShell      Language = "shell"
	LangSQL        Language = "sql"
	LangHTML       Language = "html"
	LangCSS        Language = "css"
	LangJSON       Language = "json"
	LangYAML       Language = "yaml"
	LangTOML       Language = "toml"
	LangXML        Language = "xml"
	LangMarkdown   Language = "markdown"
	LangText       Language = "text"
)

// languageByExt maps file extensions (and a few exact filenames) to languages.
var languageByExt = map[string]Language{
	".go":       LangGo,
	".rs":       LangRust,
	".py":       LangPython,
	".pyi":      LangPython,
	".js":       LangJavaScript,
	".jsx":      LangJavaScript,
	".mjs":      LangJavaScript,
	".ts":       LangTypeScript,
	".tsx":      LangTypeScript,
	".java":     LangJava,
	".kt":       LangKotlin,
	".kts":      LangKotlin,
	".c":        LangC,
	".h":        LangC,
	".cpp":      LangCPP,
	".cc":       LangCPP,
	".cxx":      LangCPP,
	".hpp":      LangCPP,
	".cs":       LangCSharp,
	".rb":       LangRuby,
	".rake":     LangRuby,
	".php":      LangPHP,
	".swift":    LangSwift,
	".scala":    LangScala,
	".sh":       LangShell,
	".bash":     LangShell,
	".zsh":      LangShell,
	".sql":      LangSQL,
	".html":     LangHTML,
	".htm":      LangHTML,
	".css":      LangCSS,
	".json":     LangJSON,
	".yaml":     LangYAML,
	".yml":      LangYAML,
	".toml":     LangTOML,
	".xml":      LangXML,
	".md":       LangMarkdown,
	".markdown": LangMarkdown,
	".txt":      LangText,
}

var languageByName = map[string]Language{
	"Dockerfile": LangShell,
	"Makefile":   LangShell,
	"makefile":   LangShell,
}

// codeLanguages are tokenized with identifier splitting; everything else
// uses the plain word tokenizer.
var codeLanguages = map[Language]bool{
	LangGo: true, LangRust: true, LangPython: true,
	LangJavaScript: true, LangTypeScript: true, LangJava: true,
	LangKotlin: true, LangC: true, LangCPP: true, LangCSharp: true,
	LangRuby: true, LangPHP: true, LangSwift: true, LangScala: true,
	LangShell: true, LangSQL: true, LangHTML: true, LangCSS: true,
	LangJSON: true, LangYAML: true, LangTOML: true, LangXML: true,
}

// DetectLanguage derives the language from a file path.
func DetectLanguage(path string) Language {
	if lang, ok := languageByName[filepath.Base(path)]; ok {
		return lang
	}
	if lang, ok := languageByExt[strings.ToLower(filepath.Ext(path))]; ok {
		return lang
	}
	return LangText
}

// KnownLanguage reports whether tag names a language in the closed set.
// Used to validate search filters before any scoring work.
func KnownLanguage(tag string) bool {
	switch Language(strings.ToLower(tag)) {
	case LangGo, LangRust, LangPython, LangJavaScript, LangTypeScript,
		LangJava, LangKotlin, LangC, LangCPP, LangCSharp, LangRuby,
		LangPHP, LangSwift, LangScala, LangShell, LangSQL, LangHTML,
		LangCSS, LangJSON, LangYAML, LangTOML, LangXML, LangMarkdown,
		LangText:
		return true
	}
	return false
}
