package localization

import (
	"embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed translations/*.yaml
var translationsFS embed.FS

const DefaultLanguage = "ru"

var Languages = []string{"ru", "en"}

type Service struct {
	translations map[string]map[string]interface{}
	fallback     string
}

// NewService loads embedded bundles. Unknown languages fall back to fallback, then to ru.
func NewService(fallback string) (*Service, error) {
	s := &Service{
		translations: make(map[string]map[string]interface{}),
		fallback:     DefaultLanguage,
	}

	for _, lang := range Languages {
		data, err := translationsFS.ReadFile(fmt.Sprintf("translations/%s.yaml", lang))
		if err != nil {
			return nil, fmt.Errorf("read %s translations: %w", lang, err)
		}

		var translations map[string]interface{}
		if err := yaml.Unmarshal(data, &translations); err != nil {
			return nil, fmt.Errorf("parse %s translations: %w", lang, err)
		}

		s.translations[lang] = translations
	}

	if fallback != "" {
		if _, ok := s.translations[fallback]; !ok {
			return nil, fmt.Errorf("unsupported language %q", fallback)
		}
		s.fallback = fallback
	}

	return s, nil
}

// Get retrieves a translation by key for the given language
// Key format: "section.subsection.key" or "section.key"
// Params can contain placeholders like {{name}}, {{amount}}, etc.
func (s *Service) Get(lang, key string, params map[string]interface{}) string {
	if lang == "" {
		lang = s.fallback
	}

	text, ok := s.lookup(lang, key)
	if !ok && lang != s.fallback {
		text, ok = s.lookup(s.fallback, key)
	}
	if !ok {
		return key
	}

	return s.replacePlaceholders(text, params)
}

func (s *Service) lookup(lang, key string) (string, bool) {
	langTranslations, ok := s.translations[lang]
	if !ok {
		return "", false
	}

	var current interface{} = langTranslations
	for _, part := range strings.Split(key, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return "", false
		}
		current = m[part]
	}

	text, ok := current.(string)
	return text, ok
}

func (s *Service) replacePlaceholders(text string, params map[string]interface{}) string {
	if params == nil {
		return text
	}

	result := text
	for key, value := range params {
		placeholder := fmt.Sprintf("{{%s}}", key)
		result = strings.ReplaceAll(result, placeholder, fmt.Sprint(value))
	}

	return result
}
