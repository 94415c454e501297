// Package i18n holds the canned user-facing texts in every supported language.
package i18n

import (
	"embed"
	"fmt"

	goi18n "github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"relocation-assistant/internal/domain"
)

// Message ids.
const (
	Welcome                = "welcome"
	Help                   = "help"
	LanguageChanged        = "language_changed"
	LanguageUsage          = "language_usage"
	QuotaExhausted         = "quota_exhausted"
	GenericError           = "generic_error"
	TemporarilyUnavailable = "temporarily_unavailable"
	DigestHeader           = "digest_header"
	ReplyToLabel           = "reply_to_label"
	RefreshDone            = "refresh_done"
	AdminOnly              = "admin_only"
	UnknownCommand         = "unknown_command"
)

//go:embed active.*.yaml
var messageFiles embed.FS

// Catalog resolves message ids to localized text.
type Catalog struct {
	bundle     *goi18n.Bundle
	fallback   domain.Language
	localizers map[domain.Language]*goi18n.Localizer
}

// New loads the embedded message files. Lookups in a language without the
// message fall back to fallback.
func New(fallback domain.Language) (*Catalog, error) {
	fallbackTag, err := language.Parse(string(fallback))
	if err != nil {
		return nil, fmt.Errorf("i18n: parse fallback language: %w", err)
	}
	bundle := goi18n.NewBundle(fallbackTag)
	bundle.RegisterUnmarshalFunc("yaml", yaml.Unmarshal)

	for _, lang := range domain.Languages {
		name := "active." + string(lang) + ".yaml"
		data, err := messageFiles.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("i18n: read %s: %w", name, err)
		}
		if _, err := bundle.ParseMessageFileBytes(data, name); err != nil {
			return nil, fmt.Errorf("i18n: parse %s: %w", name, err)
		}
	}

	c := &Catalog{
		bundle:     bundle,
		fallback:   fallback,
		localizers: make(map[domain.Language]*goi18n.Localizer, len(domain.Languages)),
	}
	for _, lang := range domain.Languages {
		c.localizers[lang] = goi18n.NewLocalizer(bundle, string(lang), string(fallback))
	}
	return c, nil
}

// Text returns message id in lang, rendered with data. Unknown languages use
// the fallback language; unknown ids come back as the id itself.
func (c *Catalog) Text(lang domain.Language, id string, data map[string]any) string {
	loc, ok := c.localizers[lang]
	if !ok {
		loc = c.localizers[c.fallback]
	}
	if loc == nil {
		return id
	}
	out, err := loc.Localize(&goi18n.LocalizeConfig{MessageID: id, TemplateData: data})
	if err != nil || out == "" {
		return id
	}
	return out
}

// Headers returns the digest header for every supported language.
func (c *Catalog) Headers() map[domain.Language]string {
	out := make(map[domain.Language]string, len(domain.Languages))
	for _, lang := range domain.Languages {
		out[lang] = c.Text(lang, DigestHeader, nil)
	}
	return out
}
