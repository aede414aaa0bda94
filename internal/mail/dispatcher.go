package mail

import (
	"context"
	"fmt"
	"html"
	"strings"

	"go.uber.org/zap"

	"famlocator.app/internal/obs"
	"famlocator.app/internal/settings"
)

// TemplateSource provides the site settings that carry the email templates.
type TemplateSource interface {
	Get(ctx context.Context) (settings.SiteSettings, error)
}

// Dispatcher renders verification emails from the site templates and hands
// them to a Sender.
type Dispatcher struct {
	sender    Sender
	templates TemplateSource
}

func NewDispatcher(sender Sender, templates TemplateSource) *Dispatcher {
	return &Dispatcher{sender: sender, templates: templates}
}

// SendVerification emails token to the given address.
func (d *Dispatcher) SendVerification(ctx context.Context, to, name, token string) error {
	site := settings.Defaults()
	if d.templates != nil {
		if cfg, err := d.templates.Get(ctx); err == nil {
			site = cfg
		} else {
			obs.Logger().Warn("verification email: using default templates", zap.Error(err))
		}
	}
	msg := RenderVerification(site, to, name, token)
	err := d.sender.Send(ctx, msg)
	obs.RecordEmail(err == nil)
	if err != nil {
		obs.Logger().Error("verification email failed", zap.String("to", to), zap.Error(err))
		return fmt.Errorf("send verification: %w", err)
	}
	return nil
}

// RenderVerification fills {{token}}, {{name}} and {{siteName}} in the
// verification template. The HTML part escapes every value and emphasises the token.
func RenderVerification(site settings.SiteSettings, to, name, token string) Message {
	tpl := site.EmailTemplates.Verification
	defaults := settings.Defaults().EmailTemplates.Verification
	if strings.TrimSpace(tpl.Subject) == "" {
		tpl.Subject = defaults.Subject
	}
	if !strings.Contains(tpl.Body, settings.TokenPlaceholder) {
		tpl.Body = defaults.Body
	}

	plain := strings.NewReplacer(
		settings.TokenPlaceholder, token,
		"{{name}}", name,
		"{{siteName}}", site.SiteName,
	)
	escaped := strings.NewReplacer(
		html.EscapeString(settings.TokenPlaceholder), "<strong>"+html.EscapeString(token)+"</strong>",
		html.EscapeString("{{name}}"), html.EscapeString(name),
		html.EscapeString("{{siteName}}"), html.EscapeString(site.SiteName),
	)

	body := html.EscapeString(tpl.Body)
	body = strings.ReplaceAll(body, "\n", "<br>")
	return Message{
		FromName: site.SiteName,
		To:       to,
		Subject:  plain.Replace(tpl.Subject),
		Text:     plain.Replace(tpl.Body),
		HTML:     "<p>" + escaped.Replace(body) + "</p>",
	}
}
