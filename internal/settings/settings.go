package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"famlocator.app/internal/audit"
	"famlocator.app/internal/store"
)

// ErrInvalid is returned when a save would produce an unusable configuration.
var ErrInvalid = errors.New("settings: invalid")

// TokenPlaceholder marks where the verification token goes in email templates.
const TokenPlaceholder = "{{token}}"

type Colors struct {
	Primary    string `json:"primary"`
	Accent     string `json:"accent"`
	Background string `json:"background"`
}

type EmailTemplate struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type EmailTemplates struct {
	Verification EmailTemplate `json:"verification"`
}

// SiteSettings is the single site-wide configuration document.
type SiteSettings struct {
	SiteName            string         `json:"siteName"`
	Copyright           string         `json:"copyright"`
	IconURL             string         `json:"iconUrl"`
	Colors              Colors         `json:"colors"`
	DeveloperCreditText string         `json:"developerCreditText"`
	DeveloperName       string         `json:"developerName"`
	DeveloperURL        string         `json:"developerUrl"`
	IsChatEnabled       bool           `json:"isChatEnabled"`
	EmailTemplates      EmailTemplates `json:"emailTemplates"`
}

// Defaults returns the configuration used when nothing is stored.
func Defaults() SiteSettings {
	return SiteSettings{
		SiteName:  "FAMLocator",
		Copyright: "© 2024 FAMLocator. Todos los derechos reservados.",
		Colors: Colors{
			Primary:    "#26A69A",
			Accent:     "#64B5F6",
			Background: "#F5F5F5",
		},
		DeveloperCreditText: "Desarrollado por",
		DeveloperName:       "RchBytec Srl",
		DeveloperURL:        "https://rchbytec.com.ar",
		IsChatEnabled:       true,
		EmailTemplates: EmailTemplates{
			Verification: EmailTemplate{
				Subject: "Verifica tu cuenta de {{siteName}}",
				Body:    "Hola {{name}}, tu código de verificación es: {{token}}",
			},
		},
	}
}

var hexColor = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// Validate reports every problem with s.
func (s SiteSettings) Validate() error {
	var problems []string
	if strings.TrimSpace(s.SiteName) == "" {
		problems = append(problems, "siteName is required")
	}
	for name, c := range map[string]string{
		"colors.primary":    s.Colors.Primary,
		"colors.accent":     s.Colors.Accent,
		"colors.background": s.Colors.Background,
	} {
		if !hexColor.MatchString(c) {
			problems = append(problems, fmt.Sprintf("%s must be a hex colour", name))
		}
	}
	for name, raw := range map[string]string{"iconUrl": s.IconURL, "developerUrl": s.DeveloperURL} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			problems = append(problems, fmt.Sprintf("%s must be an http(s) URL", name))
		}
	}
	if !strings.Contains(s.EmailTemplates.Verification.Body, TokenPlaceholder) {
		problems = append(problems, "emailTemplates.verification.body must contain "+TokenPlaceholder)
	}
	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
}

// Service reads and writes the site configuration.
type Service struct {
	store store.Store
}

func NewService(st store.Store) *Service {
	return &Service{store: st}
}

// Get returns the stored settings merged over the defaults. When nothing is
// stored yet the defaults are persisted and returned.
func (s *Service) Get(ctx context.Context) (SiteSettings, error) {
	doc, err := s.store.Settings(ctx).Load(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return s.createDefaults(ctx)
	}
	if err != nil {
		return SiteSettings{}, err
	}
	return decode(doc)
}

func (s *Service) createDefaults(ctx context.Context) (SiteSettings, error) {
	var out SiteSettings
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Store) error {
		doc, err := tx.Settings(ctx).Load(ctx)
		if err == nil {
			out, err = decode(doc)
			return err
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		out = Defaults()
		raw, err := json.Marshal(out)
		if err != nil {
			return err
		}
		return tx.Settings(ctx).Save(ctx, raw)
	})
	return out, err
}

// Save merges patch, a JSON object with any subset of the settings fields,
// into the stored document and returns the result. Nested objects are merged
// key by key; every other value replaces the stored one.
func (s *Service) Save(ctx context.Context, patch []byte) (SiteSettings, error) {
	var incoming map[string]any
	if err := json.Unmarshal(patch, &incoming); err != nil || incoming == nil {
		return SiteSettings{}, fmt.Errorf("%w: settings must be a JSON object", ErrInvalid)
	}

	var out SiteSettings
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Store) error {
		current, err := tx.Settings(ctx).Load(ctx)
		if errors.Is(err, store.ErrNotFound) {
			current, err = json.Marshal(Defaults())
		}
		if err != nil {
			return err
		}
		var stored map[string]any
		if err := json.Unmarshal(current, &stored); err != nil || stored == nil {
			stored = map[string]any{}
		}

		merged, err := json.Marshal(mergeMaps(stored, incoming))
		if err != nil {
			return err
		}
		out, err = decode(merged)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		if err := out.Validate(); err != nil {
			return err
		}
		normalized, err := json.Marshal(out)
		if err != nil {
			return err
		}
		if err := tx.Settings(ctx).Save(ctx, normalized); err != nil {
			return err
		}
		return audit.Record(ctx, tx, store.AuditEntry{
			Action:       "settings.saved",
			ResourceType: "settings",
			ResourceID:   "site",
			Metadata:     map[string]string{"bytes": strconv.Itoa(len(patch))},
		})
	})
	if err != nil {
		return SiteSettings{}, err
	}
	return out, nil
}

// Replace stores a complete settings value through the merge path.
func (s *Service) Replace(ctx context.Context, v SiteSettings) (SiteSettings, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return SiteSettings{}, err
	}
	return s.Save(ctx, raw)
}

// ChatEnabled reports the site-wide chat switch.
func (s *Service) ChatEnabled(ctx context.Context) (bool, error) {
	cfg, err := s.Get(ctx)
	if err != nil {
		return false, err
	}
	return cfg.IsChatEnabled, nil
}

// decode lays the stored document over the defaults; fields missing from the
// document keep their default values at every nesting level.
func decode(doc []byte) (SiteSettings, error) {
	out := Defaults()
	if len(doc) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(doc, &out); err != nil {
		return SiteSettings{}, fmt.Errorf("decode settings: %w", err)
	}
	return out, nil
}

func mergeMaps(dst, src map[string]any) map[string]any {
	for k, v := range src {
		srcMap, srcIsMap := v.(map[string]any)
		dstMap, dstIsMap := dst[k].(map[string]any)
		if srcIsMap && dstIsMap {
			dst[k] = mergeMaps(dstMap, srcMap)
			continue
		}
		dst[k] = v
	}
	return dst
}
