// Package render binds message templates to variable mappings and
// produces channel-ready subject/body pairs. Rendering is pure and
// deterministic: identical inputs always yield byte-identical output,
// which retried sends depend on.
package render

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"schoolbell/internal/domain/entity"
	"schoolbell/internal/repository"
)

const (
	// tenantDefaultCode is the tenant-configured default template used
	// when the category-specific template is absent.
	tenantDefaultCode = "default"

	// systemFallbackCode is the system-wide last resort, owned by the
	// system tenant.
	systemFallbackCode = "fallback"

	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

// placeholderPattern matches {name} placeholders in subjects and bodies.
var placeholderPattern = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// Renderer resolves templates through the deterministic fallback chain
// and substitutes placeholders.
type Renderer struct {
	templates repository.TemplateRepository
}

// NewRenderer creates a Renderer on top of a template store.
func NewRenderer(templates repository.TemplateRepository) *Renderer {
	return &Renderer{templates: templates}
}

// Render resolves the template for (tenant, code, channel) and binds the
// variables. The fallback chain is, in order:
//
//  1. (tenant, code, channel)
//  2. (tenant, "default", channel)
//  3. (system tenant, "fallback", channel)
//
// Fails with ErrTemplateNotFound when the whole chain misses,
// ErrMissingVariable when a required placeholder has no value, and
// ErrVariableValidation when a typed variable cannot be coerced.
func (r *Renderer) Render(ctx context.Context, tenantID int64, code string, channel entity.Channel, vars map[string]string) (*entity.RenderedMessage, error) {
	tmpl, err := r.resolve(ctx, tenantID, code, channel)
	if err != nil {
		return nil, err
	}

	if err := validateVariables(tmpl, vars); err != nil {
		return nil, err
	}

	return &entity.RenderedMessage{
		Subject: substitute(tmpl.Subject, vars),
		Body:    substitute(tmpl.Body, vars),
	}, nil
}

func (r *Renderer) resolve(ctx context.Context, tenantID int64, code string, channel entity.Channel) (*entity.MessageTemplate, error) {
	lookups := []struct {
		tenantID int64
		code     string
	}{
		{tenantID, code},
		{tenantID, tenantDefaultCode},
		{repository.SystemTenantID, systemFallbackCode},
	}

	for _, l := range lookups {
		tmpl, err := r.templates.Find(ctx, l.tenantID, l.code, channel)
		if err == nil {
			return tmpl, nil
		}
		if !errors.Is(err, entity.ErrNotFound) {
			return nil, fmt.Errorf("resolve template %q: %w", l.code, err)
		}
	}
	return nil, fmt.Errorf("%w: tenant=%d code=%q channel=%s", ErrTemplateNotFound, tenantID, code, channel)
}

func validateVariables(tmpl *entity.MessageTemplate, vars map[string]string) error {
	for _, name := range tmpl.Required {
		if _, ok := vars[name]; !ok {
			return fmt.Errorf("%w: %q in template %q", ErrMissingVariable, name, tmpl.Code)
		}
	}

	for name, typ := range tmpl.VarTypes {
		value, ok := vars[name]
		if !ok {
			continue // optional and absent; required-ness checked above
		}
		if err := coerce(value, typ); err != nil {
			return fmt.Errorf("%w: %q=%q: %v", ErrVariableValidation, name, value, err)
		}
	}
	return nil
}

func coerce(value string, typ entity.VarType) error {
	switch typ {
	case entity.VarString, "":
		return nil
	case entity.VarNumber:
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			return fmt.Errorf("expected number")
		}
	case entity.VarDate:
		if _, err := time.Parse(dateLayout, value); err != nil {
			return fmt.Errorf("expected date (%s)", dateLayout)
		}
	case entity.VarTime:
		if _, err := time.Parse(timeLayout, value); err != nil {
			return fmt.Errorf("expected time (%s)", timeLayout)
		}
	default:
		return fmt.Errorf("unknown variable type %q", typ)
	}
	return nil
}

// substitute replaces every {name} placeholder with its value. Optional
// placeholders without a value render as the empty string.
func substitute(text string, vars map[string]string) string {
	if !strings.Contains(text, "{") {
		return text
	}
	return placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
		name := match[1 : len(match)-1]
		return vars[name]
	})
}
