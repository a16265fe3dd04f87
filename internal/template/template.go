// Package template renders per-target command templates for ssh-commander.
package template

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"ssh-commander/internal/target"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Context provides data available in templates
type Context struct {
	Host string
	User string
	Port int
	Tags []string
}

// Engine caches parsed command templates
type Engine struct {
	templates map[string]*template.Template
}

// NewEngine creates a new template engine
func NewEngine() *Engine {
	return &Engine{
		templates: make(map[string]*template.Template),
	}
}

// Render returns command unchanged when it has no template syntax,
// otherwise the command rendered against t.
func (e *Engine) Render(command string, t target.Target) (string, error) {
	if !IsTemplate(command) {
		return command, nil
	}

	tmpl, ok := e.templates[command]
	if !ok {
		var err error
		tmpl, err = parse("command", command)
		if err != nil {
			return "", err
		}
		e.templates[command] = tmpl
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, newContext(t)); err != nil {
		return "", fmt.Errorf("failed to render command for %s: %w", t.Host, err)
	}

	return buf.String(), nil
}

func parse(name, text string) (*template.Template, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Funcs(templateFuncs()).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse command template: %w", err)
	}
	return tmpl, nil
}

func newContext(t target.Target) Context {
	return Context{
		Host: t.Host,
		User: t.User,
		Port: t.Port,
		Tags: t.TagSet(),
	}
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"upper":   strings.ToUpper,
		"lower":   strings.ToLower,
		"title":   cases.Title(language.English).String,
		"trim":    strings.TrimSpace,
		"replace": strings.ReplaceAll,

		"hasTag": func(tags []string, tag string) bool {
			for _, t := range tags {
				if strings.EqualFold(t, tag) {
					return true
				}
			}
			return false
		},

		"hostShort": func(host string) string {
			if idx := strings.Index(host, "."); idx != -1 {
				return host[:idx]
			}
			return host
		},

		"hostDomain": func(host string) string {
			if idx := strings.Index(host, "."); idx != -1 {
				return host[idx+1:]
			}
			return ""
		},
	}
}

// IsTemplate checks if a command string contains template syntax
func IsTemplate(command string) bool {
	return strings.Contains(command, "{{") && strings.Contains(command, "}}")
}

// Validate parses every templated command without executing it, so a
// malformed command list fails before any host is contacted.
func Validate(commands ...string) error {
	for _, command := range commands {
		if !IsTemplate(command) {
			continue
		}
		if _, err := parse("validation", command); err != nil {
			return fmt.Errorf("%q: %w", command, err)
		}
	}
	return nil
}
