// Package command turns capture command templates and tag lists into the
// command a transport actually runs.
//
// # Security Model
//
// Templates and tags are substituted verbatim. Nothing is quoted or escaped:
// the local transport passes whitespace-separated tokens straight to the
// device bridge, and the remote transport hands the whole line to a shell.
// Callers that accept templates from untrusted sources should install a
// stricter Resolver.
package command

import (
	"strings"

	"github.com/charliek/logtap/internal/constants"
	"github.com/charliek/logtap/internal/domain"
)

// Resolver produces the final command line for a capture
type Resolver interface {
	Resolve(template string, tags []string, kind domain.TransportKind) string
}

// Templates resolves commands using a registry of per-transport defaults
type Templates struct {
	Defaults map[domain.TransportKind]string
}

// DefaultTemplates returns the built-in default registry
func DefaultTemplates() *Templates {
	return &Templates{
		Defaults: map[domain.TransportKind]string{
			domain.TransportLocal:  constants.DefaultLocalCommand,
			domain.TransportRemote: constants.DefaultRemoteCommand,
		},
	}
}

// Resolve picks the default template for kind when template is empty and
// substitutes every tag placeholder with the space-joined tags.
func (t *Templates) Resolve(template string, tags []string, kind domain.TransportKind) string {
	if template == "" {
		template = t.Default(kind)
	}
	return Substitute(template, tags)
}

// Default returns the registered default template for kind
func (t *Templates) Default(kind domain.TransportKind) string {
	if t == nil || t.Defaults == nil {
		return DefaultTemplates().Defaults[kind]
	}
	return t.Defaults[kind]
}

// Substitute replaces every placeholder in template with the tags joined by single spaces
func Substitute(template string, tags []string) string {
	return strings.ReplaceAll(template, constants.TagsPlaceholder, strings.Join(tags, " "))
}

// Argv splits a resolved command into tokens on whitespace.
// There is no quoting support; "|" and friends are ordinary tokens.
func Argv(command string) []string {
	return strings.Fields(command)
}
