// Package template renders string templates against instance variables.
// Notification messages and other user-facing step config strings use
// Go template syntax with the variable snapshot as the data root.
package template

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/orchon/orchon/pkg/models"
)

// RenderWithVariables renders input against a variable snapshot. Variables
// are addressable as {{ .vars.<name> }}; instance identity as
// {{ .instance.id }} and {{ .instance.definition_id }}.
func RenderWithVariables(input string, instance *models.WorkflowInstance, vars map[string]models.Value) (string, error) {
	data := map[string]any{
		"vars": models.MapToAny(vars),
		"instance": map[string]any{
			"id":            instance.ID,
			"definition_id": instance.DefinitionID,
		},
	}

	return Render(input, data)
}

// Render parses and executes a single template string. Missing keys are an
// error rather than "<no value>" so broken notification messages surface at
// execution time.
func Render(templateStr string, data any) (string, error) {
	tmpl, err := template.
		New("render").
		Option("missingkey=error").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
			"upper": strings.ToUpper,
			"lower": strings.ToLower,
		}).Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	return buf.String(), nil
}
