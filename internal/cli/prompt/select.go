package prompt

import (
	"github.com/manifoldco/promptui"
)

// SelectOption is one entry in a selection list. Value is what the
// caller receives; a Description on the first option enables the detail
// pane under the list.
type SelectOption struct {
	Label       string
	Value       string
	Description string
}

// Select presents a list, such as the storage driver choice, and
// returns the Value of the chosen option. Ctrl+C returns ErrAborted.
func Select(label string, options []SelectOption) (string, error) {
	templates := &promptui.SelectTemplates{
		Label:    "{{ . }}",
		Active:   "> {{ .Label | cyan }}",
		Inactive: "  {{ .Label | white }}",
		Selected: "* {{ .Label | green }}",
	}
	if len(options) > 0 && options[0].Description != "" {
		templates.Details = `
{{ "Description:" | faint }}	{{ .Description }}`
	}

	p := promptui.Select{
		Label:     label,
		Items:     options,
		Templates: templates,
		Size:      10,
	}

	i, _, err := p.Run()
	if err != nil {
		return "", wrapError(err)
	}
	return options[i].Value, nil
}
