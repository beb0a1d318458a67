package moderation

import (
	"strconv"
	"strings"
)

// Placeholders recognised in warnings and commands.
const (
	PlaceholderAuthor  = "%player%"
	PlaceholderCount   = "%count%"
	PlaceholderPattern = "%word%"
	PlaceholderMessage = "%message%"
)

// TemplateVars are the values substituted into a stage's templates.
type TemplateVars struct {
	Author  string
	Count   int
	Pattern string
	Message string
}

// replacer substitutes in a single pass, so placeholder text inside a value
// (a message quoting "%player%", say) is left alone.
func (v TemplateVars) replacer() *strings.Replacer {
	return strings.NewReplacer(
		PlaceholderAuthor, v.Author,
		PlaceholderCount, strconv.Itoa(v.Count),
		PlaceholderPattern, v.Pattern,
		PlaceholderMessage, v.Message,
	)
}

// RenderWarning fills the placeholders in a warning template.
func RenderWarning(tmpl string, v TemplateVars) string {
	if tmpl == "" {
		return ""
	}
	return v.replacer().Replace(tmpl)
}

// RenderCommands fills the placeholders in each command. Blank commands are
// dropped and a single leading "/" is removed.
func RenderCommands(cmds []string, v TemplateVars) []string {
	if len(cmds) == 0 {
		return nil
	}
	r := v.replacer()
	out := make([]string, 0, len(cmds))
	for _, c := range cmds {
		if strings.TrimSpace(c) == "" {
			continue
		}
		c = strings.TrimSpace(r.Replace(c))
		c = strings.TrimPrefix(c, "/")
		if c == "" {
			continue
		}
		out = append(out, c)
	}
	return out
}
