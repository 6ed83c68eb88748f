package suggestion

import (
	"fmt"
	"strings"

	"github.com/cchalm/gtd-copilot/internal/i18n"
	"github.com/cchalm/gtd-copilot/internal/items"
)

// Summarize derives the confirmation text for a set of created items. A single project leads the sentence by name and
// the remaining counts are joined with "and"; otherwise every group is counted and the groups are comma-separated.
func Summarize(refs []items.CreatedItemRef, cat i18n.Catalog) string {
	var projects []items.CreatedItemRef
	actions, documents := 0, 0
	for _, ref := range refs {
		switch ref.Type {
		case items.RefProject:
			projects = append(projects, ref)
		case items.RefReference:
			documents++
		default:
			actions++
		}
	}

	if len(projects) == 1 {
		var rest []string
		if actions > 0 {
			rest = append(rest, count(actions, cat.Action))
		}
		if documents > 0 {
			rest = append(rest, count(documents, cat.Document))
		}
		if len(rest) == 0 {
			return fmt.Sprintf(cat.ProjectCreated, projects[0].Name)
		}
		return fmt.Sprintf(cat.ProjectCreatedWith, projects[0].Name, strings.Join(rest, cat.And))
	}

	var groups []string
	if len(projects) > 0 {
		groups = append(groups, count(len(projects), cat.Project))
	}
	if actions > 0 {
		groups = append(groups, count(actions, cat.Action))
	}
	if documents > 0 {
		groups = append(groups, count(documents, cat.Document))
	}
	if len(groups) == 0 {
		return cat.Applied
	}
	return fmt.Sprintf(cat.ItemsCreated, strings.Join(groups, cat.Separator))
}

func count(n int, noun i18n.Noun) string {
	return fmt.Sprintf("%d %s", n, noun.Form(n))
}
