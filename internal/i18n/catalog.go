// Package i18n holds the user-facing phrases of the assistant.
package i18n

// Noun is a countable word with its singular and plural forms
type Noun struct {
	One   string
	Other string
}

// Form picks the form matching n
func (n Noun) Form(count int) string {
	if count == 1 {
		return n.One
	}
	return n.Other
}

// Catalog is the set of phrases for one locale
type Catalog struct {
	Locale string

	Project   Noun
	Action    Noun
	Document  Noun
	And       string
	Separator string

	// ProjectCreated takes the project name. ProjectCreatedWith additionally takes the joined item counts.
	ProjectCreated     string
	ProjectCreatedWith string
	// ItemsCreated takes the joined item counts
	ItemsCreated string
	// Applied confirms a change that created no items
	Applied string

	GenericError    string
	ConnectionError string
	// AssistantError takes the error detail reported by the assistant
	AssistantError string
}

var German = Catalog{
	Locale:             "de",
	Project:            Noun{One: "Projekt", Other: "Projekte"},
	Action:             Noun{One: "Aktion", Other: "Aktionen"},
	Document:           Noun{One: "Dokument", Other: "Dokumente"},
	And:                " und ",
	Separator:          ", ",
	ProjectCreated:     "Projekt '%s' erstellt",
	ProjectCreatedWith: "Projekt '%s' erstellt mit %s",
	ItemsCreated:       "%s erstellt",
	Applied:            "Änderung übernommen",
	GenericError:       "Etwas ist schiefgelaufen. Bitte versuche es erneut.",
	ConnectionError:    "Der Assistent ist gerade nicht erreichbar. Bitte versuche es später erneut.",
	AssistantError:     "Der Assistent meldet: %s",
}

var English = Catalog{
	Locale:             "en",
	Project:            Noun{One: "project", Other: "projects"},
	Action:             Noun{One: "action", Other: "actions"},
	Document:           Noun{One: "document", Other: "documents"},
	And:                " and ",
	Separator:          ", ",
	ProjectCreated:     "Project '%s' created",
	ProjectCreatedWith: "Project '%s' created with %s",
	ItemsCreated:       "Created %s",
	Applied:            "Change applied",
	GenericError:       "Something went wrong. Please try again.",
	ConnectionError:    "The assistant can't be reached right now. Please try again later.",
	AssistantError:     "The assistant reports: %s",
}

// Lookup returns the catalog for a locale code, falling back to German
func Lookup(locale string) Catalog {
	switch locale {
	case "en", "en-US", "en-GB":
		return English
	default:
		return German
	}
}
