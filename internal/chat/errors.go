package chat

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/cchalm/gtd-copilot/internal/i18n"
)

const maxSurfacedDetailLength = 200

// Markers of details that are diagnostics rather than something to show a user
var technicalMarkers = []string{
	"traceback",
	"exception",
	"stack",
	"panic",
	"goroutine",
	"sql",
	"http://",
	"https://",
	"status code",
	"internal server error",
	"{",
	"<",
}

// userFacingError turns the detail of an error event into a message for the user. Short, plain details are surfaced;
// anything that looks technical is replaced by the generic message.
func userFacingError(detail string, cat i18n.Catalog) string {
	d := strings.TrimSpace(detail)
	if !safeToSurface(d) {
		return cat.GenericError
	}
	return fmt.Sprintf(cat.AssistantError, d)
}

func safeToSurface(detail string) bool {
	if detail == "" || utf8.RuneCountInString(detail) > maxSurfacedDetailLength {
		return false
	}
	if strings.ContainsAny(detail, "\n\r\t") {
		return false
	}
	lower := strings.ToLower(detail)
	for _, marker := range technicalMarkers {
		if strings.Contains(lower, marker) {
			return false
		}
	}
	return true
}
