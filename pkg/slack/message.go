package slack

import (
	"fmt"
	"unicode/utf8"

	goslack "github.com/slack-go/slack"

	"github.com/meridian-labs/surveyor/pkg/models"
)

const maxBlockTextLength = 2900

var statusEmoji = map[models.MissionStatus]string{
	models.MissionSucceeded: ":white_check_mark:",
	models.MissionFailed:    ":x:",
	models.MissionCancelled: ":no_entry_sign:",
}

var statusLabel = map[models.MissionStatus]string{
	models.MissionSucceeded: "Research Mission Succeeded",
	models.MissionFailed:    "Research Mission Failed",
	models.MissionCancelled: "Research Mission Cancelled",
}

// MissionOutcome describes a finished mission for notification purposes.
type MissionOutcome struct {
	MissionID string
	Title     string // from the plan; may be empty when lookup failed
	Status    models.MissionStatus
	Error     string // terminal failure reason (failed missions only)
}

func missionURL(missionID, dashboardURL string) string {
	return fmt.Sprintf("%s/missions/%s", dashboardURL, missionID)
}

// BuildMissionMessage creates Block Kit blocks for a mission terminal
// notification.
func BuildMissionMessage(outcome MissionOutcome, dashboardURL string) []goslack.Block {
	emoji := statusEmoji[outcome.Status]
	if emoji == "" {
		emoji = ":question:"
	}
	label := statusLabel[outcome.Status]
	if label == "" {
		label = "Research Mission " + string(outcome.Status)
	}

	headerText := fmt.Sprintf("%s *%s*", emoji, label)
	if outcome.Title != "" {
		headerText += fmt.Sprintf("\n*%s*", outcome.Title)
	} else {
		headerText += fmt.Sprintf("\nMission `%s`", outcome.MissionID)
	}
	if outcome.Error != "" {
		headerText += fmt.Sprintf("\n\n*Error:*\n%s", truncateForSlack(outcome.Error))
	}

	blocks := []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, headerText, false, false),
			nil, nil,
		),
	}

	buttonText := "View Results"
	if outcome.Status != models.MissionSucceeded {
		buttonText = "View Details"
	}
	btn := goslack.NewButtonBlockElement("", "", goslack.NewTextBlockObject(goslack.PlainTextType, buttonText, false, false))
	btn.URL = missionURL(outcome.MissionID, dashboardURL)
	blocks = append(blocks, goslack.NewActionBlock("", btn))

	return blocks
}

func truncateForSlack(text string) string {
	if len(text) <= maxBlockTextLength {
		return text
	}
	// Back off to a rune boundary so the cut never splits a multi-byte
	// character.
	cut := maxBlockTextLength
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "\n\n_... (truncated — full detail in dashboard)_"
}
