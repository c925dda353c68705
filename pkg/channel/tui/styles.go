package tui

import "github.com/charmbracelet/lipgloss"

// theme groups reusable styles for chat UI regions.
type theme struct {
	header       lipgloss.Style
	headerMeta   lipgloss.Style
	divider      lipgloss.Style
	bootLine     lipgloss.Style
	bootDone     lipgloss.Style
	closed       lipgloss.Style
	userBox      lipgloss.Style
	userTitle    lipgloss.Style
	relayBox     lipgloss.Style
	relayTitle   lipgloss.Style
	errorBox     lipgloss.Style
	errorTitle   lipgloss.Style
	status       lipgloss.Style
	statusBusy   lipgloss.Style
	statusErr    lipgloss.Style
	hint         lipgloss.Style
	inputLabel   lipgloss.Style
	input        lipgloss.Style
	viewport     lipgloss.Style
	goodbyeStyle lipgloss.Style
}

func card(border lipgloss.Color, background lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(border).
		Background(background).
		Padding(0, 1)
}

func badge(foreground lipgloss.Color, background lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().
		Bold(true).
		Foreground(foreground).
		Background(background).
		Padding(0, 1)
}

// defaultTheme defines the slate and teal palette used by the relay chat.
func defaultTheme() theme {
	return theme{
		header:       badge(lipgloss.Color("231"), lipgloss.Color("24")),
		headerMeta:   lipgloss.NewStyle().Foreground(lipgloss.Color("152")),
		divider:      lipgloss.NewStyle().Foreground(lipgloss.Color("67")),
		bootLine:     lipgloss.NewStyle().Foreground(lipgloss.Color("110")),
		bootDone:     lipgloss.NewStyle().Foreground(lipgloss.Color("114")).Bold(true),
		closed:       lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("108")),
		userBox:      card(lipgloss.Color("180"), lipgloss.Color("236")),
		userTitle:    badge(lipgloss.Color("16"), lipgloss.Color("180")),
		relayBox:     card(lipgloss.Color("37"), lipgloss.Color("235")),
		relayTitle:   badge(lipgloss.Color("16"), lipgloss.Color("37")),
		errorBox:     card(lipgloss.Color("167"), lipgloss.Color("52")).Foreground(lipgloss.Color("217")),
		errorTitle:   badge(lipgloss.Color("231"), lipgloss.Color("124")),
		status:       lipgloss.NewStyle().Foreground(lipgloss.Color("250")).Bold(true),
		statusBusy:   lipgloss.NewStyle().Foreground(lipgloss.Color("79")).Bold(true),
		statusErr:    lipgloss.NewStyle().Foreground(lipgloss.Color("167")).Bold(true),
		hint:         lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		inputLabel:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("152")),
		input:        card(lipgloss.Color("67"), lipgloss.Color("236")),
		viewport:     lipgloss.NewStyle().Border(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("67")).Padding(0, 1),
		goodbyeStyle: badge(lipgloss.Color("231"), lipgloss.Color("24")).Padding(1, 2),
	}
}
