// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/jeranaias/gptchat/internal/model"
)

const (
	idColumnWidth   = 15
	dateColumnWidth = 16
	minTitleWidth   = 20
)

// renderConversationTable writes one row per conversation. Columns are
// measured in display cells so wide characters line up.
func renderConversationTable(w io.Writer, convs []model.Conversation, activeID string, width int) {
	if len(convs) == 0 {
		fmt.Fprintln(w, DimStyle.Render("No conversations."))
		return
	}

	titleWidth := width - idColumnWidth - dateColumnWidth - 6
	if titleWidth < minTitleWidth {
		titleWidth = minTitleWidth
	}

	header := fmt.Sprintf("  %s %s %s",
		runewidth.FillRight("ID", idColumnWidth),
		runewidth.FillRight("TITLE", titleWidth),
		"CREATED")
	fmt.Fprintln(w, DimStyle.Render(header))

	for _, c := range convs {
		marker := "  "
		if c.ID == activeID {
			marker = "* "
		}
		title := strings.ReplaceAll(c.Title, "\n", " ")
		title = runewidth.Truncate(title, titleWidth, "…")

		created := ""
		if !c.CreatedAt.IsZero() {
			created = c.CreatedAt.Local().Format("2006-01-02 15:04")
		}

		row := fmt.Sprintf("%s%s %s %s",
			marker,
			runewidth.FillRight(runewidth.Truncate(c.ID, idColumnWidth, "…"), idColumnWidth),
			runewidth.FillRight(title, titleWidth),
			created)
		if c.ID == activeID {
			row = ActiveStyle.Render(row)
		}
		fmt.Fprintln(w, row)

		if c.LastMessagePreview != "" {
			preview := runewidth.Truncate(strings.ReplaceAll(c.LastMessagePreview, "\n", " "), titleWidth, "…")
			fmt.Fprintln(w, DimStyle.Render(strings.Repeat(" ", idColumnWidth+3)+preview))
		}
	}
}

// renderMessages prints a thread.
func renderMessages(w io.Writer, msgs []model.Message) {
	if len(msgs) == 0 {
		fmt.Fprintln(w, DimStyle.Render("(no messages yet)"))
		return
	}
	for _, m := range msgs {
		renderMessage(w, m)
	}
}

func renderMessage(w io.Writer, m model.Message) {
	style := UserStyle
	if !m.IsUser() {
		style = AssistantStyle
	}
	fmt.Fprintln(w, style.Render(m.Role.DisplayName()+":"))
	content := m.Content
	if content == "" {
		content = DimStyle.Render("(empty reply)")
	}
	fmt.Fprintln(w, content)
	fmt.Fprintln(w)
}
