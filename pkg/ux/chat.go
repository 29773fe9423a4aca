// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianNewswire/services/newswire/datatypes"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// TurnFunc executes one dialogue turn against the service.
type TurnFunc func(message string) (*datatypes.ChatResponse, error)

var (
	styleYou      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	styleAssist   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	styleNote     = lipgloss.NewStyle().Faint(true)
	styleChatWarn = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

// RunChat starts the interactive chat loop. It blocks until the user
// exits with ctrl+c, esc, or /quit.
func RunChat(sessionID string, turn TurnFunc) error {
	model := newChatModel(sessionID, turn)
	_, err := tea.NewProgram(model).Run()
	return err
}

type turnResultMsg struct {
	resp *datatypes.ChatResponse
	err  error
}

type chatModel struct {
	input   textinput.Model
	spin    spinner.Model
	turn    TurnFunc
	lines   []string
	waiting bool
	session string
}

func newChatModel(sessionID string, turn TurnFunc) chatModel {
	input := textinput.New()
	input.Placeholder = "Ask about the news (/quit to exit)"
	input.Prompt = "> "
	input.CharLimit = 4096
	input.Focus()

	spin := spinner.New()
	spin.Spinner = spinner.Dot

	lines := []string{styleNote.Render("Connected. Replies cite retrieved articles as [n].")}
	if sessionID != "" {
		lines = append(lines, styleNote.Render("session: "+sessionID))
	}

	return chatModel{
		input:   input,
		spin:    spin,
		turn:    turn,
		lines:   lines,
		session: sessionID,
	}
}

func (m chatModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			if m.waiting {
				return m, nil
			}
			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				return m, nil
			}
			if text == "/quit" || text == "/exit" {
				return m, tea.Quit
			}
			m.input.Reset()
			m.lines = append(m.lines, styleYou.Render("you: ")+text)
			m.waiting = true
			return m, tea.Batch(m.spin.Tick, m.runTurn(text))
		}

	case turnResultMsg:
		m.waiting = false
		if msg.err != nil {
			m.lines = append(m.lines, styleChatWarn.Render("error: "+msg.err.Error()))
			return m, nil
		}
		m.lines = append(m.lines, m.renderReply(msg.resp)...)
		return m, nil

	case spinner.TickMsg:
		if !m.waiting {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m chatModel) View() string {
	var b strings.Builder
	for _, line := range m.lines {
		b.WriteString(line)
		b.WriteString("\n")
	}
	if m.waiting {
		b.WriteString(m.spin.View() + " thinking...\n")
	} else {
		b.WriteString(m.input.View() + "\n")
	}
	return b.String()
}

func (m chatModel) runTurn(text string) tea.Cmd {
	return func() tea.Msg {
		resp, err := m.turn(text)
		return turnResultMsg{resp: resp, err: err}
	}
}

func (m chatModel) renderReply(resp *datatypes.ChatResponse) []string {
	lines := []string{styleAssist.Render("newswire: ") + resp.Reply}
	for _, src := range resp.Sources {
		label := src.Title
		if label == "" {
			label = src.Fingerprint
		}
		lines = append(lines, styleNote.Render(fmt.Sprintf("  [%d] %s (%.2f)", src.Index, label, src.Score)))
	}
	for _, warning := range resp.Warnings {
		lines = append(lines, styleChatWarn.Render("  ! "+warning))
	}
	if len(resp.Suggestions) > 0 {
		lines = append(lines, styleNote.Render("  follow-ups: "+strings.Join(resp.Suggestions, " | ")))
	}
	return lines
}
