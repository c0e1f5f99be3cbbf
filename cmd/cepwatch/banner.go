package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

func printStartupBanner(cfg appConfig, sessionID string, socketOK, storeOK bool) {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	bold := lipgloss.NewStyle().Bold(true)

	check := green.Render("●")
	dot := dim.Render("●")

	row := func(ok bool, label, value string) string {
		mark := dot
		if ok {
			mark = check
		}
		return fmt.Sprintf("    %s  %-14s %s", mark, label, value)
	}

	logo := cyan.Bold(true).Render(`
    ╔═╗╔═╗╔═╗╦ ╦╔═╗╔╦╗╔═╗╦ ╦
    ║  ║╣ ╠═╝║║║╠═╣ ║ ║  ╠═╣
    ╚═╝╚═╝╩  ╚╩╝╩ ╩ ╩ ╚═╝╩ ╩`)

	separator := dim.Render("    ─────────────────────────────────")

	lines := []string{
		"",
		logo,
		"    " + dim.Render("v"+version),
		"",
		separator,
		"",
		bold.Render("    Engine"),
		"",
		row(true, "Directory", cyan.Render(cfg.BackendURL)),
		row(true, "Streams", cyan.Render(cfg.StreamURL+"/{qid}")),
		row(true, "Delivery", dim.Render(deliveryLabel(cfg.Throttle))),
		"",
		bold.Render("    Gateway"),
		"",
	}

	if cfg.APIEnabled {
		lines = append(lines, row(true, "HTTP API", cyan.Render(cfg.APIAddr)))
	} else {
		lines = append(lines, row(false, "HTTP API", dim.Render("disabled")))
	}
	if socketOK {
		lines = append(lines, row(true, "Unix Socket", cyan.Render(shortenPath(cfg.SocketPath))))
	} else {
		lines = append(lines, row(false, "Unix Socket", dim.Render("unavailable (see log)")))
	}

	lines = append(lines, "", bold.Render("    Session"), "")
	lines = append(lines, row(true, "ID", dim.Render(sessionID)))
	switch path, ok := cfg.storePath(); {
	case !storeOK:
		lines = append(lines, row(false, "Store", dim.Render("disabled")))
	case ok && path == "":
		lines = append(lines, row(true, "Store", dim.Render("in memory")))
	default:
		lines = append(lines, row(true, "Store", dim.Render(shortenPath(path))))
	}
	if cfg.ConfigPath != "" {
		lines = append(lines, row(true, "Config File", dim.Render(shortenPath(cfg.ConfigPath))))
	} else {
		lines = append(lines, row(false, "Config File", dim.Render("default (no file)")))
	}

	lines = append(lines,
		"",
		separator,
		"",
		"    "+dim.Render("Press ")+yellow.Render("Ctrl+C")+dim.Render(" to stop"),
		"",
	)

	fmt.Println(strings.Join(lines, "\n"))
}

func deliveryLabel(ms int) string {
	if ms == 0 {
		return "real time"
	}
	return fmt.Sprintf("one record every %dms", ms)
}

func shortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}
