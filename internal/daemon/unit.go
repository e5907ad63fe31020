package daemon

import (
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"
)

// unitFile returns the path and content of the user service definition:
// a systemd user unit on linux, a launchd agent on darwin.
func unitFile(goos string, o Options) (string, []byte, error) {
	dir := o.UnitDir
	switch goos {
	case "linux":
		if dir == "" {
			base, err := os.UserConfigDir()
			if err != nil {
				return "", nil, err
			}
			dir = filepath.Join(base, "systemd", "user")
		}
		return filepath.Join(dir, o.Name+".service"), systemdUnit(o), nil
	case "darwin":
		if dir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", nil, err
			}
			dir = filepath.Join(home, "Library", "LaunchAgents")
		}
		return filepath.Join(dir, "com."+o.Name+".plist"), launchdPlist(o), nil
	}
	return "", nil, fmt.Errorf("no service definition for %s", goos)
}

func systemdUnit(o Options) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "[Unit]\nDescription=%s background watcher\n\n", o.Name)
	b.WriteString("[Service]\n")
	fmt.Fprintf(&b, "ExecStart=%s\n", strings.Join(append([]string{o.Executable}, o.Args...), " "))
	b.WriteString("Restart=on-failure\n")
	fmt.Fprintf(&b, "StandardOutput=append:%s\nStandardError=append:%s\n\n", o.logPath(), o.logPath())
	b.WriteString("[Install]\nWantedBy=default.target\n")
	return []byte(b.String())
}

func launchdPlist(o Options) []byte {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">` + "\n")
	b.WriteString("<plist version=\"1.0\">\n<dict>\n")
	fmt.Fprintf(&b, "  <key>Label</key>\n  <string>com.%s</string>\n", html.EscapeString(o.Name))
	b.WriteString("  <key>ProgramArguments</key>\n  <array>\n")
	for _, a := range append([]string{o.Executable}, o.Args...) {
		fmt.Fprintf(&b, "    <string>%s</string>\n", html.EscapeString(a))
	}
	b.WriteString("  </array>\n  <key>RunAtLoad</key>\n  <true/>\n")
	fmt.Fprintf(&b, "  <key>StandardOutPath</key>\n  <string>%s</string>\n", html.EscapeString(o.logPath()))
	fmt.Fprintf(&b, "  <key>StandardErrorPath</key>\n  <string>%s</string>\n", html.EscapeString(o.logPath()))
	b.WriteString("</dict>\n</plist>\n")
	return []byte(b.String())
}
