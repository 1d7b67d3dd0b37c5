//go:build linux

// Package display implements the host-side display reconfiguration
// collaborator (session.DisplayResizer): applying a client-requested
// resolution change via xrandr, per spec.md §6.
package display

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// Resizer shells out to xrandr against a fixed DISPLAY/XAUTHORITY
// environment, matching the manual CVT-modeline fallback an operator
// would use when the target resolution isn't a built-in driver mode.
type Resizer struct {
	displayName string
	env         []string
}

// NewResizer builds a Resizer against the given X display and
// XAUTHORITY path (empty xauthority means inherit the process env).
func NewResizer(displayName, xauthority string) *Resizer {
	env := []string{"DISPLAY=" + displayName}
	if xauthority != "" {
		env = append(env, "XAUTHORITY="+xauthority)
	}
	return &Resizer{displayName: displayName, env: env}
}

// Resize implements session.DisplayResizer: it finds the first connected
// output, tries the requested mode directly, and falls back to a CVT
// modeline if the driver doesn't already offer it.
func (r *Resizer) Resize(w, h int) bool {
	resolution := fmt.Sprintf("%dx%d", w, h)

	output, err := r.connectedOutput()
	if err != nil {
		log.Warn().Err(err).Msg("resize: xrandr query failed")
		return false
	}
	if output == "" {
		log.Warn().Msg("resize: no connected output found")
		return false
	}

	if _, err := r.run("xrandr", "--output", output, "--mode", resolution); err == nil {
		log.Info().Str("output", output).Str("mode", resolution).Msg("resize: set built-in mode")
		return true
	}

	modeName, modeParams, err := r.cvtModeline(w, h)
	if err != nil {
		log.Warn().Err(err).Str("mode", resolution).Msg("resize: cvt failed")
		return false
	}

	r.run("xrandr", "--newmode", modeName, modeParams)
	r.run("xrandr", "--addmode", output, modeName)
	if _, err := r.run("xrandr", "--output", output, "--mode", modeName); err != nil {
		log.Warn().Err(err).Str("mode", modeName).Msg("resize: set custom mode failed")
		return false
	}

	log.Info().Str("output", output).Str("mode", modeName).Msg("resize: set custom mode")
	return true
}

func (r *Resizer) connectedOutput() (string, error) {
	out, err := r.run("xrandr", "--query")
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[1] == "connected" {
			return fields[0], nil
		}
	}
	return "", nil
}

func (r *Resizer) cvtModeline(w, h int) (name, params string, err error) {
	out, err := r.run("cvt", strconv.Itoa(w), strconv.Itoa(h), "60")
	if err != nil {
		return "", "", fmt.Errorf("cvt: %w", err)
	}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "Modeline") {
			continue
		}
		idx := strings.Index(line, "\"")
		if idx < 0 {
			continue
		}
		end := strings.Index(line[idx+1:], "\"")
		if end < 0 {
			continue
		}
		return line[idx+1 : idx+1+end], strings.TrimSpace(line[idx+1+end+1:]), nil
	}
	return "", "", fmt.Errorf("cvt produced no modeline for %dx%d", w, h)
}

func (r *Resizer) run(name string, args ...string) (string, error) {
	cmd := exec.Command(name, args...)
	cmd.Env = append(os.Environ(), r.env...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}
