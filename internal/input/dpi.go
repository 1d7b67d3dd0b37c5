package input

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// DesktopEnvironment selects the DPI tool chain used by SetDPI, per
// §4.6: "s,<dpi> picks a DE-specific tool chain".
type DesktopEnvironment int

const (
	DEUnknown DesktopEnvironment = iota
	DEKDE
	DEXFCE
	DEMATE
	DEi3
	DEOpenbox
)

// DetectDesktopEnvironment inspects the usual environment hints
// ($XDG_CURRENT_DESKTOP) the way session startup scripts do; the
// detection itself is an external collaborator, so this only maps an
// already-known name to a DesktopEnvironment.
func DetectDesktopEnvironment(name string) DesktopEnvironment {
	switch name {
	case "KDE":
		return DEKDE
	case "XFCE":
		return DEXFCE
	case "MATE":
		return DEMATE
	case "i3":
		return DEi3
	case "Openbox":
		return DEOpenbox
	default:
		return DEUnknown
	}
}

// SetDPI applies a new DPI value using the tool chain appropriate for de,
// falling back to xrdb for anything unrecognized.
func SetDPI(de DesktopEnvironment, dpi int) error {
	switch de {
	case DEXFCE:
		return runXfconfDPI(dpi)
	case DEMATE:
		if err := runGsettingsDPI(dpi); err != nil {
			return err
		}
		return runXrdbDPI(dpi)
	case DEKDE, DEi3, DEOpenbox, DEUnknown:
		return runXrdbDPI(dpi)
	default:
		return runXrdbDPI(dpi)
	}
}

func runXrdbDPI(dpi int) error {
	cmd := exec.Command("xrdb", "-merge")
	cmd.Stdin = strings.NewReader(fmt.Sprintf("Xft.dpi: %d\n", dpi))
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("input: xrdb dpi update failed: %w", err)
	}
	return nil
}

func runXfconfDPI(dpi int) error {
	cmd := exec.Command("xfconf-query", "-c", "xsettings", "-p", "/Xft/DPI", "-s", strconv.Itoa(dpi))
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("input: xfconf-query dpi update failed: %w", err)
	}
	return nil
}

func runGsettingsDPI(dpi int) error {
	scale := float64(dpi) / 96.0
	cmd := exec.Command("gsettings", "set", "org.mate.interface", "scaling-factor", fmt.Sprintf("%.2f", scale))
	if err := cmd.Run(); err != nil {
		log.Info().Err(err).Msg("gsettings dpi update failed, falling back to xrdb only")
	}
	return nil
}

// CursorScaleFor derives the proportional cursor-size rescale applied
// alongside a successful DPI change (§4.6).
func CursorScaleFor(dpi int) float64 {
	return float64(dpi) / 96.0
}
