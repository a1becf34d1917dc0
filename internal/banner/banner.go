package banner

import (
	"github.com/pterm/pterm"
	"github.com/pterm/pterm/putils"
)

func Print(component string) {
	ptermLogo, _ := pterm.DefaultBigText.WithLetters(
		putils.LettersFromStringWithRGB("Log", pterm.NewRGB(53, 107, 255)),
		putils.LettersFromStringWithRGB("Ship", pterm.NewRGB(0, 0, 0))).
		Srender()

	pterm.DefaultCenter.Print(ptermLogo)

	pterm.DefaultCenter.Print(
		pterm.DefaultHeader.
			WithFullWidth().
			WithBackgroundStyle(pterm.NewStyle(pterm.BgLightBlue)).
			WithMargin(5).
			Sprint(pterm.White("🚢 Logship " + component + " - Container Log Shipping")),
	)

	pterm.Info.Println(
		"Tails rotating container logs and ships them to central storage." +
			"\nBatched, deduplicated, and safe across restarts." +
			"\nVersion 0.0.1.",
	)
}
