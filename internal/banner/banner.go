// Package banner prints the startup banner.
package banner

import "fmt"

// Logo is the ASCII art logo for Warden
const Logo = `
   ██╗    ██╗ █████╗ ██████╗ ██████╗ ███████╗███╗   ██╗
   ██║    ██║██╔══██╗██╔══██╗██╔══██╗██╔════╝████╗  ██║
   ██║ █╗ ██║███████║██████╔╝██║  ██║█████╗  ██╔██╗ ██║
   ██║███╗██║██╔══██║██╔══██╗██║  ██║██╔══╝  ██║╚██╗██║
   ╚███╔███╔╝██║  ██║██║  ██║██████╔╝███████╗██║ ╚████║
    ╚══╝╚══╝ ╚═╝  ╚═╝╚═╝  ╚═╝╚═════╝ ╚══════╝╚═╝  ╚═══╝
`

// Tagline is the project tagline
const Tagline = "Agents Under Supervision"

// Print prints the banner with tagline
func Print() {
	fmt.Print(Logo)
	fmt.Printf("   %s\n\n", Tagline)
}

// PrintWithVersion prints the banner with version info
func PrintWithVersion(version string) {
	fmt.Print(Logo)
	fmt.Printf("   %s\n", Tagline)
	fmt.Printf("   v%s\n\n", version)
}

// StartupBanner prints the full startup banner
func StartupBanner(version, gateway string, poolCapacity int) {
	fmt.Print(Logo)
	fmt.Printf("   %s\n", Tagline)
	fmt.Println()
	fmt.Printf("   Version:  v%s\n", version)
	fmt.Printf("   Gateway:  %s\n", gateway)
	fmt.Printf("   Sessions: %d max\n", poolCapacity)
	fmt.Println()
}
