package banner

import (
	"fmt"

	"pawlink/pkg/config"
)

const banner = `
██████╗  █████╗ ██╗    ██╗██╗     ██╗███╗   ██╗██╗  ██╗
██╔══██╗██╔══██╗██║    ██║██║     ██║████╗  ██║██║ ██╔╝
██████╔╝███████║██║ █╗ ██║██║     ██║██╔██╗ ██║█████╔╝
██╔═══╝ ██╔══██║██║███╗██║██║     ██║██║╚██╗██║██╔═██╗
██║     ██║  ██║╚███╔███╔╝███████╗██║██║ ╚████║██║  ██╗
╚═╝     ╚═╝  ╚═╝ ╚══╝╚══╝ ╚══════╝╚═╝╚═╝  ╚═══╝╚═╝  ╚═╝
`

// PrintWithEff prints the startup banner with the effective runtime
// configuration and quick production checks.
func PrintWithEff(eff config.EffectiveConfigResult, version string) {
	addr := eff.Addr
	if addr == "" && eff.Config != nil {
		addr = eff.Config.Addr()
	}
	dbPath := eff.DBPath
	src := eff.Source
	if src == "" {
		src = "flags"
	}

	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", addr)
	fmt.Printf("DB Path:  %s\n", dbPath)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	fmt.Printf("Config: %s\n", src)

	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("GET  /v1/session - Current identity")
	fmt.Println("GET  /v1/conversations - Conversation list with unread counts")
	fmt.Println("GET  /v1/conversations/{id}/messages - Conversation history")
	fmt.Println("PUT  /v1/conversations/{id}/read - Mark conversation read")
	fmt.Println("GET  /v1/unread - Total unread count")
	fmt.Println("GET  /ws - Live message stream (websocket)")

	fmt.Println("\n== Production? =================================================")
	be, fe := 0, 0
	if eff.Config != nil {
		be = len(eff.Config.Security.APIKeys.Backend)
		fe = len(eff.Config.Security.APIKeys.Frontend)
	}
	if be > 0 {
		fmt.Printf("- Backend API keys: OK (%d)\n", be)
	} else {
		fmt.Println("- Backend API keys: MISSING (required for signing and profile writes)")
	}
	if fe > 0 {
		fmt.Printf("- Frontend API keys: OK (%d)\n", fe)
	} else {
		fmt.Println("- Frontend API keys: MISSING (required for client access)")
	}

	if eff.Config != nil && eff.Config.Server.TLS.CertFile != "" && eff.Config.Server.TLS.KeyFile != "" {
		fmt.Println("- TLS: configured")
	} else {
		fmt.Println("- TLS: unconfigured")
	}

	if eff.Config != nil && eff.Config.Retention.Enabled {
		if eff.Config.Retention.Cron != "" {
			fmt.Printf("- Retention: enabled (cron=%s)\n", eff.Config.Retention.Cron)
		} else {
			fmt.Println("- Retention: enabled")
		}
	} else {
		fmt.Println("- Retention: disabled")
	}

	fmt.Println("\n== Logs: =================================================")
}
