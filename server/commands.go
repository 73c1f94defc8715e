package server

// Predefined command groups for use with WithDisableCommands.
//
// Example usage:
//
//	// Create a read-only server
//	srv, _ := server.NewServer(":21", ...,
//	    server.WithDisableCommands(server.WriteCommands...),
//	)
var (
	// LegacyCommands contains deprecated X* command variants from RFC 775.
	//
	// Commands: XCWD, XCUP, XPWD, XMKD, XRMD
	LegacyCommands = []string{
		"XCWD", // Use CWD instead
		"XCUP", // Use CDUP instead
		"XPWD", // Use PWD instead
		"XMKD", // Use MKD instead
		"XRMD", // Use RMD instead
	}

	// ActiveModeCommands contains commands for active mode data connections.
	//
	// Use case: passive-only deployments behind a firewall that blocks
	// outbound connections.
	ActiveModeCommands = []string{
		"PORT",
	}

	// WriteCommands contains all commands that modify the file store.
	//
	// Note: For per-user read-only access, set Identity.ReadOnly
	// instead.
	WriteCommands = []string{
		"STOR", // Store file
		"APPE", // Append to file
		"DELE", // Delete file
		"RMD",  // Remove directory
		"XRMD", // Remove directory (legacy)
		"MKD",  // Make directory
		"XMKD", // Make directory (legacy)
		"RNFR", // Rename from
		"RNTO", // Rename to
	}

	// SiteCommands contains SITE administrative commands.
	//
	// Use case: Disable to restrict SITE CHMOD and SITE UMASK.
	SiteCommands = []string{
		"SITE",
	}
)
