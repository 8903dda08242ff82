package sing

const (
	Version    = "0.1.0"
	VersionStr = "sing-reactor " + Version
)
