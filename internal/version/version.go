package version

// ServiceName identifies this binary in log lines.
const ServiceName = "flare-emissaryd"

var (
	// Version is the semantic version of the binary. Overridden at build time.
	Version = "dev"
	// Commit is the git commit hash. Overridden at build time.
	Commit = "unknown"
	// BuildDate is the build timestamp. Overridden at build time.
	BuildDate = "unknown"
)

// String renders the service/version identifier logged once at startup and
// printed by the version command.
func String() string {
	return ServiceName + "/" + Version + " (" + Commit + ", built " + BuildDate + ")"
}
