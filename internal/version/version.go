package version

// Version is the release of the classmesh binaries, reported by --version and
// exchanged between peers in the hello frame.
// Override it at build time with:
//
//	go build -ldflags="-X 'github.com/BioHazard786/classmesh/internal/version.Version=v1.0.0'"
var Version = "dev"
