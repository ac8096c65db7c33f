// Package buildenv defines the build configuration axis: target,
// platform and locale. Each distinct combination compiles into an
// independent cache namespace.
package buildenv

import "fmt"

// Target selects the kind of binary the data is built for.
type Target uint8

const (
	TargetGame Target = iota
	TargetServer
)

// String returns the lowercase name used on command lines and in
// compiler hash requests.
func (t Target) String() string {
	switch t {
	case TargetGame:
		return "game"
	case TargetServer:
		return "server"
	default:
		return fmt.Sprintf("target(%d)", uint8(t))
	}
}

// ParseTarget parses the form produced by String.
func ParseTarget(s string) (Target, error) {
	switch s {
	case "game":
		return TargetGame, nil
	case "server":
		return TargetServer, nil
	default:
		return 0, fmt.Errorf("invalid target %q", s)
	}
}

// Platform selects the operating system family the data is built for.
type Platform uint8

const (
	PlatformWindows Platform = iota
	PlatformUnix
)

func (p Platform) String() string {
	switch p {
	case PlatformWindows:
		return "windows"
	case PlatformUnix:
		return "unix"
	default:
		return fmt.Sprintf("platform(%d)", uint8(p))
	}
}

// ParsePlatform parses the form produced by String.
func ParsePlatform(s string) (Platform, error) {
	switch s {
	case "windows":
		return PlatformWindows, nil
	case "unix":
		return PlatformUnix, nil
	default:
		return 0, fmt.Errorf("invalid platform %q", s)
	}
}

// Locale is a language/region tag, e.g. "en".
type Locale string

// Env is the full compilation environment. It is part of every
// compiler hash request, so compilers can produce different output
// per target, platform or locale.
type Env struct {
	Target   Target
	Platform Platform
	Locale   Locale
}

// String renders the environment as "<target>-<platform>-<locale>".
func (e Env) String() string {
	return fmt.Sprintf("%s-%s-%s", e.Target, e.Platform, e.Locale)
}
