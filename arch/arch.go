package arch

import (
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// Architecture defines the set of values accepted by xbps (XBPS_ARCH).
type Architecture string

const (
	X86_64      Architecture = "x86_64"
	X86_64Musl  Architecture = "x86_64-musl"
	I686        Architecture = "i686"
	AArch64     Architecture = "aarch64"
	AArch64Musl Architecture = "aarch64-musl"
	ARMV7L      Architecture = "armv7l"
	ARMV7LMusl  Architecture = "armv7l-musl"
)

// Libc identifies the C library an architecture is built against.
type Libc string

const (
	Glibc Libc = "glibc"
	Musl  Libc = "musl"
)

const muslSuffix = "-musl"

// Supported returns the full list of supported architectures.
func Supported() []Architecture {
	return []Architecture{
		X86_64,
		X86_64Musl,
		I686,
		AArch64,
		AArch64Musl,
		ARMV7L,
		ARMV7LMusl,
	}
}

// IsValid reports whether a matches a supported architecture value.
func (a Architecture) IsValid() bool {
	switch a {
	case X86_64, X86_64Musl, I686, AArch64, AArch64Musl, ARMV7L, ARMV7LMusl:
		return true
	default:
		return false
	}
}

// String returns the architecture as string.
func (a Architecture) String() string {
	return string(a)
}

// Libc reports which libc variant the architecture targets.
func (a Architecture) Libc() Libc {
	if strings.HasSuffix(string(a), muslSuffix) {
		return Musl
	}
	return Glibc
}

// Base strips the libc suffix, e.g. x86_64-musl -> x86_64.
func (a Architecture) Base() Architecture {
	return Architecture(strings.TrimSuffix(string(a), muslSuffix))
}

// Musl returns the musl variant of the base architecture.
func (a Architecture) Musl() Architecture {
	return a.Base() + muslSuffix
}

// Parse returns the canonical Architecture for the provided string or an error if unsupported.
func Parse(value string) (Architecture, error) {
	if arch := Normalize(value); arch != "" {
		return arch, nil
	}
	return "", fmt.Errorf("unsupported architecture %q (supported: %s)", value, strings.Join(supportedStrings(), ", "))
}

// Normalize maps a possibly ambiguous string into a canonical Architecture. Returns ""
// when the string cannot be normalized. A "-musl" suffix selects the musl variant.
func Normalize(value string) Architecture {
	normalized := strings.ToLower(strings.TrimSpace(value))
	musl := strings.HasSuffix(normalized, muslSuffix)
	normalized = strings.TrimSuffix(normalized, muslSuffix)

	var base Architecture
	switch normalized {
	case string(X86_64), "x86-64", "amd64":
		base = X86_64
	case "x86", "i386", "i486", "i586", string(I686), "386":
		base = I686
	case string(AArch64), "arm64":
		base = AArch64
	case string(ARMV7L), "arm", "armv7", "armhf":
		base = ARMV7L
	default:
		return ""
	}

	if !musl {
		return base
	}
	if candidate := base.Musl(); candidate.IsValid() {
		return candidate
	}
	return ""
}

// Host returns the architecture of the running process, or "" when the
// platform has no xbps counterpart.
func Host() Architecture {
	return hostFor(runtime.GOARCH)
}

func hostFor(goarch string) Architecture {
	return Normalize(goarch)
}

func supportedStrings() []string {
	all := Supported()
	out := make([]string, 0, len(all))
	for _, a := range all {
		out = append(out, a.String())
	}
	sort.Strings(out)
	return out
}
