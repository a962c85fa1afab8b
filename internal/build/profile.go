package build

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/cochaviz/rootbake/arch"
)

// Profile holds the fixed lists and paths that shape every image. The
// built-in values come from DefaultProfile; a YAML file may override any field.
type Profile struct {
	Packages []string `yaml:"packages"`
	// GlibcPackages are added on glibc architectures only.
	GlibcPackages []string `yaml:"glibc_packages"`
	Excludes      []string `yaml:"excludes"`

	Locale         string `yaml:"locale"`
	LocalePackage  string `yaml:"locale_package"`
	Timezone       string `yaml:"timezone"`
	RootUser       string `yaml:"root_user"`
	SSHConfig      string `yaml:"sshd_config"`
	ServiceDir     string `yaml:"service_dir"`
	RunsvDir       string `yaml:"runsv_dir"`
	CoreServiceDir string `yaml:"core_service_dir"`

	MaskedCoreServices []string `yaml:"masked_core_services"`
	EnabledServices    []string `yaml:"enabled_services"`
	DisabledConsoles   []int    `yaml:"disabled_consoles"`

	Identity IdentityFiles `yaml:"identity"`
}

// IdentityFiles names the generated identity files inside the target root.
type IdentityFiles struct {
	Motd    string `yaml:"motd"`
	Product string `yaml:"product"`
	Release string `yaml:"release"`
}

// DefaultProfile returns the built-in image profile.
func DefaultProfile() Profile {
	return Profile{
		Packages: []string{
			"base-minimal",
			"bash",
			"ncurses-base",
			"openssh",
			"dhcpcd",
			"iproute2",
			"iputils",
			"procps-ng",
			"tzdata",
			"less",
			"curl",
			"xz",
		},
		GlibcPackages: []string{"glibc-locales"},
		Excludes: []string{
			"./dev/*",
			"./proc/*",
			"./sys/*",
			"./run/*",
			"./tmp/*",
			"./var/tmp/*",
			"./var/cache/xbps/*",
		},
		Locale:         "en_US.UTF-8 UTF-8",
		LocalePackage:  "glibc-locales",
		Timezone:       "UTC",
		RootUser:       "root",
		SSHConfig:      "/etc/ssh/sshd_config",
		ServiceDir:     "/etc/sv",
		RunsvDir:       "/etc/runit/runsvdir/default",
		CoreServiceDir: "/etc/runit/core-services",
		MaskedCoreServices: []string{
			"02-kmods.sh",
			"02-udev.sh",
			"03-filesystems.sh",
			"04-swap.sh",
		},
		EnabledServices:  []string{"sshd"},
		DisabledConsoles: []int{1, 2, 3, 4, 5, 6},
		Identity: IdentityFiles{
			Motd:    "/etc/motd",
			Product: "/etc/product",
			Release: "/etc/image-release",
		},
	}
}

// PackagesFor returns the ordered install list for an architecture.
func (p Profile) PackagesFor(a arch.Architecture) []string {
	packages := append([]string(nil), p.Packages...)
	if a.Libc() != arch.Glibc {
		return packages
	}
	for _, pkg := range p.GlibcPackages {
		if !slices.Contains(packages, pkg) {
			packages = append(packages, pkg)
		}
	}
	return packages
}

// LoadProfile reads a YAML profile and overlays it onto DefaultProfile. An
// empty path yields the defaults.
func LoadProfile(path string) (Profile, error) {
	if path == "" {
		return DefaultProfile(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("read profile %s: %w", path, err)
	}
	profile, err := ParseProfile(data)
	if err != nil {
		return Profile{}, fmt.Errorf("profile %s: %w", path, err)
	}
	return profile, nil
}

// ParseProfile overlays YAML data onto DefaultProfile. Unknown keys are rejected.
func ParseProfile(data []byte) (Profile, error) {
	profile := DefaultProfile()

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&profile); err != nil && !errors.Is(err, io.EOF) {
		return Profile{}, fmt.Errorf("decode: %w", err)
	}
	if err := profile.validate(); err != nil {
		return Profile{}, err
	}
	return profile, nil
}

func (p Profile) validate() error {
	if len(p.Packages) == 0 {
		return errors.New("packages must not be empty")
	}
	if p.Timezone == "" {
		return errors.New("timezone must be set")
	}
	if p.Identity.Motd == "" || p.Identity.Product == "" || p.Identity.Release == "" {
		return errors.New("identity file paths must all be set")
	}
	for _, tty := range p.DisabledConsoles {
		if tty < 1 {
			return fmt.Errorf("invalid console number %d", tty)
		}
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
