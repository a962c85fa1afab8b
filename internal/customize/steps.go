package customize

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/cochaviz/rootbake/arch"
)

// LocaleConfig is the file xbps-reconfigure reads to generate glibc locales.
const LocaleConfig = "/etc/default/libc-locales"

// ConfigureLocale declares the profile locale and regenerates the locale
// database. musl images have no locale database, so only the declaration is written.
func ConfigureLocale(ctx context.Context, target Target) error {
	profile := target.Profile()
	if profile.Locale == "" {
		return nil
	}

	file, err := target.Path(LocaleConfig)
	if err != nil {
		return err
	}
	content, err := os.ReadFile(file)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("read %s: %w", LocaleConfig, err)
	}

	if !hasLine(content, profile.Locale) {
		if len(content) > 0 && !bytes.HasSuffix(content, []byte("\n")) {
			content = append(content, '\n')
		}
		content = append(content, profile.Locale+"\n"...)
		if err := writeFile(file, content, 0o644); err != nil {
			return err
		}
	}

	if target.Build.Request.Architecture.Libc() != arch.Glibc || profile.LocalePackage == "" || target.Hooks == nil {
		return nil
	}
	return target.Hooks.Reconfigure(ctx, profile.LocalePackage)
}

func hasLine(content []byte, line string) bool {
	for _, l := range strings.Split(string(content), "\n") {
		if strings.TrimSpace(l) == line {
			return true
		}
	}
	return false
}

// MaskCoreServices neutralizes the early boot scripts that probe hardware and filesystems.
func MaskCoreServices(_ context.Context, target Target) error {
	for _, name := range target.Profile().MaskedCoreServices {
		if err := ApplyServiceState(target, Service{Name: name, Kind: CoreService}, Masked); err != nil {
			return err
		}
	}
	return nil
}

// EnableServices links each profile service into the default runsvdir.
func EnableServices(_ context.Context, target Target) error {
	for _, name := range target.Profile().EnabledServices {
		if err := ApplyServiceState(target, Service{Name: name, Kind: Supervised}, Enabled); err != nil {
			return err
		}
	}
	return nil
}

// DisableConsoles turns off the login prompt on each profile virtual console.
func DisableConsoles(_ context.Context, target Target) error {
	for _, tty := range target.Profile().DisabledConsoles {
		svc := Service{Name: fmt.Sprintf("agetty-tty%d", tty), Kind: Supervised}
		if err := ApplyServiceState(target, svc, Disabled); err != nil {
			return err
		}
	}
	return nil
}

// ClearRootPassword empties the password hash of the root user in /etc/shadow.
// The account stays passwordless; remote access relies on keys only.
func ClearRootPassword(_ context.Context, target Target) error {
	file, err := target.Path("/etc/shadow")
	if err != nil {
		return err
	}
	content, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read /etc/shadow: %w", err)
	}

	user := target.Profile().RootUser
	updated, found := clearPasswordHash(string(content), user)
	if !found {
		return fmt.Errorf("no shadow entry for %q", user)
	}
	return writeFile(file, []byte(updated), 0o600)
}

func clearPasswordHash(shadow, user string) (string, bool) {
	lines := strings.Split(shadow, "\n")
	found := false
	for i, line := range lines {
		fields := strings.Split(line, ":")
		if len(fields) < 2 || fields[0] != user {
			continue
		}
		fields[1] = ""
		lines[i] = strings.Join(fields, ":")
		found = true
	}
	return strings.Join(lines, "\n"), found
}

// SetTimezone points /etc/localtime at the profile zone.
func SetTimezone(_ context.Context, target Target) error {
	link, err := target.LinkPath("/etc/localtime")
	if err != nil {
		return err
	}
	return ensureSymlink(path.Join("/usr/share/zoneinfo", target.Profile().Timezone), link)
}

// HardenSSH disables password authentication in the sshd configuration.
func HardenSSH(_ context.Context, target Target) error {
	configPath := target.Profile().SSHConfig
	file, err := target.Path(configPath)
	if err != nil {
		return err
	}
	content, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read %s: %w", configPath, err)
	}
	return writeFile(file, []byte(HardenSSHConfig(string(content))), 0o644)
}
