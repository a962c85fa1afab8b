package artifacts

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	archiveSuffix   = ".tar.gz"
	buildDateLayout = "20060102"
)

// Name derives the artifact file name, e.g. void-20240101.tar.gz.
func Name(imageID, buildDate string) string {
	return fmt.Sprintf("%s-%s%s", imageID, buildDate, archiveSuffix)
}

// BuildDate formats t as the YYYYMMDD stamp used in artifact names.
func BuildDate(t time.Time) string {
	return t.UTC().Format(buildDateLayout)
}

// ParseBuildDate parses a YYYYMMDD stamp as midnight UTC.
func ParseBuildDate(value string) (time.Time, error) {
	t, err := time.Parse(buildDateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("build date %q must be YYYYMMDD: %w", value, err)
	}
	return t, nil
}

func PathFromURI(uri string) (string, error) {
	if !strings.HasPrefix(uri, "file://") {
		return "", errors.New("not a file:// URI")
	}
	return strings.TrimPrefix(uri, "file://"), nil
}

func fileURI(path string) string {
	return "file://" + path
}
