package customize

import (
	"bytes"
	"context"
	"fmt"
	"text/template"
)

var motdTemplate = template.Must(template.New("motd").Parse(`
Welcome to {{.DisplayName}} ({{.BuildDate}})

  {{.Description}}

Documentation: {{.DocsURL}}

`))

var productTemplate = template.Must(template.New("product").Parse(`Image: {{.DisplayName}} {{.BuildDate}}
Documentation: {{.DocsURL}}
Description: {{.Description}}
`))

// Identity is the data rendered into the identity files.
type Identity struct {
	DisplayName string
	BuildDate   string
	DocsURL     string
	Description string
}

// IdentityFiles holds the rendered identity files.
type IdentityFiles struct {
	Motd    []byte
	Product []byte
	// Release is Motd followed by Product and nothing else.
	Release []byte
}

// RenderIdentity renders the message of the day, the product descriptor and
// the release descriptor.
func RenderIdentity(identity Identity) (IdentityFiles, error) {
	var motd, product bytes.Buffer
	if err := motdTemplate.Execute(&motd, identity); err != nil {
		return IdentityFiles{}, fmt.Errorf("render motd: %w", err)
	}
	if err := productTemplate.Execute(&product, identity); err != nil {
		return IdentityFiles{}, fmt.Errorf("render product: %w", err)
	}

	release := make([]byte, 0, motd.Len()+product.Len())
	release = append(release, motd.Bytes()...)
	release = append(release, product.Bytes()...)
	return IdentityFiles{Motd: motd.Bytes(), Product: product.Bytes(), Release: release}, nil
}

// WriteIdentity writes the identity files named by the profile.
func WriteIdentity(_ context.Context, target Target) error {
	request := target.Build.Request
	files, err := RenderIdentity(Identity{
		DisplayName: request.DisplayName,
		BuildDate:   target.Build.BuildDate,
		DocsURL:     request.DocsURL,
		Description: request.Description,
	})
	if err != nil {
		return err
	}

	paths := target.Profile().Identity
	for _, file := range []struct {
		name    string
		content []byte
	}{
		{paths.Motd, files.Motd},
		{paths.Product, files.Product},
		{paths.Release, files.Release},
	} {
		resolved, err := target.Path(file.name)
		if err != nil {
			return err
		}
		if err := writeFile(resolved, file.content, 0o644); err != nil {
			return err
		}
	}
	return nil
}
