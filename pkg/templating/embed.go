package templating

import (
	"embed"
	"io/fs"
)

//go:embed templates/*
var embeddedTemplates embed.FS

//go:embed static/*
var embeddedStatic embed.FS

// StaticFS returns the embedded static assets, rooted at the static directory.
func StaticFS() fs.FS {
	sub, err := fs.Sub(embeddedStatic, "static")
	if err != nil {
		// fs.Sub only fails on an invalid path, which is a constant here.
		panic(err)
	}
	return sub
}

func templatesFS() fs.FS {
	sub, err := fs.Sub(embeddedTemplates, "templates")
	if err != nil {
		panic(err)
	}
	return sub
}
