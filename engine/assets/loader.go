package assets

import "github.com/spaghettifunk/sanity/engine/assets/loaders"

type Loader interface {
	Load(path string) (*loaders.Resource, error)
	// Extensions handled by the loader, with the leading dot.
	Extensions() []string
}
