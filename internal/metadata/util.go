package metadata

import (
	"path"
	"strings"
)

func extension(name string) string {
	return strings.ToLower(path.Ext(name))
}
