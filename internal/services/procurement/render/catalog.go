package render

import (
	"embed"

	"github.com/louisbranch/supplyflow/internal/platform/i18n/catalog"
)

// BaseLocale is the fallback message locale.
const BaseLocale = "en-US"

//go:embed locales/*/*.yaml
var catalogFS embed.FS

var catalogBundle = mustLoadCatalog()

func mustLoadCatalog() *catalog.Bundle {
	bundle, err := catalog.LoadFromFS(catalogFS, BaseLocale)
	if err != nil {
		panic(err)
	}
	if err := bundle.Register(); err != nil {
		panic(err)
	}
	return bundle
}

// Locales lists the locales messages can be rendered in.
func Locales() []string {
	return catalogBundle.Locales()
}
