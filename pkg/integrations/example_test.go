package integrations_test

import (
	"fmt"

	"github.com/matzehuels/nixupdate/pkg/integrations"
)

func ExampleNormalizePkgName() {
	// PyPI project names are normalized to lowercase with hyphens
	fmt.Println(integrations.NormalizePkgName("Django"))
	fmt.Println(integrations.NormalizePkgName("typing_extensions"))
	fmt.Println(integrations.NormalizePkgName("  Spaces  "))
	// Output:
	// django
	// typing-extensions
	// spaces
}

func ExampleURLEncode() {
	// GitLab addresses projects by their URL-encoded path
	fmt.Println(integrations.URLEncode("inkscape/inkscape"))
	// Output:
	// inkscape%2Finkscape
}
