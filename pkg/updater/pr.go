package updater

import (
	"fmt"
	"strings"

	"github.com/matzehuels/nixupdate/pkg/nix"
)

// PRTitle is the pull request title for one package update.
func PRTitle(attr, from, to string) string {
	return fmt.Sprintf("Update %s from %s to %s", attr, from, to)
}

// PRBody is the pull request body for one package update. meta may be nil.
func PRBody(attr, from, to string, meta *nix.PackageMetadata) string {
	var b strings.Builder
	b.WriteString("## Summary\n\n")
	fmt.Fprintf(&b, "This PR updates `%s` from version %s to %s.\n\n", attr, from, to)
	b.WriteString("## Changes\n\n")
	b.WriteString("- Updated package version\n")
	b.WriteString("- Updated source hash")

	if meta == nil || (meta.Description == "" && meta.Homepage == "" && meta.Changelog == "") {
		return b.String()
	}
	b.WriteString("\n\n## Package Information")
	if meta.Description != "" {
		fmt.Fprintf(&b, "\n\n**Description:** %s", meta.Description)
	}
	if meta.Homepage != "" {
		fmt.Fprintf(&b, "\n\n**Homepage:** %s", meta.Homepage)
	}
	if meta.Changelog != "" {
		fmt.Fprintf(&b, "\n\n**Changelog:** %s", meta.Changelog)
	}
	return b.String()
}

// GroupPRTitle is the pull request title for a group batch.
func GroupPRTitle(group string) string {
	return fmt.Sprintf("Update %s packages", group)
}

// GroupPRBody lists the updated members of group and, when any failed,
// the failures.
func GroupPRBody(group string, updated []Change, failed []MemberFailure) string {
	var b strings.Builder
	b.WriteString("## Summary\n\n")
	fmt.Fprintf(&b, "This PR updates %d packages in the `%s` group:\n\n", len(updated), group)
	for _, c := range updated {
		fmt.Fprintf(&b, "- **%s**: %s → %s\n", c.Attr, c.Old, c.New)
	}

	if len(failed) > 0 {
		fmt.Fprintf(&b, "\n### Failed Updates (%d)\n\n", len(failed))
		b.WriteString("The following packages could not be updated:\n\n")
		for _, f := range failed {
			fmt.Fprintf(&b, "- **%s**: %s\n", f.Attr, f.Reason)
		}
	}
	return b.String()
}
