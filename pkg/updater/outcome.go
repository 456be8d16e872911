package updater

import (
	"fmt"

	"github.com/matzehuels/nixupdate/pkg/observability"
)

// Outcome is the non-error result of checking one package. It is one of
// [Updated], [NoUpdateNeeded], [Skipped] or [DryRun].
type Outcome interface {
	// Label is the metrics label of the outcome.
	Label() string
	String() string
	outcome()
}

// Updated means the new version was written and verified.
type Updated struct {
	Old string
	New string
}

// NoUpdateNeeded means upstream has nothing newer under the policy.
type NoUpdateNeeded struct {
	Current string
	Latest  string
}

// Skipped means the package was not attempted. Reason is shown to users.
type Skipped struct {
	Reason string
}

// DryRun means an update was found and deliberately not applied.
type DryRun struct {
	Current string
	New     string
}

func (Updated) outcome()        {}
func (NoUpdateNeeded) outcome() {}
func (Skipped) outcome()        {}
func (DryRun) outcome()         {}

func (Updated) Label() string        { return observability.OutcomeUpdated }
func (NoUpdateNeeded) Label() string { return observability.OutcomeNoUpdate }
func (Skipped) Label() string        { return observability.OutcomeSkipped }
func (DryRun) Label() string         { return observability.OutcomeDryRun }

func (o Updated) String() string { return fmt.Sprintf("updated %s -> %s", o.Old, o.New) }
func (o NoUpdateNeeded) String() string {
	return fmt.Sprintf("up to date (%s, latest %s)", o.Current, o.Latest)
}
func (o Skipped) String() string { return "skipped: " + o.Reason }
func (o DryRun) String() string  { return fmt.Sprintf("would update %s -> %s", o.Current, o.New) }
