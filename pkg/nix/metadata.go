package nix

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"

	nixerrors "github.com/matzehuels/nixupdate/pkg/errors"
)

// PackageMetadata is what the updater knows about a package before
// touching it. Optional fields are empty when absent.
type PackageMetadata struct {
	Version    string
	SrcURL     string
	OutputHash string
	CargoHash  string
	VendorHash string
	PName      string

	// Position is meta.position without the line number: the file that
	// defines the package.
	Position string

	Description string
	Homepage    string
	Changelog   string
}

// Query builds expressions against one attribute of an entry point.
type Query struct {
	Entry string // normalized entry point, e.g. "./."
	Attr  string // selector form of the attribute path
}

// NewQuery validates attr and normalizes entry. Attr is rewritten into a
// selector that is valid inside an expression.
func NewQuery(entry, attr string) (Query, error) {
	if err := nixerrors.ValidateAttrPath(attr); err != nil {
		return Query{}, err
	}
	return Query{Entry: NormalizeEntryPoint(entry), Attr: Selector(attr)}, nil
}

var identRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_'-]*$`)

// Selector quotes the segments of a validated attribute path that are not
// Nix identifiers, so "nodePackages.1password" becomes
// `nodePackages."1password"`. Quoted segments are kept as they are.
func Selector(attr string) string {
	segs := splitAttrPath(attr)
	for i, seg := range segs {
		if !strings.HasPrefix(seg, `"`) && !identRE.MatchString(seg) {
			segs[i] = `"` + seg + `"`
		}
	}
	return strings.Join(segs, ".")
}

// splitAttrPath splits on dots outside double quotes.
func splitAttrPath(attr string) []string {
	var (
		segs   []string
		start  int
		quoted bool
	)
	for i := 0; i < len(attr); i++ {
		switch attr[i] {
		case '"':
			quoted = !quoted
		case '.':
			if !quoted {
				segs = append(segs, attr[start:i])
				start = i + 1
			}
		}
	}
	return append(segs, attr[start:])
}

// Expr returns `with import <entry> { }; <body>`.
func (q Query) Expr(body string) string {
	return fmt.Sprintf("with import %s { }; %s", q.Entry, body)
}

// AttrExpr selects a sub-attribute of the package.
func (q Query) AttrExpr(sub string) string {
	return q.Expr(q.Attr + "." + sub)
}

// VersionExpr falls back to parsing the derivation name when the package
// has no version attribute.
func (q Query) VersionExpr() string {
	return q.Expr(fmt.Sprintf("%s.version or (builtins.parseDrvName %s.name).version", q.Attr, q.Attr))
}

// SrcURLExpr yields src.url, or the space-joined src.urls.
func (q Query) SrcURLExpr() string {
	return q.Expr(fmt.Sprintf("builtins.toString (%s.src.url or %s.src.urls)", q.Attr, q.Attr))
}

// ManyVariantsExpr probes for packages generated by mkManyVariants.
func (q Query) ManyVariantsExpr() string {
	return q.Expr(fmt.Sprintf("builtins.toJSON (%s ? mkManyVariants || (%s.passthru.manyVariants or false))", q.Attr, q.Attr))
}

// UpdateScriptExpr yields the path of passthru.updateScript.
func (q Query) UpdateScriptExpr() string {
	return q.Expr("toString " + q.Attr + ".updateScript")
}

// LoadMetadata evaluates the facts about attr. Only the version is
// required; every other field is left empty when its evaluation fails.
func LoadMetadata(ctx context.Context, ev Evaluator, entry, attr string) (*PackageMetadata, error) {
	q, err := NewQuery(entry, attr)
	if err != nil {
		return nil, err
	}

	version, err := ev.Evaluate(ctx, q.VersionExpr())
	if err != nil {
		return nil, fmt.Errorf("evaluate version of %s: %w", attr, err)
	}
	if version == "" {
		return nil, nixerrors.New(nixerrors.ErrCodeEval, "%s has an empty version", attr)
	}

	m := &PackageMetadata{Version: version}
	var position string
	optional := []struct {
		dst  *string
		expr string
	}{
		{&m.SrcURL, q.SrcURLExpr()},
		{&m.OutputHash, q.AttrExpr("src.outputHash")},
		{&m.CargoHash, q.AttrExpr("cargoHash")},
		{&m.VendorHash, q.AttrExpr("vendorHash")},
		{&m.PName, q.AttrExpr("pname")},
		{&position, q.AttrExpr("meta.position")},
		{&m.Description, q.AttrExpr("meta.description")},
		{&m.Homepage, q.AttrExpr("meta.homepage")},
		{&m.Changelog, q.AttrExpr("meta.changelog")},
	}

	// Each goroutine owns one destination field.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, o := range optional {
		g.Go(func() error {
			if v, err := ev.Evaluate(gctx, o.expr); err == nil {
				*o.dst = v
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.Position = positionFile(position)
	return m, nil
}

// positionFile strips the trailing ":line" from a meta.position value.
func positionFile(pos string) string {
	if i := strings.LastIndexByte(pos, ':'); i >= 0 {
		return pos[:i]
	}
	return pos
}

// IsManyVariants reports whether attr is generated from sibling data files.
func IsManyVariants(ctx context.Context, ev Evaluator, entry, attr string) (bool, error) {
	q, err := NewQuery(entry, attr)
	if err != nil {
		return false, err
	}
	out, err := ev.Evaluate(ctx, q.ManyVariantsExpr())
	if err != nil {
		return false, err
	}
	return out == "true", nil
}

// UpdateScript returns the package's update script path, or "" when it has
// none.
func UpdateScript(ctx context.Context, ev Evaluator, entry, attr string) string {
	q, err := NewQuery(entry, attr)
	if err != nil {
		return ""
	}
	out, err := ev.Evaluate(ctx, q.UpdateScriptExpr())
	if err != nil {
		return ""
	}
	return out
}
