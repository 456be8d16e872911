package nix

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"

	"github.com/charmbracelet/log"

	nixerrors "github.com/matzehuels/nixupdate/pkg/errors"
)

// Evaluator evaluates Nix expressions to strings.
type Evaluator interface {
	Evaluate(ctx context.Context, expr string) (string, error)
}

// Builder builds an attribute of an entry point.
//
// dir is the working directory the entry point is resolved against. suffix,
// when non-empty, selects a sub-attribute (attr.suffix).
type Builder interface {
	Build(ctx context.Context, dir, entry, attr, suffix string) (BuildResult, error)
}

// BuildResult is the outcome of one nix-build invocation. A failed build is
// not an error; the failure text is in Stderr.
type BuildResult struct {
	Success bool
	Stdout  string
	Stderr  string
}

// Nix runs the Nix command-line tools.
type Nix struct {
	// Dir is the working directory for evaluation. Empty means the
	// current directory.
	Dir string

	// Binary names, resolved through PATH. Empty fields use the defaults.
	InstantiateBin string
	BuildBin       string
	EvalJobsBin    string

	Logger *log.Logger
}

// New returns a Nix that evaluates in dir using the default binaries.
func New(dir string, logger *log.Logger) *Nix {
	return &Nix{Dir: dir, Logger: logger}
}

func (n *Nix) logger() *log.Logger {
	if n.Logger != nil {
		return n.Logger
	}
	return log.Default()
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Evaluate runs `nix-instantiate --eval -E expr --raw` and returns stdout
// with surrounding whitespace and quotes removed. Evaluation failures carry
// EVAL_ERROR and the trimmed stderr.
func (n *Nix) Evaluate(ctx context.Context, expr string) (string, error) {
	cmd := exec.CommandContext(ctx, orDefault(n.InstantiateBin, "nix-instantiate"), "--eval", "-E", expr, "--raw")
	cmd.Dir = n.Dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", nixerrors.New(nixerrors.ErrCodeEval,
				"nix-instantiate evaluation failed: %s", strings.TrimSpace(stderr.String()))
		}
		return "", nixerrors.Wrap(nixerrors.ErrCodeEval, err, "run nix-instantiate")
	}

	return strings.Trim(strings.TrimSpace(stdout.String()), `"`), nil
}

// Build runs `nix-build entry -A attr[.suffix]` in dir. The error is only
// set when the process could not be started or ctx was cancelled.
func (n *Nix) Build(ctx context.Context, dir, entry, attr, suffix string) (BuildResult, error) {
	target := attr
	if suffix != "" {
		target += "." + suffix
	}
	n.logger().Debug("building", "attr", target, "dir", dir)

	cmd := exec.CommandContext(ctx, orDefault(n.BuildBin, "nix-build"), entry, "-A", target)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := BuildResult{Success: err == nil, Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) || ctx.Err() != nil {
			return res, err
		}
	}
	return res, nil
}

// NormalizeEntryPoint turns a file argument into a Nix path expression by
// prefixing "./" unless it is already absolute, relative or a search path.
func NormalizeEntryPoint(p string) string {
	if strings.HasPrefix(p, "/") || strings.HasPrefix(p, ".") || strings.HasPrefix(p, "<") {
		return p
	}
	return "./" + p
}

var (
	_ Evaluator = (*Nix)(nil)
	_ Builder   = (*Nix)(nil)
)
