package nix

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	nixerrors "github.com/matzehuels/nixupdate/pkg/errors"
)

// Drv is one derivation reported by nix-eval-jobs.
type Drv struct {
	Attr      string              `json:"attr"`     // e.g. "python.pkgs.setuptools"
	AttrPath  []string            `json:"attrPath"` // e.g. ["python", "pkgs", "setuptools"]
	DrvPath   string              `json:"drvPath"`
	InputDrvs map[string][]string `json:"inputDrvs,omitempty"`
	Name      string              `json:"name"`
	Outputs   map[string]string   `json:"outputs"`
	System    string              `json:"system"`
}

// EvalError is an attribute nix-eval-jobs could not evaluate.
type EvalError struct {
	Attr     string   `json:"attr"`
	AttrPath []string `json:"attrPath"`
	Error    string   `json:"error"`
}

// Item is one line of nix-eval-jobs output. Exactly one field is set.
type Item struct {
	Drv   *Drv
	Error *EvalError
}

// ParseItem decodes one nix-eval-jobs output line.
func ParseItem(line []byte) (Item, error) {
	var probe struct {
		Error   *string `json:"error"`
		DrvPath string  `json:"drvPath"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		return Item{}, err
	}

	if probe.Error != nil {
		var e EvalError
		if err := json.Unmarshal(line, &e); err != nil {
			return Item{}, err
		}
		return Item{Error: &e}, nil
	}
	if probe.DrvPath == "" {
		return Item{}, errors.New("line has neither drvPath nor error")
	}

	var d Drv
	if err := json.Unmarshal(line, &d); err != nil {
		return Item{}, err
	}
	return Item{Drv: &d}, nil
}

// EvalJobs runs `nix-eval-jobs --show-input-drvs file` and streams its
// results as they are produced.
//
// The item channel is closed when the process exits. The error channel then
// receives at most one error (start failure or non-zero exit) and is closed.
// Lines that do not decode are logged and skipped. Cancelling ctx kills the
// process.
func (n *Nix) EvalJobs(ctx context.Context, file string) (<-chan Item, <-chan error) {
	items := make(chan Item)
	errc := make(chan error, 1)

	go func() {
		defer close(errc)
		defer close(items)

		cmd := exec.CommandContext(ctx, orDefault(n.EvalJobsBin, "nix-eval-jobs"), "--show-input-drvs", file)
		cmd.Dir = n.Dir
		var stderr strings.Builder
		cmd.Stderr = &stderr

		stdout, err := cmd.StdoutPipe()
		if err != nil {
			errc <- nixerrors.Wrap(nixerrors.ErrCodeEval, err, "nix-eval-jobs stdout")
			return
		}
		if err := cmd.Start(); err != nil {
			errc <- nixerrors.Wrap(nixerrors.ErrCodeEval, err, "failed to spawn nix-eval-jobs")
			return
		}

		readErr := n.readItems(ctx, stdout, items)
		if readErr != nil {
			// Unblock the process if we stopped reading early.
			_, _ = io.Copy(io.Discard, stdout)
		}

		if err := cmd.Wait(); err != nil {
			if ctx.Err() != nil {
				errc <- ctx.Err()
				return
			}
			errc <- nixerrors.Wrap(nixerrors.ErrCodeEval, err, "nix-eval-jobs failed: %s", lastLine(stderr.String()))
			return
		}
		if readErr != nil {
			errc <- readErr
		}
	}()

	return items, errc
}

func (n *Nix) readItems(ctx context.Context, r io.Reader, items chan<- Item) error {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadBytes('\n')
		if len(strings.TrimSpace(string(line))) > 0 {
			item, perr := ParseItem(line)
			if perr != nil {
				n.logger().Warn("skipping undecodable nix-eval-jobs line", "err", perr)
			} else {
				select {
				case items <- item:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read nix-eval-jobs output: %w", err)
		}
	}
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
