package client

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rebryant/cloudbdd-go/internal/bdd"
	"github.com/rebryant/cloudbdd-go/internal/logger"
)

// RunScript reads one command per line from r and executes it against c,
// in the vocabulary of original_source/runbdd.c's command table (var,
// and, or, not, xor, ite, restrict, equant, uquant, conjoin, count,
// delete, equal, info, collect) reduced to the core dataflow/BDD operations this
// package implements — the interactive console itself (history,
// "source", "time", parameter introspection) is out of scope, per
// spec.md's named non-goal; this is a batch runner over the same verb
// set, not a reimplementation of console.c.
func (c *Client) RunScript(r io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := c.runLine(line, out); err != nil {
			logger.Warn("client: script command failed", "line", lineNo, "text", line, "error", err)
			fmt.Fprintf(out, "ERR line %d: %v\n", lineNo, err)
		}
	}
	return scanner.Err()
}

func (c *Client) runLine(line string, out io.Writer) error {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "var":
		return c.cmdVar(args, out)
	case "and":
		return c.cmdBinary(args, out, c.And)
	case "or":
		return c.cmdBinary(args, out, c.Or)
	case "xor":
		return c.cmdBinary(args, out, c.Xor)
	case "not":
		return c.cmdNot(args, out)
	case "ite":
		return c.cmdITE(args, out)
	case "count":
		return c.cmdCount(args, out)
	case "info":
		return c.cmdInfo(args, out)
	case "equal":
		return c.cmdEqual(args, out)
	case "delete":
		for _, name := range args {
			c.Roots.Unbind(name)
		}
		return nil
	case "collect":
		return c.cmdCollect(out)
	case "equant":
		return c.cmdQuant(args, out, c.Equant)
	case "uquant":
		return c.cmdQuant(args, out, c.Forall)
	case "restrict":
		return c.cmdRestrict(args, out)
	case "conjoin":
		return c.cmdConjoin(args, out)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (c *Client) resolve(name string) (bdd.Ref, error) {
	if ref, ok := c.Roots.Lookup(name); ok {
		return ref, nil
	}
	return 0, fmt.Errorf("undefined name %q", name)
}

func (c *Client) cmdVar(args []string, out io.Writer) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: var NAME")
	}
	ref, err := c.NewVar()
	if err != nil {
		return err
	}
	c.Roots.BindVar(args[0], ref)
	fmt.Fprintf(out, "%s = var(%d)\n", args[0], ref.Var())
	return nil
}

func (c *Client) cmdBinary(args []string, out io.Writer, op func(a, b bdd.Ref) (bdd.Ref, error)) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: <op> DEST A B")
	}
	a, err := c.resolve(args[1])
	if err != nil {
		return err
	}
	b, err := c.resolve(args[2])
	if err != nil {
		return err
	}
	ref, err := op(a, b)
	if err != nil {
		return err
	}
	c.Roots.Bind(args[0], ref)
	fmt.Fprintf(out, "%s = %s\n", args[0], formatRef(ref))
	return nil
}

func (c *Client) cmdNot(args []string, out io.Writer) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: not DEST SRC")
	}
	src, err := c.resolve(args[1])
	if err != nil {
		return err
	}
	c.Roots.Bind(args[0], src.Negate())
	fmt.Fprintf(out, "%s = %s\n", args[0], formatRef(src.Negate()))
	return nil
}

func (c *Client) cmdITE(args []string, out io.Writer) error {
	if len(args) != 4 {
		return fmt.Errorf("usage: ite DEST I T E")
	}
	i, err := c.resolve(args[1])
	if err != nil {
		return err
	}
	t, err := c.resolve(args[2])
	if err != nil {
		return err
	}
	e, err := c.resolve(args[3])
	if err != nil {
		return err
	}
	ref, err := c.ITE(i, t, e)
	if err != nil {
		return err
	}
	c.Roots.Bind(args[0], ref)
	fmt.Fprintf(out, "%s = %s\n", args[0], formatRef(ref))
	return nil
}

func (c *Client) cmdCount(args []string, out io.Writer) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: count NAME NUMVARS")
	}
	ref, err := c.resolve(args[0])
	if err != nil {
		return err
	}
	n, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid NUMVARS: %w", err)
	}
	count, err := c.SatCount(ref, n)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "count(%s) = %g\n", args[0], count)
	return nil
}

func (c *Client) cmdInfo(args []string, out io.Writer) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: info NAME")
	}
	ref, err := c.resolve(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: %s size=%d refcount=%d\n", args[0], formatRef(ref), c.Size(ref), c.Roots.RefCount(ref))
	return nil
}

func (c *Client) cmdEqual(args []string, out io.Writer) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: equal A B")
	}
	a, err := c.resolve(args[0])
	if err != nil {
		return err
	}
	b, err := c.resolve(args[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s == %s: %v\n", args[0], args[1], a == b)
	return nil
}

// cmdQuant implements equant/uquant: "<op> DEST R VAR...", where each VAR
// names an already-bound variable root. Shared between equant and
// uquant (forall) since both just differ in which Client method they
// call.
func (c *Client) cmdQuant(args []string, out io.Writer, op func(bdd.Ref, map[uint16]bool) (bdd.Ref, error)) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: <op> DEST R VAR...")
	}
	r, err := c.resolve(args[1])
	if err != nil {
		return err
	}
	vars := make(map[uint16]bool)
	for _, name := range args[2:] {
		ref, err := c.resolve(name)
		if err != nil {
			return err
		}
		vars[ref.Var()] = true
	}
	ref, err := op(r, vars)
	if err != nil {
		return err
	}
	c.Roots.Bind(args[0], ref)
	fmt.Fprintf(out, "%s = %s\n", args[0], formatRef(ref))
	return nil
}

// cmdRestrict implements "restrict DEST R LIT...", where each LIT names
// a bound variable root, optionally prefixed with "!" to fix it to
// false instead of true.
func (c *Client) cmdRestrict(args []string, out io.Writer) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: restrict DEST R LIT...")
	}
	r, err := c.resolve(args[1])
	if err != nil {
		return err
	}
	lits := bdd.NewLiterals()
	for _, tok := range args[2:] {
		neg := strings.HasPrefix(tok, "!")
		name := strings.TrimPrefix(tok, "!")
		ref, err := c.resolve(name)
		if err != nil {
			return err
		}
		if neg {
			lits.Neg[ref.Var()] = true
		} else {
			lits.Pos[ref.Var()] = true
		}
	}
	ref, err := c.Restrict(r, lits)
	if err != nil {
		return err
	}
	c.Roots.Bind(args[0], ref)
	fmt.Fprintf(out, "%s = %s\n", args[0], formatRef(ref))
	return nil
}

// cmdConjoin implements "conjoin DEST NAME...", the multi-argument AND
// spec section 4.7 names, run through this client's configured ChainMode
// (see ConjoinNamed).
func (c *Client) cmdConjoin(args []string, out io.Writer) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: conjoin DEST NAME...")
	}
	refs := make([]bdd.Ref, len(args)-1)
	for i, name := range args[1:] {
		ref, err := c.resolve(name)
		if err != nil {
			return err
		}
		refs[i] = ref
	}
	result, err := c.ConjoinNamed(refs)
	if err != nil {
		return err
	}
	c.Roots.Bind(args[0], result.Ref)
	fmt.Fprintf(out, "%s = %s (aborts=%d size=%d)\n", args[0], formatRef(result.Ref), result.Aborts, result.FinalSize)
	return nil
}

func (c *Client) cmdCollect(out io.Writer) error {
	if err := c.Collect(); err != nil {
		return err
	}
	fmt.Fprintln(out, "collect done")
	return nil
}

func formatRef(r bdd.Ref) string {
	return fmt.Sprintf("0x%x", uint64(r))
}
