package client

import (
	"github.com/rebryant/cloudbdd-go/internal/bdd"
	"github.com/rebryant/cloudbdd-go/internal/conjunct"
)

// Conjoin runs the support-similarity conjunction heuristic over refs
// against this client's own And/Mark/Support, per spec section 4.7: the
// conjunction engine is client-local, operating over refs that live in
// worker-sharded unique tables and are reached through the cluster's
// ITE_LOOKUP/RETRIEVE_LOOKUP operators rather than a local node arena.
func (c *Client) Conjoin(refs []bdd.Ref, cfg conjunct.Config) (conjunct.Result, error) {
	return conjunct.New(c, cfg).Conjoin(refs)
}

// ConjoinNamed runs Conjoin using this client's own ChainMode and
// ConjoinCfg: "none"/"constant" fold refs left-to-right through a plain
// And, matching original_source/runbdd.c's CHAIN_NONE/CHAIN_CONSTANT
// behavior of combining arguments in argument order with no reordering;
// any other mode (the default, "all") runs the full heuristic.
func (c *Client) ConjoinNamed(refs []bdd.Ref) (conjunct.Result, error) {
	if c.ChainMode == "none" || c.ChainMode == "constant" {
		if len(refs) == 0 {
			return conjunct.Result{Ref: bdd.RefOne}, nil
		}
		acc := refs[0]
		for _, r := range refs[1:] {
			var err error
			acc, err = c.And(acc, r)
			if err != nil {
				return conjunct.Result{}, err
			}
		}
		return conjunct.Result{Ref: acc, FinalSize: c.Size(acc)}, nil
	}
	return c.Conjoin(refs, c.ConjoinCfg)
}
