package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aleksaelezovic/tristore/internal/distribution"
	"github.com/aleksaelezovic/tristore/internal/triple"
)

func newPeersCommand(env *environment) *cobra.Command {
	var (
		peers []string
		kind  string
		place bool
	)
	cmd := &cobra.Command{
		Use:   "peers <s> <p> <o>",
		Short: "Show which peers a pattern or triple is routed to",
		Long: `Show which peers a pattern or triple is routed to.

Each argument is a global ID or a ?variable. With --place all three
arguments must be IDs and the command prints the peers storing the triple.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("peers") {
				env.cfg.Distribution.Peers = peers
			}
			if cmd.Flags().Changed("kind") {
				env.cfg.Distribution.Kind = kind
			}
			s, err := env.cfg.Strategy()
			if err != nil {
				return err
			}
			if s == nil {
				return errors.New("no peers configured; set distribution.peers or --peers")
			}

			p, err := parseIDPattern(args)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Strategy: %s over %d peers\n", s.Kind(), len(s.Peers()))

			if place {
				if p.BoundCount() != 3 {
					return errors.New("--place needs three IDs")
				}
				t := triple.New(p.At(triple.Subject).Value, p.At(triple.Predicate).Value, p.At(triple.Object).Value)
				for _, k := range s.ComputeKeys(t) {
					fmt.Fprintf(w, "  key %s -> %s\n", k, s.PeerFor(k))
				}
				fmt.Fprintf(w, "Stored on: %s\n", joinPeers(s.Place(t)))
				return nil
			}

			if k, ok := s.KeyFor(p); ok {
				fmt.Fprintf(w, "Routing key: %s\n", k)
			} else if s.Kind() != distribution.Hierarchical {
				fmt.Fprintln(w, "No selector covers the bound positions; fanning out")
			}
			fmt.Fprintf(w, "Peers: %s\n", joinPeers(s.PeersFor(p)))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&peers, "peers", nil, "peer IDs (overrides distribution.peers)")
	cmd.Flags().StringVar(&kind, "kind", "", "strategy kind (overrides distribution.kind)")
	cmd.Flags().BoolVar(&place, "place", false, "treat the arguments as a triple and show its replicas")
	return cmd
}

// parseIDPattern parses three arguments that are either IDs or ?variables
func parseIDPattern(args []string) (triple.Pattern, error) {
	var cs [3]triple.Component
	for i, arg := range args {
		if strings.HasPrefix(arg, "?") {
			if len(arg) == 1 {
				return triple.Pattern{}, fmt.Errorf("argument %d: empty variable name", i+1)
			}
			cs[i] = triple.Var(arg[1:])
			continue
		}
		id, err := strconv.ParseUint(arg, 10, 64)
		if err != nil || id == uint64(triple.NoID) {
			return triple.Pattern{}, fmt.Errorf("argument %d: %q is neither a global ID nor a variable", i+1, arg)
		}
		cs[i] = triple.Bound(triple.ID(id))
	}
	return triple.NewPattern(cs[0], cs[1], cs[2]), nil
}

func joinPeers(peers []distribution.PeerID) string {
	names := make([]string, len(peers))
	for i, p := range peers {
		names[i] = string(p)
	}
	return strings.Join(names, ", ")
}
