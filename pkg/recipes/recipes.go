package recipes

import (
	"fmt"
	"sort"

	"github.com/tibbar/tibbar/pkg/generator"
	"github.com/tibbar/tibbar/pkg/sequence"
	"github.com/tibbar/tibbar/pkg/tibbarerr"
)

// builder wires one recipe's funnel over the generation environment.
type builder func(env *generator.Env) sequence.Producer

var catalog = map[string]builder{
	"simple": func(env *generator.Env) sequence.Producer {
		return sequence.NewRoundRobinFunnel(env.Reserver,
			newArithSequence(env, "SimpleArith0", 30),
			newArithSequence(env, "SimpleArith1", 30),
		)
	},
	"ldst": func(env *generator.Env) sequence.Producer {
		return sequence.NewRoundRobinFunnel(env.Reserver,
			newArithSequence(env, "LdstArith", 20),
			newLdstSequence(env, "LdstTraffic0", 10),
			newLdstSequence(env, "LdstTraffic1", 10),
		)
	},
	"rel_branching": func(env *generator.Env) sequence.Producer {
		return sequence.NewRoundRobinFunnel(env.Reserver,
			newArithSequence(env, "BranchArith", 24),
			newBranchingSequence(env, "RelBranching", 8),
			newAbsoluteJumpSequence(env, "AbsBranching", 4),
		)
	},
	// Populate the float file with weighted bit patterns, then run
	// random float traffic against conditional branches.
	"float": func(env *generator.Env) sequence.Producer {
		return sequence.NewSimpleFunnel(
			newSetFPRsSequence(env, 0.5),
			sequence.NewRoundRobinFunnel(env.Reserver,
				newRandomFloatSequence(env, "RandomFloat", 48),
				newBranchingSequence(env, "FloatBranching", 6),
			),
		)
	},
	// The full float stress battery: single-source and multi-source
	// range sweeps plus the exhaustive divide/square-root pass.
	"stress_float": func(env *generator.Env) sequence.Producer {
		return sequence.NewSimpleFunnel(
			newStressSingleFPRSequence(env),
			newStressMultiFPRSequence(env),
			newStressMultiFPRSequence(env),
			newFloatDivSqrtSequence(env),
		)
	},
	"hazard": func(env *generator.Env) sequence.Producer {
		return sequence.NewSimpleFunnel(
			newSetGPRsSequence(env),
			sequence.NewRoundRobinFunnel(env.Reserver,
				newHazardSequence(env, "Hazard0", 20),
				newHazardSequence(env, "Hazard1", 20),
				newArithSequence(env, "HazardArith", 12),
			),
		)
	},
	// Faulting loads (base x0, address zero) interleaved with regular
	// memory traffic and branching; every fault resumes through the
	// exception handler.
	"ldst_exception": func(env *generator.Env) sequence.Producer {
		return sequence.NewRoundRobinFunnel(env.Reserver,
			newLoadExceptionSequence(env, 8),
			newLdstSequence(env, "LdstTraffic", 8),
			newBranchingSequence(env, "LdstBranching", 4),
		)
	},
}

// Names lists the catalog in stable order for the CLI's usage text.
func Names() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build returns the top-level producer for a named recipe.
func Build(name string, env *generator.Env) (sequence.Producer, error) {
	b, ok := catalog[name]
	if !ok {
		return nil, tibbarerr.New(tibbarerr.ConfigInvalid,
			fmt.Sprintf("unknown generator %q; choose one of %v", name, Names()), nil)
	}
	return b(env), nil
}
