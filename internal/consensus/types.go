// Package consensus orders locally submitted action envelopes among a
// fixed set of staked validators into a globally ordered, replayable
// commit stream, adapted from the teacher's interface-segregated
// consensus engine (core/consensus.go's networkAdapter/securityAdapter/
// authorityAdapter split) to the simpler staked-quorum model of §4.4.
package consensus

import (
	"sort"

	"agentworld/internal/ids"
)

// Validator is one member of the fixed staked set.
type Validator struct {
	ID    ids.AgentId
	Stake uint64
}

// PayloadKind distinguishes the two envelope families of §6.
type PayloadKind string

const (
	PayloadRuntimeAction   PayloadKind = "runtime_action"
	PayloadSimulatorAction PayloadKind = "simulator_action"
)

// Envelope is what a node submits into the pre-commit buffer, before a
// height and commit order have been assigned.
type Envelope struct {
	PayloadKind     PayloadKind
	Submitter       ids.AgentId
	ActionPayload   []byte // opaque to consensus; decoded by the bridge mirror
	SubmissionSeq   uint64 // per-submitter local sequence, for ordering within a height
	ValidatorRank   int    // rank of the proposing validator, for ordering within a height
}

// CommitEnvelope is the totally ordered record the bridge mirror replays
// into the kernel (§3 CommitEnvelope, §4.4).
type CommitEnvelope struct {
	Height    uint64
	Validator ids.AgentId
	Payload   Envelope
}

// Ordering implements §4.4: within a height, envelopes are ordered by
// (submission_validator_rank, submitter, local_sequence).
func Ordering(envs []Envelope) []int {
	idx := make([]int, len(envs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool {
		a, b := envs[idx[i]], envs[idx[j]]
		if a.ValidatorRank != b.ValidatorRank {
			return a.ValidatorRank < b.ValidatorRank
		}
		if a.Submitter != b.Submitter {
			return a.Submitter < b.Submitter
		}
		return a.SubmissionSeq < b.SubmissionSeq
	})
	return idx
}
