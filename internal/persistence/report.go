package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"agentworld/internal/consensus"
	"agentworld/internal/distfs"
)

const reportDirName = "report"

// MintedRecord attributes a share of one epoch's minted settlement points
// to a validator, split by stake weight, matching the teacher's
// stake-weighted payout bookkeeping (core/distribution.go's
// TransferItem-per-recipient batch pattern) generalized from a token
// airdrop to a reward-points ledger entry. This never touches WorldModel
// asset state: validators are a consensus-layer concept the kernel's
// agent/location asset ledger does not model, so minted_records is a
// reporting artifact only (§11 open question resolved this way).
type MintedRecord struct {
	ValidatorID string `json:"validator_id"`
	Stake       uint64 `json:"stake"`
	Amount      int64  `json:"amount"`
}

// SettlementReport summarizes one epoch's distributed-credit-to-points
// conversion (spec.md §4.2, §6).
type SettlementReport struct {
	TotalDistributedCredits int64 `json:"total_distributed_credits"`
	TotalDistributedPoints  int64 `json:"total_distributed_points"`
}

// RewardAssetInvariantStatus records whether the minted points for an
// epoch were fully and exactly attributed across the validator set.
type RewardAssetInvariantStatus struct {
	Ok     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// RewardSettlementTransport documents how minted_records reached this
// report: a single-node build computes and applies settlement locally,
// with no gossip round-trip, unlike the multi-hop reward distribution a
// full validator network would run.
type RewardSettlementTransport struct {
	Mechanism     string `json:"mechanism"`
	AppliedAtTick uint64 `json:"applied_at_tick"`
}

// EpochReport is the per-epoch settlement artifact spec.md §6 names,
// written to report/epoch-<N>.json.
type EpochReport struct {
	CommittedHeight            uint64                     `json:"committed_height"`
	NetworkCommittedHeight     uint64                     `json:"network_committed_height"`
	DistfsChallengeReport      distfs.ChallengeReport     `json:"distfs_challenge_report"`
	RewardAssetInvariantStatus RewardAssetInvariantStatus `json:"reward_asset_invariant_status"`
	SettlementReport           SettlementReport           `json:"settlement_report"`
	MintedRecords              []MintedRecord             `json:"minted_records"`
	RewardSettlementTransport  RewardSettlementTransport  `json:"reward_settlement_transport"`
}

// SplitMintedPoints divides mintedPoints across validators by stake
// weight, floor-rounding each share and assigning the remainder left by
// integer division to the highest-staked validator (ties broken by
// validator order), so the shares always sum to exactly mintedPoints.
func SplitMintedPoints(validators []consensus.Validator, mintedPoints int64) []MintedRecord {
	if len(validators) == 0 || mintedPoints == 0 {
		return nil
	}
	var totalStake uint64
	for _, v := range validators {
		totalStake += v.Stake
	}
	if totalStake == 0 {
		return nil
	}

	records := make([]MintedRecord, len(validators))
	var distributed int64
	topIdx := 0
	for i, v := range validators {
		share := mintedPoints * int64(v.Stake) / int64(totalStake)
		records[i] = MintedRecord{ValidatorID: string(v.ID), Stake: v.Stake, Amount: share}
		distributed += share
		if v.Stake > validators[topIdx].Stake {
			topIdx = i
		}
	}
	records[topIdx].Amount += mintedPoints - distributed
	return records
}

// RewardAssetInvariant checks that records sums exactly to mintedPoints,
// the invariant the five-node soak scenario asserts via
// reward_asset_invariant_status.ok (spec.md §8 scenario #1).
func RewardAssetInvariant(records []MintedRecord, mintedPoints int64) RewardAssetInvariantStatus {
	var sum int64
	for _, r := range records {
		sum += r.Amount
	}
	if sum != mintedPoints {
		return RewardAssetInvariantStatus{
			Ok:     false,
			Detail: fmt.Sprintf("minted_records sum %d does not match minted_points %d", sum, mintedPoints),
		}
	}
	return RewardAssetInvariantStatus{Ok: true}
}

// WriteEpochReport marshals report and writes it atomically to
// dir/report/epoch-<epochIndex>.json.
func WriteEpochReport(dir string, epochIndex uint64, report EpochReport) error {
	reportDir := filepath.Join(dir, reportDirName)
	if err := os.MkdirAll(reportDir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(reportDir, fmt.Sprintf("epoch-%d.json", epochIndex))
	b, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
