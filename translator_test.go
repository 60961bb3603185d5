package main

import (
	"encoding/hex"
	"math/big"
	"testing"
)

// uint256LEToBig undoes bigToUint256LE for assertions.
func uint256LEToBig(u uint256Bytes) *big.Int {
	b := make([]byte, 32)
	for i := range u {
		b[31-i] = u[i]
	}
	return new(big.Int).SetBytes(b)
}

func TestTargetFromDifficultyMonotonic(t *testing.T) {
	low := targetFromDifficulty(1)
	high := targetFromDifficulty(1000)
	// Higher difficulty means a smaller (harder) target.
	if uint256LEToBig(low).Cmp(uint256LEToBig(high)) <= 0 {
		t.Fatalf("expected target(diff=1) > target(diff=1000)")
	}
}

func TestTargetFromDifficultyNonPositiveFallsBackToDiff1(t *testing.T) {
	target := targetFromDifficulty(0)
	if uint256LEToBig(target).Cmp(diff1Target) != 0 {
		t.Fatalf("expected diff<=0 to fall back to diff1Target")
	}
}

func TestTranslateNotifyBuildsExtendedJob(t *testing.T) {
	cs := newChannelState(1, "worker.1", []byte{0xaa, 0xbb}, 4)

	np := v1NotifyParams{
		JobID:    "job-1",
		PrevHash: hex.EncodeToString(make([]byte, 32)),
		Coinb1:   "01000000",
		Coinb2:   "ffffffff",
		MerkleBranches: []string{
			hex.EncodeToString(make([]byte, 32)),
		},
		Version:   "20000000",
		NBits:     "1d00ffff",
		NTime:     "5f5e1000",
		CleanJobs: true,
	}

	jobID, job, prevHash, extranonce2, err := translateNotify(cs, np, true)
	if err != nil {
		t.Fatalf("translateNotify error: %v", err)
	}
	if jobID == 0 {
		t.Fatalf("expected a nonzero job id")
	}
	if job.ChannelID != cs.channelID {
		t.Fatalf("job.ChannelID = %d, want %d", job.ChannelID, cs.channelID)
	}
	if len(extranonce2) != cs.extraNonce2Size {
		t.Fatalf("extranonce2 len = %d, want %d", len(extranonce2), cs.extraNonce2Size)
	}
	if prevHash == nil {
		t.Fatalf("expected SetNewPrevHash on a clean_jobs notify")
	}
	if prevHash.JobID != jobID {
		t.Fatalf("prevHash.JobID = %d, want %d", prevHash.JobID, jobID)
	}

	j, ok, active := cs.lookupJob(jobID)
	if !ok || !active {
		t.Fatalf("expected job %d to be stored and active", jobID)
	}
	if j.v1JobID != "job-1" {
		t.Fatalf("v1JobID = %q, want job-1", j.v1JobID)
	}
}

func TestBuildV1SubmitRejectsStaleJob(t *testing.T) {
	cs := newChannelState(1, "worker.1", []byte{0xaa}, 4)
	m := msgSubmitSharesStandardT{ChannelID: 1, JobID: 999, Nonce: 1, Ntime: 1, Version: 1}
	if _, err := buildV1Submit(cs, "worker.1", m); err == nil {
		t.Fatalf("expected error for a job id never stored")
	}
}

func TestBuildV1SubmitIncludesVersionBitsWhenMaskSet(t *testing.T) {
	cs := newChannelState(1, "worker.1", []byte{0xaa}, 4)
	cs.storeJob(7, translatedJob{v1JobID: "job-7", extranonce2: []byte{1, 2, 3, 4}}, true)
	cs.versionMask = 0x1fffe000

	m := msgSubmitSharesStandardT{ChannelID: 1, JobID: 7, Nonce: 42, Ntime: 100, Version: 0xffffffff}
	req, err := buildV1Submit(cs, "worker.1", m)
	if err != nil {
		t.Fatalf("buildV1Submit error: %v", err)
	}
	if len(req.Params) != 6 {
		t.Fatalf("expected 6 params (with version_bits), got %d: %v", len(req.Params), req.Params)
	}
}

func TestClampVersionRollingMask(t *testing.T) {
	got := clampVersionRollingMask(0xffffffff, 0x1fffe000)
	if got != 0x1fffe000 {
		t.Fatalf("got %x, want %x", got, 0x1fffe000)
	}
}
