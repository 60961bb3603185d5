package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"sync"
)

// translator state machine: AwaitSetup -> AwaitV1Subscribe -> Operational -> Closing.
type translatorState int

const (
	stateAwaitSetup translatorState = iota
	stateAwaitV1Subscribe
	stateOperational
	stateClosing
)

// diff1Target is the Bitcoin pool-difficulty-1 target: the share target
// when difficulty == 1. A downstream target for difficulty d is
// floor(diff1Target / d). The teacher's own diff1Target symbol only ever
// appears in its test files, never defined in non-test code, so this is
// defined fresh here rather than assumed to exist.
var diff1Target = mustParseHexBig("00000000ffff0000000000000000000000000000000000000000000000000000")

func mustParseHexBig(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 16)
	if !ok {
		panic("invalid diff1 target literal")
	}
	return n
}

// targetFromDifficulty implements target = floor(diff1Target / difficulty),
// returned as a little-endian uint256Bytes per the V2 Target/MaxTarget wire
// encoding.
func targetFromDifficulty(difficulty float64) uint256Bytes {
	var target *big.Int
	diff := new(big.Rat).SetFloat64(difficulty) // exact; nil for NaN/Inf
	if difficulty <= 0 || diff == nil {
		target = new(big.Int).Set(diff1Target)
	} else {
		num := new(big.Int).Mul(diff1Target, diff.Denom())
		target = new(big.Int).Quo(num, diff.Num())
	}
	return bigToUint256LE(target)
}

// bigToUint256LE renders a big.Int into the 32-byte little-endian layout
// the V2 Target/MaxTarget/PrevHash fields use on the wire.
func bigToUint256LE(v *big.Int) uint256Bytes {
	var out uint256Bytes
	b := v.Bytes() // big-endian, minimal length
	for i, bi := range b {
		out[len(b)-1-i] = bi
	}
	return out
}

// channelState holds per-channel job and extranonce bookkeeping for one V2
// standard channel. The session opens standard channels only; extended and
// group channels are not translated.
type channelState struct {
	channelID       uint32
	v1User          string
	extraNonce1     []byte
	extraNonce2Size int
	difficulty      float64
	versionMask     uint32

	activeJobID uint32
	jobs        map[uint32]translatedJob

	nextJobID  uint32
	nextSeqNum uint32

	mu sync.Mutex
}

type translatedJob struct {
	v1JobID   string
	future    bool
	extranonce2 []byte
}

func newChannelState(channelID uint32, v1User string, extraNonce1 []byte, extraNonce2Size int) *channelState {
	return &channelState{
		channelID:       channelID,
		v1User:          v1User,
		extraNonce1:     extraNonce1,
		extraNonce2Size: extraNonce2Size,
		jobs:            make(map[uint32]translatedJob),
	}
}

func (cs *channelState) allocJobID() uint32 {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.nextJobID++
	return cs.nextJobID
}

// freshExtraNonce2 draws a new miner-rolled extranonce2 value sized to the
// V1 subscription's extranonce2_size. The translator, not the V2 device,
// owns this value: standard-channel devices never see extranonce2, they
// only roll nonce/ntime/version (spec.md §4.5).
func (cs *channelState) freshExtraNonce2() ([]byte, error) {
	b := make([]byte, cs.extraNonce2Size)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("%w: generate extranonce2: %v", ErrTranslationLogic, err)
	}
	return b, nil
}

// storeJob records a freshly allocated job and, on a clean-jobs boundary,
// invalidates every job that isn't the new active one (I6).
func (cs *channelState) storeJob(v2JobID uint32, j translatedJob, cleanJobs bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.jobs[v2JobID] = j
	if cleanJobs {
		for id := range cs.jobs {
			if id != v2JobID {
				delete(cs.jobs, id)
			}
		}
		cs.activeJobID = v2JobID
	}
}

// activateJob is called when SetNewPrevHash arrives referencing a
// previously-future job id; it becomes the sole active job (I6).
func (cs *channelState) activateJob(v2JobID uint32) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for id := range cs.jobs {
		if id != v2JobID {
			delete(cs.jobs, id)
		}
	}
	cs.activeJobID = v2JobID
}

func (cs *channelState) lookupJob(v2JobID uint32) (translatedJob, bool, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	j, ok := cs.jobs[v2JobID]
	isActive := ok && v2JobID == cs.activeJobID
	return j, ok, isActive
}

func (cs *channelState) nextSubmitSeqNum() uint32 {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	n := cs.nextSeqNum
	cs.nextSeqNum++
	return n
}

// translateNotify converts a decoded mining.notify into NewExtendedMiningJob
// plus, when clean_jobs is set, a SetNewPrevHash (spec.md §4.5). A notify
// without clean_jobs yields no SetNewPrevHash even if its prevhash differs
// from the previous one; prevhash values are not compared. Each call
// allocates a fresh V2 job_id and
// a fresh extranonce2, since the extranonce2 is baked into the coinbase
// prefix/suffix split the device is shown.
func translateNotify(cs *channelState, np v1NotifyParams, versionRollingAllowed bool) (v2JobID uint32, job msgNewExtendedMiningJobT, setPrevHash *msgSetNewPrevHashT, extranonce2 []byte, err error) {
	nbitsBytes, err := hexDecodeFixed(np.NBits, 4)
	if err != nil {
		return 0, msgNewExtendedMiningJobT{}, nil, nil, fmt.Errorf("%w: mining.notify nbits: %v", ErrProtocolViolation, err)
	}
	ntimeBytes, err := hexDecodeFixed(np.NTime, 4)
	if err != nil {
		return 0, msgNewExtendedMiningJobT{}, nil, nil, fmt.Errorf("%w: mining.notify ntime: %v", ErrProtocolViolation, err)
	}
	versionBytes, err := hexDecodeFixed(np.Version, 4)
	if err != nil {
		return 0, msgNewExtendedMiningJobT{}, nil, nil, fmt.Errorf("%w: mining.notify version: %v", ErrProtocolViolation, err)
	}
	coinb1, err := hex.DecodeString(np.Coinb1)
	if err != nil {
		return 0, msgNewExtendedMiningJobT{}, nil, nil, fmt.Errorf("%w: mining.notify coinb1: %v", ErrProtocolViolation, err)
	}
	coinb2, err := hex.DecodeString(np.Coinb2)
	if err != nil {
		return 0, msgNewExtendedMiningJobT{}, nil, nil, fmt.Errorf("%w: mining.notify coinb2: %v", ErrProtocolViolation, err)
	}

	merklePath := make([]uint256Bytes, 0, len(np.MerkleBranches))
	for _, m := range np.MerkleBranches {
		b, err := hexDecodeFixed(m, 32)
		if err != nil {
			return 0, msgNewExtendedMiningJobT{}, nil, nil, fmt.Errorf("%w: mining.notify merkle branch: %v", ErrProtocolViolation, err)
		}
		var arr uint256Bytes
		copy(arr[:], b)
		merklePath = append(merklePath, arr)
	}

	extranonce2, err = cs.freshExtraNonce2()
	if err != nil {
		return 0, msgNewExtendedMiningJobT{}, nil, nil, err
	}

	v2ID := cs.allocJobID()
	prefix := append(append([]byte{}, coinb1...), cs.extraNonce1...)
	prefix = append(prefix, extranonce2...)

	j := translatedJob{v1JobID: np.JobID, future: !np.CleanJobs, extranonce2: extranonce2}
	cs.storeJob(v2ID, j, np.CleanJobs)

	job = msgNewExtendedMiningJobT{
		ChannelID:             cs.channelID,
		JobID:                 v2ID,
		FutureJob:             !np.CleanJobs,
		Version:               beU32(versionBytes),
		VersionRollingAllowed: versionRollingAllowed,
		MerklePath:            merklePath,
		CoinbaseTxPrefix:      prefix,
		CoinbaseTxSuffix:      coinb2,
	}

	var sph *msgSetNewPrevHashT
	if np.CleanJobs {
		prevHashBytes, err := decodeLEHex32(np.PrevHash)
		if err != nil {
			return 0, msgNewExtendedMiningJobT{}, nil, nil, fmt.Errorf("%w: mining.notify prevhash: %v", ErrProtocolViolation, err)
		}
		var ph uint256Bytes
		copy(ph[:], prevHashBytes)
		sph = &msgSetNewPrevHashT{
			ChannelID: cs.channelID,
			JobID:     v2ID,
			PrevHash:  ph,
			MinNtime:  beU32(ntimeBytes),
			Nbits:     beU32(nbitsBytes),
		}
		cs.activateJob(v2ID)
	}
	return v2ID, job, sph, extranonce2, nil
}

// buildV1Submit converts a SubmitSharesStandard into the V1 mining.submit
// call params, using the extranonce2 that was committed into the job's
// coinbase when it was translated (spec.md §4.6). version_bits is appended
// only when the channel negotiated a non-zero rolling mask.
func buildV1Submit(cs *channelState, user string, m msgSubmitSharesStandardT) (v1Request, error) {
	j, ok, active := cs.lookupJob(m.JobID)
	if !ok || !active {
		return v1Request{}, fmt.Errorf("%w: stale-share", ErrTranslationLogic)
	}
	ntimeHex := hex.EncodeToString(u32BE(m.Ntime))
	nonceHex := hex.EncodeToString(u32BE(m.Nonce))
	en2Hex := hex.EncodeToString(j.extranonce2)

	params := []any{user, j.v1JobID, en2Hex, ntimeHex, nonceHex}
	if cs.versionMask != 0 {
		params = append(params, hex.EncodeToString(u32BE(m.Version&cs.versionMask)))
	}
	return v1Request{Method: v1MethodSubmit, Params: params}, nil
}

func u32BE(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

func beU32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func hexDecodeFixed(s string, n int) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b) != n {
		return nil, fmt.Errorf("expected %d bytes, got %d", n, len(b))
	}
	return b, nil
}

// decodeLEHex32 decodes a 32-byte hex string as used for stratum V1
// prevhash fields (word-swapped relative to block-header byte order) into
// the plain byte order the V2 PrevHash field is built from.
func decodeLEHex32(s string) ([]byte, error) {
	b, err := hexDecodeFixed(s, 32)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 32)
	for i := 0; i < 8; i++ {
		word := b[i*4 : i*4+4]
		copy(out[i*4:i*4+4], []byte{word[3], word[2], word[1], word[0]})
	}
	return out, nil
}

// clampVersionRollingMask resolves Open Question (c): when the V2 device's
// requested rolling mask has bits the upstream V1 pool's mining.configure
// response does not grant, the tighter (upstream) mask wins rather than
// erroring the channel closed.
func clampVersionRollingMask(requested, upstreamGranted uint32) uint32 {
	return requested & upstreamGranted
}
